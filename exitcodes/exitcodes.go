// Package exitcodes defines the standard exit codes used by trapi-acceptor.
package exitcodes

// Exit code constants used by trapi-acceptor
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when the test run completes cleanly
// * TestFailure (1): Used when the batch reports test failures or is terminated
// * RuntimeErr (2): Used for runtime errors such as panics, bad configuration or an unreachable report store
const (
	Success     = 0 // Test run completed cleanly
	TestFailure = 1 // Test failures or terminated runs
	RuntimeErr  = 2 // Runtime errors
)
