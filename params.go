package harness

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// SkipARA is the sentinel autonomous-relay-agent identifier injected when a
// run targets knowledge providers only, telling the batch tool to skip the
// relay leg entirely.
const SkipARA = "SKIP"

// RunParameters selects what a test run exercises and how. The zero value
// runs everything with defaults.
type RunParameters struct {
	// TestRunID pins the run identifier. Leave empty to mint a fresh one.
	TestRunID string

	// KPID and ARAID narrow the run to matching resources; comma-separated
	// lists. A KP-only run gets the SKIP relay sentinel injected.
	KPID  string
	ARAID string

	XMaturity      string
	TRAPIVersion   string
	BiolinkVersion string

	// OneOnly runs a single test case per edge; MaxEdges caps the number of
	// edges tested per resource. Both are smoke-test accelerators.
	OneOnly  bool
	MaxEdges int

	// LogLevel is forwarded to the batch tool.
	LogLevel string

	// Timeout bounds the run; zero selects the coordinator default.
	Timeout time.Duration
}

// commandArgs renders the parameters as the batch tool's command line,
// appended after any configured base arguments.
func (p RunParameters) commandArgs(runID string, base []string) []string {
	args := append([]string{}, base...)
	args = append(args, "--test_run_id", runID)

	araID := p.ARAID
	if p.KPID != "" && araID == "" {
		araID = SkipARA
	}
	if p.KPID != "" {
		args = append(args, "--kp_id", p.KPID)
	}
	if araID != "" {
		args = append(args, "--ara_id", araID)
	}
	if p.XMaturity != "" {
		args = append(args, "--x_maturity", p.XMaturity)
	}
	if p.TRAPIVersion != "" {
		args = append(args, "--trapi_version", p.TRAPIVersion)
	}
	if p.BiolinkVersion != "" {
		args = append(args, "--biolink_version", p.BiolinkVersion)
	}
	if p.OneOnly {
		args = append(args, "--one")
	}
	if p.MaxEdges > 0 {
		args = append(args, "--max_edges", strconv.Itoa(p.MaxEdges))
	}
	if p.LogLevel != "" {
		args = append(args, "--log", p.LogLevel)
	}
	return args
}

// NewRunID mints a sortable run identifier: a second-resolution UTC timestamp
// for lexical ordering plus a short uuid so same-second launches stay unique.
func NewRunID() string {
	return time.Now().UTC().Format("2006-01-02_15-04-05") + "_" + uuid.NewString()[:8]
}
