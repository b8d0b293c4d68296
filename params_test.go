package harness

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var runIDPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}_[0-9a-f]{8}$`)

func TestNewRunID(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	assert.Regexp(t, runIDPattern, a)
	assert.Regexp(t, runIDPattern, b)
	assert.NotEqual(t, a, b, "same-second launches must still mint unique identifiers")
}

func TestCommandArgs(t *testing.T) {
	t.Run("minimal", func(t *testing.T) {
		args := RunParameters{}.commandArgs("run-a", nil)
		assert.Equal(t, []string{"--test_run_id", "run-a"}, args)
	})

	t.Run("kp only injects the skip sentinel", func(t *testing.T) {
		args := RunParameters{KPID: "infores:molepro"}.commandArgs("run-a", nil)
		assert.Equal(t, []string{
			"--test_run_id", "run-a",
			"--kp_id", "infores:molepro",
			"--ara_id", SkipARA,
		}, args)
	})

	t.Run("explicit ara suppresses the sentinel", func(t *testing.T) {
		args := RunParameters{KPID: "infores:molepro", ARAID: "infores:arax"}.commandArgs("run-a", nil)
		assert.Contains(t, args, "infores:arax")
		assert.NotContains(t, args, SkipARA)
	})

	t.Run("full parameter set", func(t *testing.T) {
		p := RunParameters{
			KPID:           "infores:molepro",
			ARAID:          "infores:arax",
			XMaturity:      "testing",
			TRAPIVersion:   "1.4.0",
			BiolinkVersion: "3.2.1",
			OneOnly:        true,
			MaxEdges:       10,
			LogLevel:       "DEBUG",
		}
		args := p.commandArgs("run-a", []string{"--base"})
		assert.Equal(t, []string{
			"--base",
			"--test_run_id", "run-a",
			"--kp_id", "infores:molepro",
			"--ara_id", "infores:arax",
			"--x_maturity", "testing",
			"--trapi_version", "1.4.0",
			"--biolink_version", "3.2.1",
			"--one",
			"--max_edges", "10",
			"--log", "DEBUG",
		}, args)
	})
}
