package worker

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/acarl005/stripansi"
)

// Trailing percent-completion marker emitted by the batch tool on its
// per-case progress lines, e.g. "... PASSED  [ 45%]".
var progressMarkerPattern = regexp.MustCompile(`\[\s*(\d+)%]\s*$`)

// ParseProgress extracts the percent-completion marker from one line of
// worker output. The boolean result is false for lines without a marker;
// absence of markers never means the run failed.
func ParseProgress(line string) (float64, bool) {
	clean := strings.TrimSpace(stripansi.Strip(line))
	m := progressMarkerPattern.FindStringSubmatch(clean)
	if m == nil {
		return 0, false
	}
	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil || percent < 0 || percent > 100 {
		return 0, false
	}
	return percent, true
}

// pumpOutput feeds stdout lines into the handle's drain buffer, mirroring
// them to the worker log file when one was requested. When the buffer is
// full, lines are dropped rather than stalling the child's stdout pipe.
func (h *Handle) pumpOutput(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if h.logFile != nil {
			_, _ = fmt.Fprintln(h.logFile, line)
		}
		select {
		case h.lines <- line:
		default:
			h.log.Debug("Worker output buffer full; dropping line")
		}
	}
	if err := scanner.Err(); err != nil {
		h.log.Debug("Worker stdout closed with error", "err", err)
	}
}
