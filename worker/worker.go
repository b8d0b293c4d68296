// Package worker supervises a single test batch running as an isolated OS
// process. A Handle owns the channels used to learn the child's process id
// and final outcome, and exposes non-blocking status and output polling.
// Timeout enforcement belongs to the caller holding the Handle, not here.
package worker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Status represents the lifecycle state of a supervised worker process.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNotRunning Status = "not_running"
)

const (
	// DefaultTimeout bounds a test batch when the caller does not override it.
	DefaultTimeout = 2 * time.Minute

	// Startup acknowledgment: how many times Launch re-polls for the child's
	// process id before giving up and killing any partially-started process.
	startupRetries      = 10
	startupPollInterval = 500 * time.Millisecond

	// Buffered stdout lines retained between GetOutput drains. Lines beyond
	// this are dropped rather than stalling the child's stdout pipe.
	outputBufferLines = 4096
)

// LaunchError reports a child process that never started or never
// acknowledged its process id within the startup grace period.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("worker launch failed: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *LaunchError) Unwrap() error {
	return e.Err
}

// IsLaunchError checks if the error is or wraps a LaunchError
func IsLaunchError(err error) bool {
	var launchErr *LaunchError
	return err != nil && errors.As(err, &launchErr)
}

// Handle wraps one spawned test-batch process. A Handle is single-use:
// Launch may be called once, after which Status/GetOutput/Terminate are safe
// to call concurrently and repeatedly across the life of the run.
type Handle struct {
	log log.Logger

	mu         sync.Mutex
	status     Status
	pid        int
	exitCode   int
	warning    string
	terminated bool

	cmd     *exec.Cmd
	pidCh   chan int
	lines   chan string
	done    chan struct{}
	logFile *os.File
}

// NewHandle creates an unlaunched worker handle.
func NewHandle(logger log.Logger) *Handle {
	return &Handle{
		log:    logger,
		status: StatusNotStarted,
		pidCh:  make(chan int, 1),
		lines:  make(chan string, outputBufferLines),
		done:   make(chan struct{}),
	}
}

// Launch starts the command as an isolated child process (its own process
// group) and blocks only for the bounded startup-acknowledgment wait. On
// success it returns the child's non-zero process id. On failure the handle
// transitions to StatusFailed, any partially-started process is killed, and
// the returned error wraps a LaunchError with process id 0 implied.
//
// logFilePath, when non-empty, receives a copy of the child's stdout and all
// of its stderr for post-mortem inspection.
func (h *Handle) Launch(name string, args []string, logFilePath string) (int, error) {
	h.mu.Lock()
	if h.status != StatusNotStarted {
		h.mu.Unlock()
		return 0, fmt.Errorf("worker handle already launched (status %s)", h.status)
	}
	h.mu.Unlock()

	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			h.setStatus(StatusFailed)
			return 0, &LaunchError{Err: fmt.Errorf("cannot open worker log file %s: %w", logFilePath, err)}
		}
		h.logFile = f
		cmd.Stderr = f
	} else {
		cmd.Stderr = io.Discard
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.closeLogFile()
		h.setStatus(StatusFailed)
		return 0, &LaunchError{Err: fmt.Errorf("cannot attach stdout pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		h.closeLogFile()
		h.setStatus(StatusFailed)
		return 0, &LaunchError{Err: fmt.Errorf("cannot start %q: %w", name, err)}
	}
	h.cmd = cmd

	go h.supervise(stdout)

	// Bounded startup grace period: wait for the child to report its process
	// id back over the handle's channel, a fixed number of retries.
	for try := 0; try < startupRetries; try++ {
		select {
		case pid := <-h.pidCh:
			h.mu.Lock()
			h.pid = pid
			h.status = StatusRunning
			h.mu.Unlock()
			h.log.Debug("Worker process started", "pid", pid, "command", name)
			return pid, nil
		case <-time.After(startupPollInterval):
			h.log.Debug("Worker process id not available yet", "try", try+1)
		}
	}

	// The child never acknowledged: kill whatever was started.
	h.mu.Lock()
	h.terminated = true
	h.status = StatusFailed
	h.mu.Unlock()
	h.kill(cmd.Process.Pid)
	return 0, &LaunchError{Err: errors.New("worker process did not report a process id within the startup grace period")}
}

// supervise reports the child's pid, pumps stdout into the line buffer and
// reaps the process once its output stream closes.
func (h *Handle) supervise(stdout io.ReadCloser) {
	h.pidCh <- h.cmd.Process.Pid

	h.pumpOutput(stdout)

	err := h.cmd.Wait()
	h.closeLogFile()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminated {
		// Terminate already transitioned the handle to StatusNotRunning.
		close(h.lines)
		close(h.done)
		return
	}
	h.status = StatusCompleted
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// A child that exits non-zero still completed its run; record the
			// outcome as a warning rather than a channel failure.
			h.exitCode = exitErr.ExitCode()
			h.warning = fmt.Sprintf("worker exited with non-zero return code %d", h.exitCode)
		} else {
			h.status = StatusNotRunning
			h.warning = fmt.Sprintf("worker wait failed: %v", err)
		}
	}
	close(h.lines)
	close(h.done)
}

// Status reports the last known state of the worker, without blocking.
// A launched worker defaults to StatusRunning until it has been reaped
// or terminated.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// GetOutput drains stdout lines that are ready within pollTimeout. It returns
// an empty slice, not an error, when nothing is available yet. Each call
// yields only lines not returned by a previous call; the underlying stream is
// never replayed.
func (h *Handle) GetOutput(pollTimeout time.Duration) []string {
	var out []string
	timer := time.NewTimer(pollTimeout)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-h.lines:
			if !ok {
				return out
			}
			out = append(out, line)
		case <-timer.C:
			return out
		}
	}
}

// Terminate forcibly stops the child process group. It is idempotent and safe
// to call on a handle that already completed, failed or was never launched.
// Artifacts the child already flushed elsewhere are left as they are.
func (h *Handle) Terminate() {
	h.mu.Lock()
	if h.terminated || h.status == StatusCompleted || h.status == StatusFailed || h.status == StatusNotStarted {
		h.mu.Unlock()
		return
	}
	h.terminated = true
	h.status = StatusNotRunning
	pid := h.pid
	h.mu.Unlock()

	h.log.Debug("Terminating worker process", "pid", pid)
	h.kill(pid)
}

// PID returns the child's process id, or 0 if the launch failed or has not
// happened yet.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// ExitCode returns the child's exit code; only meaningful once Status
// reports StatusCompleted.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Warning returns the completed-with-warning note for a child that exited
// non-zero, or an empty string.
func (h *Handle) Warning() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.warning
}

// Done exposes a channel closed once the child has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) setStatus(s Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

// kill signals the whole process group so grandchildren spawned by shell
// wrappers die with the worker.
func (h *Handle) kill(pid int) {
	if pid <= 0 {
		return
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		// Fall back to the single process when the group is already gone.
		if h.cmd != nil && h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
	}
}

func (h *Handle) closeLogFile() {
	if h.logFile != nil {
		_ = h.logFile.Close()
	}
}
