package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/translator-sri/trapi-acceptor/exitcodes"
	"github.com/translator-sri/trapi-acceptor/report"
	"github.com/translator-sri/trapi-acceptor/worker"
)

// Acceptor implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &Acceptor{}

// Acceptor is the run-once service driver: it launches one test batch
// through the harness, polls the run to completion, prints the runs table
// and triggers shutdown with the appropriate exit code.
type Acceptor struct {
	ctx     context.Context
	config  *Config
	version string
	store   report.Store
	harness *TestHarness

	running atomic.Bool
	done    chan struct{}

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Acceptor, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating acceptor with config",
		"command", config.Command,
		"resultsDir", config.ResultsDir,
		"databaseConfigured", config.DatabaseURL != "",
		"defaultTimeout", config.DefaultTimeout)

	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}

	store, err := config.NewStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open report store: %w", err)
	}
	h, err := NewTestHarness(ctx, config, store, NewRunRegistry(config.Log))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create test harness: %w", err)
	}

	return &Acceptor{
		ctx:              ctx,
		config:           config,
		version:          version,
		store:            store,
		harness:          h,
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Harness exposes the coordinator, mainly for tests.
func (a *Acceptor) Harness() *TestHarness {
	return a.harness
}

// Start launches the configured test batch and blocks until it completes,
// is terminated or the context is canceled.
// Start implements the cliapp.Lifecycle interface.
func (a *Acceptor) Start(ctx context.Context) error {
	// Panics are runtime errors, exit code 2.
	defer func() {
		if r := recover(); r != nil {
			a.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	a.ctx = ctx
	a.done = make(chan struct{})
	a.running.Store(true)
	a.config.Log.Info("Starting trapi-acceptor", "store", a.store.Name(), "command", a.config.Command)

	runID, err := a.harness.Run(ctx, a.config.Run)
	if err != nil {
		a.config.Log.Error("Failed to launch test run", "error", err)
		return err
	}

	err = a.pollUntilDone(ctx, runID)
	a.printRunsTable(ctx)
	if err != nil {
		return err
	}

	a.config.Log.Info("Test run completed, exiting", "run", runID)
	go func() {
		a.shutdownCallback(nil)
	}()
	return nil // Success (exit code 0)
}

// pollUntilDone watches one run until it reports complete. Timeout
// enforcement happens inside Status; this loop only observes.
func (a *Acceptor) pollUntilDone(ctx context.Context, runID string) error {
	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			percent := a.harness.Status(ctx, runID)
			a.config.Log.Info("Test run progress", "run", runID, "percent", fmt.Sprintf("%.1f", percent))
			if percent >= 100 {
				return a.runOutcome(runID)
			}
			if percent == StatusUnknownRun {
				return NewRuntimeError(fmt.Errorf("test run %s disappeared from the registry", runID))
			}
		case <-a.done:
			a.config.Log.Debug("Done signal received, stopping run polling")
			return NewTestFailureError(fmt.Sprintf("test run %s interrupted before completion", runID))
		case <-ctx.Done():
			a.config.Log.Debug("Context canceled, stopping run polling")
			a.running.Store(false)
			return NewTestFailureError(fmt.Sprintf("test run %s interrupted before completion", runID))
		}
	}
}

// runOutcome maps the finished worker's state onto the process exit
// discipline: terminated or failing batches exit 1, clean ones 0.
func (a *Acceptor) runOutcome(runID string) error {
	state, ok := a.harness.Registry().Get(runID)
	if !ok || state.handle == nil {
		return nil
	}
	switch state.handle.Status() {
	case worker.StatusNotRunning:
		return NewTestFailureError(fmt.Sprintf("test run %s was terminated before completion", runID))
	case worker.StatusFailed:
		return NewTestFailureError(fmt.Sprintf("test run %s worker failed to run", runID))
	}
	if warning := state.handle.Warning(); warning != "" {
		a.config.Log.Warn("Test run completed with failures", "run", runID, "warning", warning)
		return NewTestFailureError(warning)
	}
	return nil
}

// printRunsTable prints the state of every known run to the console.
func (a *Acceptor) printRunsTable(ctx context.Context) {
	var rows []RunTableRow
	for _, runID := range a.harness.Registry().IDs() {
		percent := a.harness.Status(ctx, runID)
		status := "running"
		switch {
		case percent >= 100:
			status = "completed"
		case percent == StatusUnknownRun:
			status = "unknown"
		}
		rows = append(rows, RunTableRow{RunID: runID, Percent: percent, Status: status})
	}
	RenderRunsTable(os.Stdout, fmt.Sprintf("TRAPI Acceptance Test Runs (%s store)", a.store.Name()), rows)
}

// Stop stops the trapi-acceptor service, terminating any active workers.
// Stop implements the cliapp.Lifecycle interface.
func (a *Acceptor) Stop(ctx context.Context) error {
	a.config.Log.Info("Stopping trapi-acceptor")

	if !a.running.Load() {
		a.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	a.running.Store(false)

	for _, runID := range a.harness.Registry().IDs() {
		if state, ok := a.harness.Registry().Get(runID); ok && state.handle != nil {
			state.handle.Terminate()
		}
	}
	close(a.done)
	a.store.Close()

	a.config.Log.Info("trapi-acceptor stopped successfully")
	return nil
}

// Stopped returns true if the trapi-acceptor service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (a *Acceptor) Stopped() bool {
	return !a.running.Load()
}
