// Package harness coordinates TRAPI acceptance test runs: it launches each
// run as a supervised worker process, tracks completion progress in an
// injectable run registry, and reads results back from the durable report
// store. The harness is the only writer of registry state; API layers built
// on top hold run identifiers only.
package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/translator-sri/trapi-acceptor/metrics"
	"github.com/translator-sri/trapi-acceptor/report"
	"github.com/translator-sri/trapi-acceptor/worker"
)

const (
	// StatusUnknownRun is the Status result for a run identifier that is
	// neither registered nor present in the durable catalog.
	StatusUnknownRun = float64(-1)

	// Progress parsed from worker output is damped and capped below this
	// ceiling; only evidence of actual completion reports 100.
	progressCeiling = 95.0
	progressDamping = 0.95

	// How long one Status call waits for fresh worker output.
	outputPollTimeout = time.Second
)

// TestHarness is the run coordinator. All lifecycle operations are keyed by
// run identifier and safe for concurrent use.
type TestHarness struct {
	log      log.Logger
	store    report.Store
	registry *RunRegistry
	tracer   trace.Tracer

	command        string
	baseArgs       []string
	logDir         string
	defaultTimeout time.Duration
}

// NewTestHarness builds a coordinator over the given store and registry,
// seeding the registry with every run already present in the durable catalog
// so completed runs survive a service restart.
func NewTestHarness(ctx context.Context, cfg *Config, store report.Store, registry *RunRegistry) (*TestHarness, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("a batch command is required")
	}
	known, err := store.GetAvailableReports(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot seed run registry from the %s report store: %w", store.Name(), err)
	}
	for _, runID := range known {
		registry.Seed(runID)
	}
	cfg.Log.Info("Test harness ready", "store", store.Name(), "known_runs", len(known), "command", cfg.Command)

	return &TestHarness{
		log:            cfg.Log,
		store:          store,
		registry:       registry,
		tracer:         otel.Tracer("trapi-acceptor/harness"),
		command:        cfg.Command,
		baseArgs:       cfg.CommandArgs,
		logDir:         cfg.LogDir,
		defaultTimeout: cfg.DefaultTimeout,
	}, nil
}

// Registry exposes the run registry, mainly for drivers and tests.
func (h *TestHarness) Registry() *RunRegistry {
	return h.registry
}

// Store exposes the report store backing this harness.
func (h *TestHarness) Store() report.Store {
	return h.store
}

// Run launches a test batch as a background worker process and registers it.
// It returns as soon as the worker acknowledged its process id; completion is
// observed through Status. Launching with the identifier of a run that is
// still active is a no-op returning the same identifier; reusing the
// identifier of a completed run is rejected before any worker is spawned.
func (h *TestHarness) Run(ctx context.Context, params RunParameters) (string, error) {
	_, span := h.tracer.Start(ctx, "test-run.launch")
	defer span.End()

	runID := params.TestRunID
	if runID != "" {
		if state, ok := h.registry.Get(runID); ok {
			if state.Completed() {
				return "", fmt.Errorf("test run %s already completed; delete it before reusing its identifier", runID)
			}
			h.log.Warn("Test run is already active; launch request ignored", "run", runID)
			return runID, nil
		}
	} else {
		runID = NewRunID()
	}

	var logPath string
	if h.logDir != "" {
		if err := os.MkdirAll(h.logDir, 0o755); err != nil {
			return "", NewRuntimeError(fmt.Errorf("cannot create worker log directory: %w", err))
		}
		logPath = filepath.Join(h.logDir, runID+".log")
	}

	args := params.commandArgs(runID, h.baseArgs)
	handle := worker.NewHandle(h.log.New("run", runID))
	pid, err := handle.Launch(h.command, args, logPath)
	if err != nil {
		metrics.RecordErrorDetails("worker_launch", err)
		return "", fmt.Errorf("cannot launch test run %s: %w", runID, err)
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = h.defaultTimeout
	}
	if timeout <= 0 {
		timeout = worker.DefaultTimeout
	}
	state := &RunState{
		runID:      runID,
		command:    append([]string{h.command}, args...),
		handle:     handle,
		timeout:    timeout,
		launchedAt: time.Now(),
	}
	if err := h.registry.Register(state); err != nil {
		handle.Terminate()
		return "", err
	}
	metrics.RecordRunLaunched(runID)
	h.log.Info("Test run launched", "run", runID, "pid", pid, "timeout", timeout)
	return runID, nil
}

// Status reports the completion percentage of a run: 100 once its summary
// document is durably saved (or the worker is done), a damped estimate parsed
// from worker progress output while it is underway, and StatusUnknownRun for
// identifiers known to neither the registry nor the catalog. The catalog
// only lists summary-bearing runs, so the registry-miss path and the
// registered path judge completion by the same criterion. The reported
// percentage never regresses for a given run.
func (h *TestHarness) Status(ctx context.Context, runID string) float64 {
	state, ok := h.registry.Get(runID)
	if !ok {
		if h.reportAvailable(ctx, runID) {
			// Completed before a restart; rediscover it.
			h.registry.Seed(runID)
			return 100
		}
		return StatusUnknownRun
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.completed {
		return 100
	}

	done, err := h.store.GetTestReport(runID).DocumentExists(ctx, report.SummaryDocumentKey)
	if err != nil {
		h.log.Warn("Cannot check run summary; reporting cached progress", "run", runID, "err", err)
	}
	if done {
		state.percent = 100
		state.completed = true
		metrics.RecordRunProgress(runID, 100)
		return 100
	}
	if state.handle == nil {
		return state.percent
	}

	if state.percent < progressCeiling {
		if state.timeout > 0 && time.Since(state.launchedAt) > state.timeout {
			h.log.Warn("Test run exceeded its timeout; terminating worker",
				"run", runID, "timeout", state.timeout)
			metrics.RecordError("run_timeout")
			state.handle.Terminate()
		}
		best := state.percent
		for _, line := range state.handle.GetOutput(outputPollTimeout) {
			percent, ok := worker.ParseProgress(line)
			if !ok {
				continue
			}
			if damped := percent * progressDamping; damped > best {
				best = damped
			}
		}
		state.percent = best
		metrics.RecordRunProgress(runID, state.percent)
		return state.percent
	}

	switch state.handle.Status() {
	case worker.StatusCompleted, worker.StatusNotRunning:
		state.percent = 100
		state.completed = true
		metrics.RecordRunProgress(runID, 100)
	}
	return state.percent
}

// Delete terminates the run's worker if still active, evicts it from the
// registry and removes its documents. It never fails; the outcome is a
// human-readable message for the caller.
func (h *TestHarness) Delete(ctx context.Context, runID string) string {
	if state, ok := h.registry.Get(runID); ok {
		if state.handle != nil {
			state.handle.Terminate()
		}
		h.registry.Evict(runID)
	}

	outcome := fmt.Sprintf("Test Run '%s': ", runID)
	deleted, _ := h.store.GetTestReport(runID).Delete(ctx, true)
	if !deleted {
		h.log.Warn("Test run deletion reported a problem", "run", runID)
		return outcome + "test run deletion may have been problematic. Check the server logs!"
	}
	metrics.RecordRunDeleted(runID)
	h.log.Info("Test run deleted", "run", runID)
	return outcome + "successfully deleted!"
}

// CompletedRuns enumerates catalog runs matching the resource filters,
// newest first. With latestOnly only the most recent match is returned.
func (h *TestHarness) CompletedRuns(ctx context.Context, araID, kpID string, latestOnly bool) ([]string, error) {
	runs, err := h.store.GetAvailableReports(ctx, report.ResourceFilter(araID, kpID))
	if err != nil {
		return nil, fmt.Errorf("cannot enumerate completed runs: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))
	if latestOnly && len(runs) > 1 {
		runs = runs[:1]
	}
	return runs, nil
}

// Summary returns the run-level summary document, or nil before the run
// publishes it.
func (h *TestHarness) Summary(ctx context.Context, runID string) (map[string]any, error) {
	return h.store.GetTestReport(runID).RetrieveDocument(ctx, report.DocumentTypeSummary, report.SummaryDocumentKey)
}

// ResourceSummary returns the roll-up summary of one tested resource.
func (h *TestHarness) ResourceSummary(ctx context.Context, runID string, component report.Component, araID, kpID string) (map[string]any, error) {
	key := report.BuildResourceSummaryKey(component, araID, kpID)
	return h.store.GetTestReport(runID).RetrieveDocument(ctx, report.DocumentTypeResourceSummary, key)
}

// Details returns the full per-case details of one tested edge.
func (h *TestHarness) Details(ctx context.Context, runID string, component report.Component, araID, kpID string, edgeIdx int) (map[string]any, error) {
	key := report.BuildEdgeDetailsKey(component, araID, kpID, edgeIdx)
	return h.store.GetTestReport(runID).RetrieveDocument(ctx, report.DocumentTypeDetails, key)
}

// Recommendations returns a resource's remediation document.
func (h *TestHarness) Recommendations(ctx context.Context, runID string, component report.Component, araID, kpID string) (map[string]any, error) {
	key := report.BuildRecommendationsKey(component, araID, kpID)
	return h.store.GetTestReport(runID).RetrieveDocument(ctx, report.DocumentTypeRecommendations, key)
}

// StreamedResponse streams the captured TRAPI response of one test case of
// one edge, however large it is.
func (h *TestHarness) StreamedResponse(ctx context.Context, runID string, component report.Component, araID, kpID string, edgeIdx int, testID string) (report.DocumentStream, error) {
	key := report.BuildResponseKey(component, araID, kpID, edgeIdx, testID)
	return h.store.GetTestReport(runID).StreamDocument(ctx, report.DocumentTypeDetails, key)
}

// Index derives the tested resource identifiers from the run summary, keyed
// by component. A run without a summary yet yields nil.
func (h *TestHarness) Index(ctx context.Context, runID string) (map[string][]string, error) {
	summary, err := h.Summary(ctx, runID)
	if err != nil || summary == nil {
		return nil, err
	}
	index := make(map[string][]string)
	for _, component := range []report.Component{report.ComponentKP, report.ComponentARA} {
		section, ok := summary[string(component)].(map[string]any)
		if !ok {
			continue
		}
		ids := make([]string, 0, len(section))
		for id := range section {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		index[string(component)] = ids
	}
	return index, nil
}

// SaveDocument persists an artifact for the run on behalf of the downstream
// report writer.
func (h *TestHarness) SaveDocument(ctx context.Context, runID, docType string, document any, key string, index []string, isBig bool) error {
	err := h.store.GetTestReport(runID).SaveDocument(ctx, docType, document, key, index, isBig)
	if err != nil {
		metrics.RecordErrorDetails("save_document", err)
		return err
	}
	metrics.RecordDocumentSaved(h.store.Name(), docType)
	return nil
}

// reportAvailable reports whether the run is in the durable catalog, which
// lists only runs whose summary document exists.
func (h *TestHarness) reportAvailable(ctx context.Context, runID string) bool {
	runs, err := h.store.GetAvailableReports(ctx, nil)
	if err != nil {
		h.log.Warn("Cannot consult the report catalog", "err", err)
		return false
	}
	for _, id := range runs {
		if id == runID {
			return true
		}
	}
	return false
}
