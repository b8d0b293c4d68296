package harness

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/translator-sri/trapi-acceptor/report"
	"github.com/translator-sri/trapi-acceptor/worker"
)

// newTestHarness builds a harness over a throwaway file store whose batch
// command is a shell script. Run parameter flags land in the script's
// positional arguments and are ignored there.
func newTestHarness(t *testing.T, script string) (*TestHarness, report.Store) {
	t.Helper()
	logger := log.New()
	cfg := &Config{
		Command:        "sh",
		CommandArgs:    []string{"-c", script},
		ResultsDir:     t.TempDir(),
		DefaultTimeout: 10 * time.Second,
		PollInterval:   50 * time.Millisecond,
		Log:            logger,
	}
	store, err := report.NewFileStore(cfg.ResultsDir, logger)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	h, err := NewTestHarness(context.Background(), cfg, store, NewRunRegistry(logger))
	require.NoError(t, err)
	return h, store
}

func TestRunReportsProgressAndCompletes(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHarness(t, `echo "case one PASSED [ 50%]"; echo "case two PASSED [100%]"`)

	runID, err := h.Run(ctx, RunParameters{KPID: "infores:molepro"})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	// Progress parsed from output is damped below 100 until the worker is
	// actually done, and it never regresses.
	last := float64(0)
	regressed := false
	require.Eventually(t, func() bool {
		percent := h.Status(ctx, runID)
		if percent < last {
			regressed = true
		}
		last = percent
		return percent == 100
	}, 15*time.Second, 50*time.Millisecond)
	assert.False(t, regressed, "reported progress must never regress")
}

func TestStatusUnknownRun(t *testing.T) {
	h, _ := newTestHarness(t, "true")
	assert.Equal(t, StatusUnknownRun, h.Status(context.Background(), "2023-01-01_00-00-00_deadbeef"))
}

func TestStatusRediscoversCatalogRuns(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHarness(t, "true")

	// A run that completed outside this registry's lifetime, e.g. before a
	// service restart.
	const runID = "2023-02-14_10-31-01_abcd1234"
	require.NoError(t, store.GetTestReport(runID).SaveDocument(ctx,
		report.DocumentTypeSummary, map[string]any{}, report.SummaryDocumentKey, nil, false))

	assert.Equal(t, float64(100), h.Status(ctx, runID))
	_, seeded := h.Registry().Get(runID)
	assert.True(t, seeded)
}

func TestPartialReportDoesNotCompleteRun(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHarness(t, "sleep 30")

	runID, err := h.Run(ctx, RunParameters{KPID: "infores:molepro"})
	require.NoError(t, err)
	defer h.Delete(ctx, runID)

	// The report writer saves detail documents before the summary. In that
	// window the run is not complete: the active poll path keeps reporting
	// worker progress, the catalog excludes the run, and a harness built
	// fresh over the same store (as after a restart) agrees.
	require.NoError(t, h.SaveDocument(ctx, runID, report.DocumentTypeDetails,
		map[string]any{"results": []any{}},
		report.BuildEdgeDetailsKey(report.ComponentKP, "", "infores:molepro", 0),
		[]string{"infores:molepro"}, false))

	assert.Less(t, h.Status(ctx, runID), float64(100))

	runs, err := h.CompletedRuns(ctx, "", "", false)
	require.NoError(t, err)
	assert.NotContains(t, runs, runID)

	logger := log.New()
	restarted, err := NewTestHarness(ctx, &Config{Command: "sh", Log: logger}, store, NewRunRegistry(logger))
	require.NoError(t, err)
	assert.Equal(t, StatusUnknownRun, restarted.Status(ctx, runID))

	// Publishing the summary flips every view at once.
	require.NoError(t, h.SaveDocument(ctx, runID, report.DocumentTypeSummary,
		map[string]any{"KP": map[string]any{"infores:molepro": map[string]any{}}},
		report.SummaryDocumentKey, nil, false))
	assert.Equal(t, float64(100), h.Status(ctx, runID))
	assert.Equal(t, float64(100), restarted.Status(ctx, runID))
	runs, err = h.CompletedRuns(ctx, "", "", false)
	require.NoError(t, err)
	assert.Contains(t, runs, runID)
}

func TestRunRejectsCompletedRunID(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHarness(t, "sleep 30")

	const runID = "2023-02-14_10-31-01_abcd1234"
	require.NoError(t, store.GetTestReport(runID).SaveDocument(ctx,
		report.DocumentTypeSummary, map[string]any{}, report.SummaryDocumentKey, nil, false))
	require.Equal(t, float64(100), h.Status(ctx, runID))

	// No worker is launched for an identifier that already names a completed
	// run; the registry keeps its completed entry.
	_, err := h.Run(ctx, RunParameters{TestRunID: runID})
	require.Error(t, err)
	state, ok := h.Registry().Get(runID)
	require.True(t, ok)
	assert.True(t, state.Completed())
	assert.Equal(t, 1, h.Registry().Len())
}

func TestRegistrySeededAtConstruction(t *testing.T) {
	ctx := context.Background()
	logger := log.New()
	dir := t.TempDir()
	store, err := report.NewFileStore(dir, logger)
	require.NoError(t, err)
	require.NoError(t, store.GetTestReport("run-old").SaveDocument(ctx,
		report.DocumentTypeSummary, map[string]any{}, report.SummaryDocumentKey, nil, false))

	cfg := &Config{Command: "sh", ResultsDir: dir, Log: logger}
	h, err := NewTestHarness(ctx, cfg, store, NewRunRegistry(logger))
	require.NoError(t, err)

	state, ok := h.Registry().Get("run-old")
	require.True(t, ok)
	assert.True(t, state.Completed())
	assert.Equal(t, float64(100), h.Status(ctx, "run-old"))
}

func TestRunIsIdempotentForActiveRunID(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHarness(t, "sleep 30")

	runID, err := h.Run(ctx, RunParameters{})
	require.NoError(t, err)
	defer h.Delete(ctx, runID)

	again, err := h.Run(ctx, RunParameters{TestRunID: runID})
	require.NoError(t, err)
	assert.Equal(t, runID, again)
	assert.Equal(t, 1, h.Registry().Len())
}

func TestRunTimeoutTerminatesWorker(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHarness(t, "sleep 30")

	runID, err := h.Run(ctx, RunParameters{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer h.Delete(ctx, runID)

	state, ok := h.Registry().Get(runID)
	require.True(t, ok)

	// Once the poll path observes the excess, the worker is killed. The run
	// never reaches 100: a timed-out run produces no report.
	require.Eventually(t, func() bool {
		h.Status(ctx, runID)
		return state.handle.Status() == worker.StatusNotRunning
	}, 15*time.Second, 50*time.Millisecond)
	assert.Less(t, h.Status(ctx, runID), float64(100))
}

func TestSummaryPublicationCompletesRun(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHarness(t, "sleep 30")

	runID, err := h.Run(ctx, RunParameters{})
	require.NoError(t, err)

	// The downstream report writer publishes the run summary last; from that
	// point the run is complete regardless of worker state.
	require.NoError(t, h.SaveDocument(ctx, runID, report.DocumentTypeSummary,
		map[string]any{"KP": map[string]any{}}, report.SummaryDocumentKey, nil, false))
	assert.Equal(t, float64(100), h.Status(ctx, runID))

	outcome := h.Delete(ctx, runID)
	assert.Equal(t, fmt.Sprintf("Test Run '%s': successfully deleted!", runID), outcome)

	// Evicted from the registry and absent from the store.
	assert.Equal(t, StatusUnknownRun, h.Status(ctx, runID))
}

func TestDeleteUnknownRun(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHarness(t, "true")

	outcome := h.Delete(ctx, "2023-01-01_00-00-00_deadbeef")
	assert.Contains(t, outcome, "may have been problematic")
}

func TestCompletedRuns(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHarness(t, "true")

	require.NoError(t, store.GetTestReport("2023-02-14_10-31-01_aaaa0000").SaveDocument(ctx,
		report.DocumentTypeSummary, map[string]any{
			"KP": map[string]any{"infores:molepro": map[string]any{}},
		}, report.SummaryDocumentKey, nil, false))
	require.NoError(t, store.GetTestReport("2023-02-15_09-00-00_bbbb1111").SaveDocument(ctx,
		report.DocumentTypeSummary, map[string]any{
			"ARA": map[string]any{"infores:arax": map[string]any{
				"kps": map[string]any{"infores:molepro": map[string]any{}},
			}},
		}, report.SummaryDocumentKey, nil, false))

	runs, err := h.CompletedRuns(ctx, "", "", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"2023-02-15_09-00-00_bbbb1111", "2023-02-14_10-31-01_aaaa0000"}, runs)

	latest, err := h.CompletedRuns(ctx, "", "", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"2023-02-15_09-00-00_bbbb1111"}, latest)

	kpOnly, err := h.CompletedRuns(ctx, "", "infores:mole*", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"2023-02-14_10-31-01_aaaa0000"}, kpOnly)
}

func TestReportAccessors(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHarness(t, "true")
	const runID = "2023-02-14_10-31-01_abcd1234"

	summary := map[string]any{
		"KP":  map[string]any{"infores:molepro": map[string]any{}},
		"ARA": map[string]any{"infores:arax": map[string]any{"kps": map[string]any{"infores:molepro": map[string]any{}}}},
	}
	require.NoError(t, h.SaveDocument(ctx, runID, report.DocumentTypeSummary,
		summary, report.SummaryDocumentKey, nil, false))

	resourceSummary := map[string]any{"cases": float64(7)}
	require.NoError(t, h.SaveDocument(ctx, runID, report.DocumentTypeResourceSummary,
		resourceSummary, report.BuildResourceSummaryKey(report.ComponentKP, "", "infores:molepro"),
		[]string{"infores:molepro"}, false))

	details := map[string]any{"results": []any{"ok"}}
	require.NoError(t, h.SaveDocument(ctx, runID, report.DocumentTypeDetails,
		details, report.BuildEdgeDetailsKey(report.ComponentKP, "", "infores:molepro", 0),
		[]string{"infores:molepro"}, false))

	recommendations := map[string]any{"fix": "add categories"}
	require.NoError(t, h.SaveDocument(ctx, runID, report.DocumentTypeRecommendations,
		recommendations, report.BuildRecommendationsKey(report.ComponentKP, "", "infores:molepro"),
		[]string{"infores:molepro"}, false))

	response := map[string]any{"message": map[string]any{"results": []any{}}}
	require.NoError(t, h.SaveDocument(ctx, runID, report.DocumentTypeDetails,
		response, report.BuildResponseKey(report.ComponentKP, "", "infores:molepro", 0, "by_subject"),
		[]string{"infores:molepro"}, true))

	got, err := h.Summary(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, summary, got)

	got, err = h.ResourceSummary(ctx, runID, report.ComponentKP, "", "infores:molepro")
	require.NoError(t, err)
	assert.Equal(t, resourceSummary, got)

	got, err = h.Details(ctx, runID, report.ComponentKP, "", "infores:molepro", 0)
	require.NoError(t, err)
	assert.Equal(t, details, got)

	got, err = h.Recommendations(ctx, runID, report.ComponentKP, "", "infores:molepro")
	require.NoError(t, err)
	assert.Equal(t, recommendations, got)

	index, err := h.Index(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"KP":  {"infores:molepro"},
		"ARA": {"infores:arax"},
	}, index)

	stream, err := h.StreamedResponse(ctx, runID, report.ComponentKP, "", "infores:molepro", 0, "by_subject")
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	// Documents never saved read back as absent, not as errors.
	missing, err := h.Details(ctx, runID, report.ComponentKP, "", "infores:molepro", 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
	_, err = h.StreamedResponse(ctx, runID, report.ComponentKP, "", "infores:molepro", 99, "by_object")
	require.ErrorIs(t, err, report.ErrNotFound)
}

func TestRunLaunchFailure(t *testing.T) {
	ctx := context.Background()
	logger := log.New()
	cfg := &Config{
		Command:    "/nonexistent/test-batch-binary",
		ResultsDir: t.TempDir(),
		Log:        logger,
	}
	store, err := report.NewFileStore(cfg.ResultsDir, logger)
	require.NoError(t, err)
	h, err := NewTestHarness(ctx, cfg, store, NewRunRegistry(logger))
	require.NoError(t, err)

	_, err = h.Run(ctx, RunParameters{})
	require.Error(t, err)
	assert.True(t, worker.IsLaunchError(err))
	assert.Equal(t, 0, h.Registry().Len())
}
