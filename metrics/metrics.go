package metrics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "acceptor"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	// Run identifiers are unbounded, so they never appear as label values;
	// per-run detail belongs in logs and traces.
	runsLaunchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_launched_total",
		Help:      "Count of test runs launched",
	})

	runsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_deleted_total",
		Help:      "Count of test runs deleted",
	})

	runProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_progress_percent",
		Help:      "Completion percentage of the most recently polled test run",
	})

	documentsSavedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "documents_saved_total",
		Help:      "Count of report documents saved",
	}, []string{
		"backend",
		"document_type",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordRunLaunched(runID string) {
	if Debug {
		log.Debug("metric inc",
			"m", "runs_launched_total",
			"run_id", runID,
		)
	}
	runsLaunchedTotal.Inc()
}

func RecordRunDeleted(runID string) {
	if Debug {
		log.Debug("metric inc",
			"m", "runs_deleted_total",
			"run_id", runID,
		)
	}
	runsDeletedTotal.Inc()
}

func RecordRunProgress(runID string, percent float64) {
	if Debug {
		log.Debug("metric set",
			"m", "run_progress_percent",
			"run_id", runID,
			"percent", percent,
		)
	}
	runProgress.Set(percent)
}

func RecordDocumentSaved(backend string, documentType string) {
	documentsSavedTotal.WithLabelValues(backend, documentType).Inc()
}
