package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	docproc = "docproc"

	documentsProcessedTotal = "documents_processed_total"
	documentStatusCount     = "document_status_count"
	jobAttemptsTotal        = "job_attempts_total"
	jobAttemptDuration      = "job_attempt_duration_seconds"

	pathLabel   = "path"
	statusLabel = "status"
	reasonLabel = "reason"
	resultLabel = "result"
)

/**
* Metrics definition
**/
var documentsProcessedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: docproc,
		Name:      documentsProcessedTotal,
		Help:      "number of documents that reached a terminal processing state, by path and status",
	},
	[]string{pathLabel, statusLabel},
)

var documentStatusCountMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: docproc,
		Name:      documentStatusCount,
		Help:      "number of documents currently in each processing status",
	},
	[]string{statusLabel},
)

var jobAttemptsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: docproc,
		Name:      jobAttemptsTotal,
		Help:      "number of OCR job attempts, by result and failure reason",
	},
	[]string{resultLabel, reasonLabel},
)

var jobAttemptDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: docproc,
		Name:      jobAttemptDuration,
		Help:      "wall-clock duration of OCR job attempts",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	},
	[]string{resultLabel},
)

func IncreaseDocumentsProcessedMetric(path, status string) {
	documentsProcessedTotalMetric.With(prometheus.Labels{
		pathLabel:   path,
		statusLabel: status,
	}).Inc()
}

func UpdateDocumentStatusCountMetric(status string, count int) {
	documentStatusCountMetric.With(prometheus.Labels{
		statusLabel: status,
	}).Set(float64(count))
}

func IncreaseJobAttemptsMetric(result, reason string) {
	jobAttemptsTotalMetric.With(prometheus.Labels{
		resultLabel: result,
		reasonLabel: reason,
	}).Inc()
}

func ObserveJobAttemptDurationMetric(result string, seconds float64) {
	jobAttemptDurationMetric.With(prometheus.Labels{
		resultLabel: result,
	}).Observe(seconds)
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(documentsProcessedTotalMetric)
	prometheus.MustRegister(documentStatusCountMetric)
	prometheus.MustRegister(jobAttemptsTotalMetric)
	prometheus.MustRegister(jobAttemptDurationMetric)
}
