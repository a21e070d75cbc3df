package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drugquery_questions_total",
			Help: "Total number of questions by outcome.",
		},
		[]string{"outcome"},
	)
	completionTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drugquery_completion_tokens_total",
			Help: "Model tokens consumed by pipeline stage, model and direction.",
		},
		[]string{"stage", "model", "direction"},
	)
	completionLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drugquery_completion_latency_seconds",
			Help:    "Model completion latency by pipeline stage.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"stage"},
	)
	queryExecutionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drugquery_query_execution_seconds",
			Help:    "Database execution latency for generated queries.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drugquery_query_rows_returned",
			Help:    "Rows returned per executed query.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 250, 500, 1000},
		},
	)
	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drugquery_rejections_total",
			Help: "Generated queries rejected by the keyword screen.",
		},
		[]string{"keyword"},
	)
	auditDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drugquery_audit_dropped_total",
			Help: "Audit entries dropped because the archive queue was full.",
		},
	)
	auditBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drugquery_audit_batches_total",
			Help: "Audit batch uploads by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		completionTokensTotal,
		completionLatencySeconds,
		queryExecutionSeconds,
		queryRowsReturned,
		rejectionsTotal,
		auditDroppedTotal,
		auditBatchesTotal,
	)
}

func ObserveQuestion(outcome string) {
	questionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveCompletion(stage, model string, inputTokens, outputTokens int, elapsed time.Duration) {
	if inputTokens > 0 {
		completionTokensTotal.WithLabelValues(stage, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		completionTokensTotal.WithLabelValues(stage, model, "output").Add(float64(outputTokens))
	}
	completionLatencySeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func ObserveQueryExecution(rows int, elapsed time.Duration) {
	queryExecutionSeconds.Observe(elapsed.Seconds())
	if rows < 0 {
		rows = 0
	}
	queryRowsReturned.Observe(float64(rows))
}

func IncrementRejection(keyword string) {
	rejectionsTotal.WithLabelValues(keyword).Inc()
}

func IncrementAuditDropped() {
	auditDroppedTotal.Inc()
}

func ObserveAuditBatch(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	auditBatchesTotal.WithLabelValues(result).Inc()
}
