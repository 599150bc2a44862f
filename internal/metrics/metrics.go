// Package metrics 定義推薦服務的 Prometheus 指標。
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 推薦流程
	RecommendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommend_requests_total",
			Help: "Total number of recommendation requests by outcome",
		},
		[]string{"outcome"},
	)

	RecommendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recommend_duration_seconds",
			Help:    "End-to-end recommendation pipeline duration",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"outcome"},
	)

	RecommendCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recommend_candidates",
			Help:    "Candidate set size handed to the ranking oracle",
			Buckets: []float64{0, 5, 10, 20, 30, 50, 100, 200},
		},
	)

	RecommendWideningLevel = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommend_widening_level_total",
			Help: "Candidate selection widening level used per request",
		},
		[]string{"level"},
	)

	ValidatorRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommend_validator_rejections_total",
			Help: "Selections rejected by the hard-constraint validator",
		},
		[]string{"check"},
	)

	ParserAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommend_parser_anomalies_total",
			Help: "Oracle response anomalies (unknown ids, duplicates, non-discriminating output)",
		},
		[]string{"kind"},
	)

	DiversityDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recommend_diversity_drops_total",
			Help: "Selections dropped as near-duplicate titles",
		},
	)

	ResultCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommend_result_cache_total",
			Help: "Result cache lookups",
		},
		[]string{"result"}, // hit, miss, stale
	)

	// Oracle
	OracleCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommend_oracle_calls_total",
			Help: "Ranking oracle calls by backend and result",
		},
		[]string{"backend", "result"},
	)

	OracleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recommend_oracle_duration_seconds",
			Help:    "Ranking oracle call latency",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		},
		[]string{"backend"},
	)

	OracleTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommend_oracle_tokens_total",
			Help: "Tokens consumed by the ranking oracle",
		},
		[]string{"backend", "kind"}, // kind: prompt, completion
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Batch
	BatchJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommend_batch_jobs_total",
			Help: "Batch recommendation jobs by status",
		},
		[]string{"status"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recommend_batch_queue_depth",
			Help: "Jobs waiting in the batch worker queue",
		},
	)

	// Telemetry
	TelemetryEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommend_telemetry_events_total",
			Help: "Outcome events published to the telemetry sink",
		},
		[]string{"sink", "result"},
	)

	// HTTP
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// RecordRecommendation 記錄單次推薦結果
func RecordRecommendation(outcome string, duration time.Duration) {
	RecommendRequests.WithLabelValues(outcome).Inc()
	RecommendDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordWidening 記錄候選集大小與放寬層級
func RecordWidening(level, candidates int) {
	RecommendWideningLevel.WithLabelValues(strconv.Itoa(level)).Inc()
	RecommendCandidates.Observe(float64(candidates))
}

// RecordOracleCall 記錄 oracle 呼叫
func RecordOracleCall(backend string, duration time.Duration, promptTokens, completionTokens int, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OracleCalls.WithLabelValues(backend, result).Inc()
	OracleDuration.WithLabelValues(backend).Observe(duration.Seconds())
	if promptTokens > 0 {
		OracleTokens.WithLabelValues(backend, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		OracleTokens.WithLabelValues(backend, "completion").Add(float64(completionTokens))
	}
}

// RecordAPIRequest 記錄 HTTP 請求
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
