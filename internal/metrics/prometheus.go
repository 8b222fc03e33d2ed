package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foresight_jobs_started_total",
			Help: "Total number of research jobs started",
		},
	)

	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_jobs_finished_total",
			Help: "Total number of research jobs finished",
		},
		[]string{"status"}, // status: completed|failed
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foresight_job_duration_seconds",
			Help:    "End-to-end research job duration in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		},
	)

	IterationsRun = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_iterations_total",
			Help: "Total number of research iterations run",
		},
		[]string{"status"}, // status: success|error
	)

	// LLM metrics
	LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_llm_calls_total",
			Help: "Total number of LLM calls",
		},
		[]string{"stage", "model", "status"}, // status: success|error
	)

	LLMLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foresight_llm_latency_seconds",
			Help:    "LLM call latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"stage", "model"},
	)

	LLMTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_llm_tokens_total",
			Help: "Total tokens used by LLM calls",
		},
		[]string{"stage", "model", "type"}, // type: input|output
	)

	// Search metrics
	SearchCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_search_calls_total",
			Help: "Total number of web search calls",
		},
		[]string{"status"}, // status: success|error
	)

	SearchResults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foresight_search_results_total",
			Help: "Total number of search results collected after deduplication",
		},
	)

	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foresight_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"worker"},
	)

	// Database metrics
	DBQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"database", "operation", "status"}, // database: postgres|clickhouse|redis
	)

	// System metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foresight_kafka_messages_total",
			Help: "Total Kafka messages produced",
		},
		[]string{"topic", "status"},
	)

	SubscriberConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foresight_subscriber_connections",
			Help: "Current number of active job stream subscribers",
		},
	)
)

// Init registers all metrics with Prometheus
func Init() {
	prometheus.MustRegister(JobsStarted)
	prometheus.MustRegister(JobsFinished)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(IterationsRun)

	prometheus.MustRegister(LLMCalls)
	prometheus.MustRegister(LLMLatency)
	prometheus.MustRegister(LLMTokens)

	prometheus.MustRegister(SearchCalls)
	prometheus.MustRegister(SearchResults)

	prometheus.MustRegister(WorkerExecutions)
	prometheus.MustRegister(WorkerDuration)

	prometheus.MustRegister(DBQueries)
	prometheus.MustRegister(KafkaMessages)
	prometheus.MustRegister(SubscriberConnections)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
