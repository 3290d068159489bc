package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "newspick"

// Metrics is the observability sink shared by the pipeline components.
// Counters are exported through Prometheus; run status is kept for /health.
type Metrics struct {
	registry *prometheus.Registry

	BatchesProcessed    prometheus.Counter
	CandidatesSeen      prometheus.Counter
	DuplicatesFiltered  *prometheus.CounterVec // kind=exact|near
	EmbeddingsComputed  prometheus.Counter
	EmbeddingCacheHits  prometheus.Counter
	EmbeddingFailures   prometheus.Counter
	RecommendationsSent prometheus.Counter
	LedgerWriteFailures prometheus.Counter
	BatchDuration       prometheus.Histogram

	mu            sync.RWMutex
	lastRunTime   time.Time
	lastErrorTime time.Time
	lastError     string
	isHealthy     bool
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		BatchesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_processed_total",
			Help: "Number of candidate batches processed.",
		}),
		CandidatesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "candidates_total",
			Help: "Number of eligible candidates considered.",
		}),
		DuplicatesFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "duplicates_filtered_total",
			Help: "Candidates suppressed as already delivered.",
		}, []string{"kind"}),
		EmbeddingsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "embeddings_computed_total",
			Help: "Embedding provider calls that returned a vector.",
		}),
		EmbeddingCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "embedding_cache_hits_total",
			Help: "Embeddings served from the per-run memo.",
		}),
		EmbeddingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "embedding_failures_total",
			Help: "Embedding provider calls that failed.",
		}),
		RecommendationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "recommendations_sent_total",
			Help: "Representative items delivered to the chat.",
		}),
		LedgerWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ledger_write_failures_total",
			Help: "Failed attempts to persist the delivery ledger.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_duration_seconds",
			Help:    "Wall time of one collect-select-deliver run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		isHealthy: true,
	}

	reg.MustRegister(
		m.BatchesProcessed,
		m.CandidatesSeen,
		m.DuplicatesFiltered,
		m.EmbeddingsComputed,
		m.EmbeddingCacheHits,
		m.EmbeddingFailures,
		m.RecommendationsSent,
		m.LedgerWriteFailures,
		m.BatchDuration,
	)
	return m
}

// Handler serves the Prometheus exposition for this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordProcessingTime(duration time.Duration) {
	m.BatchDuration.Observe(duration.Seconds())
}

func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRunTime = time.Now()
	m.isHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastError = err
	m.lastErrorTime = time.Now()
	m.isHealthy = false
}

func (m *Metrics) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isHealthy
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"last_run_time":   m.lastRunTime.Format(time.RFC3339),
		"last_error_time": m.lastErrorTime.Format(time.RFC3339),
		"last_error":      m.lastError,
		"is_healthy":      m.isHealthy,
	}
}
