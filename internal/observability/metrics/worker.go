package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/medibot/internal/core/domain"
)

// IngestionMetrics tracks ingestion runs and their stages. It implements
// ports.IngestionObserver.
type IngestionMetrics struct {
	service  string
	registry *prometheus.Registry

	runTotal      *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runInFlight   prometheus.Gauge
	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	chunksIndexed prometheus.Counter
	queueLag      *prometheus.HistogramVec
}

func NewIngestionMetrics(service string) *IngestionMetrics {
	registry := prometheus.NewRegistry()

	runTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Total ingestion runs by status.",
		},
		[]string{"service", "status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Ingestion run duration in seconds by status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"service", "status"},
	)
	runInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_in_flight",
			Help:      "Number of in-flight ingestion runs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "stage_duration_seconds",
			Help:      "Ingestion stage duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	stageErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "stage_errors_total",
			Help:      "Total ingestion stage failures.",
		},
		[]string{"service", "stage"},
	)
	chunksIndexed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "chunks_indexed_total",
			Help:      "Total chunks written to the vector index.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "queue_lag_seconds",
			Help:      "Delay between run creation and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(runTotal, runDuration, runInFlight, stageDuration, stageErrors, chunksIndexed, queueLag)

	return &IngestionMetrics{
		service:       service,
		registry:      registry,
		runTotal:      runTotal,
		runDuration:   runDuration,
		runInFlight:   runInFlight,
		stageDuration: stageDuration,
		stageErrors:   stageErrors,
		chunksIndexed: chunksIndexed,
		queueLag:      queueLag,
	}
}

func (m *IngestionMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *IngestionMetrics) ObserveStage(stage domain.IngestionState, duration time.Duration, err error) {
	m.stageDuration.WithLabelValues(m.service, string(stage)).Observe(duration.Seconds())
	if err != nil {
		m.stageErrors.WithLabelValues(m.service, string(stage)).Inc()
	}
}

func (m *IngestionMetrics) StartRun() {
	m.runInFlight.Inc()
}

func (m *IngestionMetrics) FinishRun(run *domain.IngestionRun, duration time.Duration, err error) {
	m.runInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.runTotal.WithLabelValues(m.service, status).Inc()
	m.runDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
	if run != nil && run.IndexedChunks > 0 {
		m.chunksIndexed.Add(float64(run.IndexedChunks))
	}
}

func (m *IngestionMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}
