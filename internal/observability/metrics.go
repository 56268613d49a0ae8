package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ObservationsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scenewatch",
		Name:      "observations_ingested_total",
		Help:      "Total number of observations ingested",
	}, []string{"path"}) // session or oneshot

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scenewatch",
		Name:      "active_sessions",
		Help:      "Number of live device ingestion sessions",
	})

	IncidentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scenewatch",
		Name:      "incidents_created_total",
		Help:      "Total number of incidents opened by the cluster assigner",
	})

	BatchFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scenewatch",
		Name:      "batch_flushes_total",
		Help:      "Total number of batch flushes by trigger",
	}, []string{"trigger"}) // size, timer, manual, forced

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scenewatch",
		Name:      "batch_size",
		Help:      "Number of observations per flushed batch",
		Buckets:   prometheus.LinearBuckets(1, 2, 10),
	})

	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scenewatch",
		Name:      "analysis_duration_seconds",
		Help:      "Duration of analysis collaborator calls",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	AnalysisFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scenewatch",
		Name:      "analysis_failures_total",
		Help:      "Analysis calls that failed or timed out (batch dropped)",
	})

	ObserverConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scenewatch",
		Name:      "observer_connections",
		Help:      "Number of connected broadcast observers",
	})

	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scenewatch",
		Name:      "events_delivered_total",
		Help:      "Broadcast events enqueued to observers (keepalives excluded)",
	}, []string{"type"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scenewatch",
		Name:      "queue_depth",
		Help:      "Number of pending observation batches in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scenewatch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
