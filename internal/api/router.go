package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/scenewatch/internal/api/handlers"
	"github.com/your-org/scenewatch/internal/auth"
	"github.com/your-org/scenewatch/internal/hub"
	"github.com/your-org/scenewatch/internal/ingest"
	"github.com/your-org/scenewatch/internal/queue"
	"github.com/your-org/scenewatch/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Hub      *hub.Hub
	Ingest   *ingest.Manager
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket: device ingestion and observer fan-out
	v1.GET("/ingest", IngestWS(cfg.Ingest))
	v1.GET("/ws", ObserverWS(cfg.Hub))

	// Incidents
	incidentH := handlers.NewIncidentHandler(cfg.DB)
	v1.GET("/incidents", incidentH.List)
	v1.GET("/incidents/:id", incidentH.Get)
	v1.GET("/incidents/:id/streams", incidentH.Streams)
	v1.POST("/incidents/:id/status", incidentH.UpdateStatus)

	// Streams
	streamH := handlers.NewStreamHandler(cfg.DB, cfg.MinIO, cfg.Hub)
	v1.GET("/streams", streamH.List)
	v1.GET("/streams/:id", streamH.Get)
	v1.GET("/streams/:id/observations", streamH.Observations)
	v1.GET("/streams/:id/observations/:obs_id/payload", streamH.ObservationPayload)
	v1.GET("/streams/:id/timeline", streamH.Timeline)
	v1.POST("/streams/:id/artifact", streamH.RegisterArtifact)

	// One-shot observation submission
	obsH := handlers.NewObservationHandler(cfg.Ingest)
	v1.POST("/observations", obsH.Submit)

	return r
}
