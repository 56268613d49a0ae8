package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/scenewatch/internal/api"
	"github.com/your-org/scenewatch/internal/batch"
	"github.com/your-org/scenewatch/internal/cluster"
	"github.com/your-org/scenewatch/internal/config"
	"github.com/your-org/scenewatch/internal/hub"
	"github.com/your-org/scenewatch/internal/ingest"
	"github.com/your-org/scenewatch/internal/models"
	"github.com/your-org/scenewatch/internal/observability"
	"github.com/your-org/scenewatch/internal/queue"
	"github.com/your-org/scenewatch/internal/storage"
	"github.com/your-org/scenewatch/pkg/dto"
)

// stateProvider adapts the store to the hub's late-join seam.
type stateProvider struct {
	db *storage.PostgresStore
}

func (p stateProvider) GetIncidentState(ctx context.Context, id uuid.UUID) (any, error) {
	return p.db.GetIncidentState(ctx, id)
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting scenewatch API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Broadcast hub with late-join state provider
	broadcastHub := hub.NewHub(stateProvider{db: db}, cfg.Hub)
	go broadcastHub.Run(ctx)

	// Batch scheduler dispatching ready batches to the analysis workers
	scheduler := batch.NewScheduler(queue.NewBatchDispatcher(producer), cfg.Batch)

	// Ingest pipeline
	assigner := cluster.NewAssigner(db, cfg.Cluster)
	manager := ingest.NewManager(db, assigner, scheduler, broadcastHub, minioStore, cfg.Analysis.MaxInlinePayload)

	// Consume analysis results and fan them out to observers
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create result consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeResults(ctx, "api-results", func(ctx context.Context, msg jetstream.Msg) error {
		var result models.AnalysisResult
		if err := json.Unmarshal(msg.Data(), &result); err != nil {
			return err
		}

		for i := range result.Events {
			broadcastHub.Publish(dto.TimelineEventEvent{
				Event:      dto.FromTimelineEvent(&result.Events[i]),
				IncidentID: result.IncidentID,
			})
		}
		if result.UpdatedState != "" {
			broadcastHub.Publish(dto.StateUpdatedEvent{
				StreamID:   result.StreamID,
				State:      result.UpdatedState,
				IncidentID: result.IncidentID,
			})
		}
		return nil
	})
	if err != nil {
		slog.Warn("start result consumer", "error", err)
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:   cfg.Server.APIKey,
		DB:       db,
		MinIO:    minioStore,
		Producer: producer,
		Hub:      broadcastHub,
		Ingest:   manager,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	// Drain buffered observations to the analysis queue before exit.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	scheduler.FlushAll(flushCtx)
	flushCancel()

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
