package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/scenewatch/internal/models"
)

// WorkerStore is the slice of persistence the worker needs.
type WorkerStore interface {
	GetStream(ctx context.Context, id string) (*models.Stream, error)
	CreateTimelineEvent(ctx context.Context, ev *models.TimelineEvent) error
	UpdateStreamState(ctx context.Context, id, summary string) error
}

// ResultPublisher forwards the analysis result for broadcast fan-out.
type ResultPublisher interface {
	PublishResult(ctx context.Context, result models.AnalysisResult) error
}

// Worker processes one observation batch end to end: analyze, persist the
// derived timeline events, update the stream's state summary and publish
// the result. An analysis failure leaves the pipeline's own state intact;
// the batch is simply dropped.
type Worker struct {
	store     WorkerStore
	service   Service
	publisher ResultPublisher
}

func NewWorker(store WorkerStore, service Service, publisher ResultPublisher) *Worker {
	return &Worker{store: store, service: service, publisher: publisher}
}

func (w *Worker) ProcessBatch(ctx context.Context, batch models.ObservationBatch) error {
	if len(batch.Observations) == 0 {
		return nil
	}

	st, err := w.store.GetStream(ctx, batch.StreamID)
	if err != nil {
		return fmt.Errorf("load stream %s: %w", batch.StreamID, err)
	}

	resp, err := w.service.Analyze(ctx, Request{
		StreamID:     batch.StreamID,
		Observations: batch.Observations,
		PriorState:   st.StateSummary,
	})
	if err != nil {
		return fmt.Errorf("analyze batch for %s: %w", batch.StreamID, err)
	}

	sourceIDs := make([]uuid.UUID, 0, len(batch.Observations))
	for _, obs := range batch.Observations {
		sourceIDs = append(sourceIDs, obs.ID)
	}

	result := models.AnalysisResult{
		StreamID:     st.ID,
		IncidentID:   st.IncidentID,
		UpdatedState: resp.UpdatedState,
	}

	for _, re := range resp.Events {
		ev := &models.TimelineEvent{
			StreamID:     st.ID,
			Timestamp:    re.Timestamp,
			Description:  re.Description,
			FromState:    re.FromState,
			ToState:      re.ToState,
			Confidence:   clamp01(re.Confidence),
			SourceObsIDs: re.SourceObsIDs,
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		if len(ev.SourceObsIDs) == 0 {
			ev.SourceObsIDs = sourceIDs
		}
		if err := w.store.CreateTimelineEvent(ctx, ev); err != nil {
			return fmt.Errorf("persist timeline event: %w", err)
		}
		result.Events = append(result.Events, *ev)
	}

	if resp.UpdatedState != "" {
		if err := w.store.UpdateStreamState(ctx, st.ID, resp.UpdatedState); err != nil {
			return fmt.Errorf("update stream state: %w", err)
		}
	}

	if err := w.publisher.PublishResult(ctx, result); err != nil {
		// Persisted state is already correct; only fan-out is lost.
		slog.Warn("publish analysis result failed", "stream_id", st.ID, "error", err)
	}

	slog.Info("batch analyzed", "stream_id", st.ID,
		"observations", len(batch.Observations), "events", len(result.Events))
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
