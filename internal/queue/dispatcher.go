package queue

import (
	"context"
	"time"

	"github.com/your-org/scenewatch/internal/models"
)

// BatchDispatcher adapts the producer to the batch scheduler's Analyzer
// seam: a ready batch is handed off by publishing it to the BATCHES
// stream, where an analysis worker picks it up. Once the publish
// succeeds the scheduler's at-most-once obligation is met.
type BatchDispatcher struct {
	producer *Producer
}

func NewBatchDispatcher(producer *Producer) *BatchDispatcher {
	return &BatchDispatcher{producer: producer}
}

func (d *BatchDispatcher) Analyze(ctx context.Context, streamID string, observations []models.Observation) error {
	return d.producer.PublishBatch(ctx, models.ObservationBatch{
		StreamID:     streamID,
		Observations: observations,
		EnqueuedAt:   time.Now().UTC(),
	})
}
