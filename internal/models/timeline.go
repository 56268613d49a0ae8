package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TimelineEvent is a human-readable state-change summary produced by the
// analysis collaborator from a batch of observations. Never mutated after
// creation.
type TimelineEvent struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	StreamID     string          `json:"stream_id" db:"stream_id"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
	Description  string          `json:"description" db:"description"`
	FromState    json.RawMessage `json:"from_state,omitempty" db:"from_state"`
	ToState      json.RawMessage `json:"to_state,omitempty" db:"to_state"`
	Confidence   float64         `json:"confidence" db:"confidence"`
	SourceObsIDs []uuid.UUID     `json:"source_observation_ids" db:"source_observation_ids"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// AnalysisResult is what the worker publishes back after analyzing a batch:
// the persisted timeline events plus the stream's updated state summary.
type AnalysisResult struct {
	StreamID     string          `json:"stream_id"`
	IncidentID   *uuid.UUID      `json:"incident_id,omitempty"`
	Events       []TimelineEvent `json:"events"`
	UpdatedState string          `json:"updated_state"`
}
