package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Observation is a single timestamped, located analysis result pushed by a
// field device. Immutable once persisted.
type Observation struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	StreamID  string          `json:"stream_id" db:"stream_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Latitude  float64         `json:"latitude" db:"latitude"`
	Longitude float64         `json:"longitude" db:"longitude"`
	Type      string          `json:"type" db:"type"`
	Scenario  string          `json:"scenario" db:"scenario"`
	Data      json.RawMessage `json:"data" db:"data"`
	// PayloadKey references an archived copy of an oversized payload in
	// object storage; empty when the payload fits inline.
	PayloadKey string    `json:"payload_key,omitempty" db:"payload_key"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ObservationBatch is the message handed from the batch scheduler to the
// analysis worker over the queue.
type ObservationBatch struct {
	StreamID     string        `json:"stream_id"`
	Observations []Observation `json:"observations"`
	EnqueuedAt   time.Time     `json:"enqueued_at"`
}
