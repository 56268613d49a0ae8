package models

import (
	"time"

	"github.com/google/uuid"
)

type StreamStatus string

const (
	StreamStatusLive     StreamStatus = "live"
	StreamStatusEnded    StreamStatus = "ended"
	StreamStatusRecorded StreamStatus = "recorded"
)

// Stream is one device's continuous observation session. The id is supplied
// by the device and must be globally unique; the incident assignment may be
// null for streams whose clustering never resolved.
type Stream struct {
	ID           string       `json:"id" db:"id"`
	IncidentID   *uuid.UUID   `json:"incident_id,omitempty" db:"incident_id"`
	Status       StreamStatus `json:"status" db:"status"`
	Latitude     float64      `json:"latitude" db:"latitude"`
	Longitude    float64      `json:"longitude" db:"longitude"`
	StartedAt    time.Time    `json:"started_at" db:"started_at"`
	EndedAt      *time.Time   `json:"ended_at,omitempty" db:"ended_at"`
	StateSummary string       `json:"state_summary,omitempty" db:"state_summary"`
	ArtifactURL  string       `json:"artifact_url,omitempty" db:"artifact_url"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}
