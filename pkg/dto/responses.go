package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/scenewatch/internal/models"
)

type IncidentResponse struct {
	ID        uuid.UUID `json:"id"`
	Status    string    `json:"status"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	OpenedAt  string    `json:"opened_at"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
}

type IncidentListResponse struct {
	Incidents []IncidentResponse `json:"incidents"`
	Total     int                `json:"total"`
}

type StreamResponse struct {
	ID           string     `json:"id"`
	IncidentID   *uuid.UUID `json:"incident_id,omitempty"`
	Status       string     `json:"status"`
	Latitude     float64    `json:"latitude"`
	Longitude    float64    `json:"longitude"`
	StartedAt    string     `json:"started_at"`
	EndedAt      string     `json:"ended_at,omitempty"`
	StateSummary string     `json:"state_summary,omitempty"`
	ArtifactURL  string     `json:"artifact_url,omitempty"`
}

type StreamListResponse struct {
	Streams []StreamResponse `json:"streams"`
	Total   int              `json:"total"`
}

type ObservationResponse struct {
	ID        uuid.UUID       `json:"id"`
	StreamID  string          `json:"stream_id"`
	Timestamp string          `json:"timestamp"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Type      string          `json:"type,omitempty"`
	Scenario  string          `json:"scenario"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type ObservationListResponse struct {
	Observations []ObservationResponse `json:"observations"`
	Total        int                   `json:"total"`
}

type TimelineEventResponse struct {
	ID           uuid.UUID       `json:"id"`
	StreamID     string          `json:"stream_id"`
	Timestamp    string          `json:"timestamp"`
	Description  string          `json:"description"`
	FromState    json.RawMessage `json:"from_state,omitempty"`
	ToState      json.RawMessage `json:"to_state,omitempty"`
	Confidence   float64         `json:"confidence"`
	SourceObsIDs []uuid.UUID     `json:"source_observation_ids,omitempty"`
}

type TimelineListResponse struct {
	Events []TimelineEventResponse `json:"events"`
	Total  int                     `json:"total"`
}

// SubmitObservationRequest is the one-shot submission path for devices that
// cannot hold an open ingestion connection.
type SubmitObservationRequest struct {
	StreamID  string          `json:"stream_id" binding:"required"`
	Latitude  *float64        `json:"latitude" binding:"required"`
	Longitude *float64        `json:"longitude" binding:"required"`
	ObsType   string          `json:"obs_type"`
	Scenario  string          `json:"scenario" binding:"required"`
	Data      json.RawMessage `json:"data"`
	Timestamp *time.Time      `json:"timestamp"`
}

type UpdateIncidentStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active resolved archived"`
}

// RegisterArtifactRequest attaches a recorded artifact to an ended stream.
type RegisterArtifactRequest struct {
	ArtifactURL string `json:"artifact_url" binding:"required,url"`
}

func FromIncident(inc *models.Incident) IncidentResponse {
	return IncidentResponse{
		ID:        inc.ID,
		Status:    string(inc.Status),
		Latitude:  inc.Latitude,
		Longitude: inc.Longitude,
		OpenedAt:  inc.OpenedAt.Format(time.RFC3339),
		CreatedAt: inc.CreatedAt.Format(time.RFC3339),
		UpdatedAt: inc.UpdatedAt.Format(time.RFC3339),
	}
}

func FromStream(st *models.Stream) StreamResponse {
	resp := StreamResponse{
		ID:           st.ID,
		IncidentID:   st.IncidentID,
		Status:       string(st.Status),
		Latitude:     st.Latitude,
		Longitude:    st.Longitude,
		StartedAt:    st.StartedAt.Format(time.RFC3339),
		StateSummary: st.StateSummary,
		ArtifactURL:  st.ArtifactURL,
	}
	if st.EndedAt != nil {
		resp.EndedAt = st.EndedAt.Format(time.RFC3339)
	}
	return resp
}

func FromObservation(obs *models.Observation) ObservationResponse {
	return ObservationResponse{
		ID:        obs.ID,
		StreamID:  obs.StreamID,
		Timestamp: obs.Timestamp.Format(time.RFC3339),
		Latitude:  obs.Latitude,
		Longitude: obs.Longitude,
		Type:      obs.Type,
		Scenario:  obs.Scenario,
		Data:      obs.Data,
	}
}

func FromTimelineEvent(ev *models.TimelineEvent) TimelineEventResponse {
	return TimelineEventResponse{
		ID:           ev.ID,
		StreamID:     ev.StreamID,
		Timestamp:    ev.Timestamp.Format(time.RFC3339),
		Description:  ev.Description,
		FromState:    ev.FromState,
		ToState:      ev.ToState,
		Confidence:   ev.Confidence,
		SourceObsIDs: ev.SourceObsIDs,
	}
}
