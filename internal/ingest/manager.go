// Package ingest drives the observation intake pipeline: stream
// lookup-or-create with incident assignment, observation persistence,
// batch scheduling and broadcast of arrival events.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/scenewatch/internal/models"
	"github.com/your-org/scenewatch/internal/observability"
	"github.com/your-org/scenewatch/internal/storage"
	"github.com/your-org/scenewatch/pkg/dto"
)

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// Store is the slice of persistence the ingest pipeline needs.
type Store interface {
	CreateStreamIfAbsent(ctx context.Context, st *models.Stream) (bool, error)
	GetStream(ctx context.Context, id string) (*models.Stream, error)
	EndStream(ctx context.Context, id string, endedAt time.Time) (bool, error)
	CreateObservation(ctx context.Context, obs *models.Observation) error
}

// Assigner resolves a stream's location and start time to an incident.
type Assigner interface {
	Assign(ctx context.Context, lat, lng float64, startTime time.Time) (uuid.UUID, error)
}

// Scheduler receives persisted observations for batching.
type Scheduler interface {
	Add(ctx context.Context, key string, obs models.Observation)
}

// Broadcaster is the sink for derived events.
type Broadcaster interface {
	Publish(ev dto.Event)
}

// ArtifactStore archives oversized observation payloads.
type ArtifactStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Manager owns the shared ingest pipeline used by both the session
// transport and the one-shot submission endpoint.
type Manager struct {
	store     Store
	assigner  Assigner
	scheduler Scheduler
	hub       Broadcaster
	artifacts ArtifactStore
	maxInline int

	// creating serializes stream creation per stream id so two concurrent
	// inits for the same never-before-seen id cannot both win the
	// read-then-write race in process. The persistence layer's conflict
	// handling covers racers on other nodes.
	mu       sync.Mutex
	creating map[string]*sync.Mutex
}

func NewManager(store Store, assigner Assigner, scheduler Scheduler, hub Broadcaster, artifacts ArtifactStore, maxInlinePayload int) *Manager {
	return &Manager{
		store:     store,
		assigner:  assigner,
		scheduler: scheduler,
		hub:       hub,
		artifacts: artifacts,
		maxInline: maxInlinePayload,
		creating:  make(map[string]*sync.Mutex),
	}
}

func (m *Manager) streamLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.creating[id]
	if !ok {
		l = &sync.Mutex{}
		m.creating[id] = l
	}
	return l
}

// InitStream looks up the stream or creates it assigned to an incident.
// A stream is never created without an incident: assignment failures abort
// before any write. Returns the stream and whether it was newly created;
// creation publishes a newStream broadcast.
func (m *Manager) InitStream(ctx context.Context, streamID string, lat, lng float64, startedAt time.Time) (*models.Stream, bool, error) {
	l := m.streamLock(streamID)
	l.Lock()
	defer l.Unlock()

	st, err := m.store.GetStream(ctx, streamID)
	if err == nil {
		return st, false, nil
	}
	if !isNotFound(err) {
		return nil, false, fmt.Errorf("lookup stream: %w", err)
	}

	incidentID, err := m.assigner.Assign(ctx, lat, lng, startedAt)
	if err != nil {
		return nil, false, fmt.Errorf("assign incident: %w", err)
	}

	st = &models.Stream{
		ID:         streamID,
		IncidentID: &incidentID,
		Status:     models.StreamStatusLive,
		Latitude:   lat,
		Longitude:  lng,
		StartedAt:  startedAt,
	}
	created, err := m.store.CreateStreamIfAbsent(ctx, st)
	if err != nil {
		return nil, false, fmt.Errorf("create stream: %w", err)
	}

	if created {
		m.hub.Publish(dto.NewStreamEvent{
			Stream:     dto.FromStream(st),
			IncidentID: incidentID,
		})
	}
	return st, created, nil
}

// RecordObservation persists the observation, hands it to the batch
// scheduler under the stream's key, and broadcasts its arrival. The
// broadcast happens before analysis ever sees the batch.
func (m *Manager) RecordObservation(ctx context.Context, st *models.Stream, obs *models.Observation, path string) error {
	if obs.ID == uuid.Nil {
		obs.ID = uuid.New()
	}
	obs.StreamID = st.ID
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now().UTC()
	}
	if obs.Data == nil {
		obs.Data = json.RawMessage("{}")
	}

	if m.artifacts != nil && m.maxInline > 0 && len(obs.Data) > m.maxInline {
		key := fmt.Sprintf("payloads/%s/%s.json", st.ID, obs.ID)
		if err := m.artifacts.PutObject(ctx, key, obs.Data, "application/json"); err != nil {
			return fmt.Errorf("archive payload: %w", err)
		}
		obs.PayloadKey = key
		obs.Data = json.RawMessage(fmt.Sprintf(`{"payload_ref":%q}`, key))
	}

	if err := m.store.CreateObservation(ctx, obs); err != nil {
		return fmt.Errorf("persist observation: %w", err)
	}

	m.scheduler.Add(ctx, st.ID, *obs)

	m.hub.Publish(dto.ObservationReceivedEvent{
		Observation: dto.FromObservation(obs),
		IncidentID:  st.IncidentID,
	})
	observability.ObservationsIngested.WithLabelValues(path).Inc()
	return nil
}

// EndStream marks the stream ended and broadcasts the status change.
// Idempotent: only the first call mutates and broadcasts.
func (m *Manager) EndStream(ctx context.Context, st *models.Stream, endedAt time.Time) error {
	ended, err := m.store.EndStream(ctx, st.ID, endedAt)
	if err != nil {
		return fmt.Errorf("end stream: %w", err)
	}
	if !ended {
		return nil
	}
	m.hub.Publish(dto.StreamStatusChangedEvent{
		StreamID:   st.ID,
		Status:     string(models.StreamStatusEnded),
		IncidentID: st.IncidentID,
	})
	return nil
}
