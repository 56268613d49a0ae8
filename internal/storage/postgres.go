package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/scenewatch/internal/config"
	"github.com/your-org/scenewatch/internal/models"
)

// ErrNotFound is returned when a referenced incident or stream does not exist.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Incidents ---

func (s *PostgresStore) CreateIncident(ctx context.Context, lat, lng float64, openedAt time.Time) (*models.Incident, error) {
	inc := &models.Incident{
		ID:        uuid.New(),
		Status:    models.IncidentStatusActive,
		Latitude:  lat,
		Longitude: lng,
		OpenedAt:  openedAt,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO incidents (id, status, latitude, longitude, opened_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`,
		inc.ID, inc.Status, inc.Latitude, inc.Longitude, inc.OpenedAt,
	).Scan(&inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}
	return inc, nil
}

func (s *PostgresStore) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	inc := &models.Incident{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, latitude, longitude, opened_at, created_at, updated_at
		 FROM incidents WHERE id = $1`, id,
	).Scan(&inc.ID, &inc.Status, &inc.Latitude, &inc.Longitude, &inc.OpenedAt, &inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

func (s *PostgresStore) ListIncidents(ctx context.Context) ([]models.Incident, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, latitude, longitude, opened_at, created_at, updated_at
		 FROM incidents ORDER BY opened_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// ListActiveIncidentsSince returns active incidents opened at or after the
// given time, ordered by open-time then id so cluster assignment is
// deterministic for a fixed input set.
func (s *PostgresStore) ListActiveIncidentsSince(ctx context.Context, since time.Time) ([]models.Incident, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, latitude, longitude, opened_at, created_at, updated_at
		 FROM incidents WHERE status = $1 AND opened_at >= $2
		 ORDER BY opened_at ASC, id ASC`,
		models.IncidentStatusActive, since)
	if err != nil {
		return nil, fmt.Errorf("list active incidents: %w", err)
	}
	defer rows.Close()
	return scanIncidents(rows)
}

func scanIncidents(rows pgx.Rows) ([]models.Incident, error) {
	var incidents []models.Incident
	for rows.Next() {
		var inc models.Incident
		if err := rows.Scan(&inc.ID, &inc.Status, &inc.Latitude, &inc.Longitude,
			&inc.OpenedAt, &inc.CreatedAt, &inc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

func (s *PostgresStore) UpdateIncidentStatus(ctx context.Context, id uuid.UUID, status models.IncidentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE incidents SET status = $1, updated_at = now() WHERE id = $2`,
		status, id)
	if err != nil {
		return fmt.Errorf("update incident status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Streams ---

// CreateStreamIfAbsent inserts the stream unless a row with its id already
// exists. A losing racer rereads the winner's row, so concurrent inits for
// the same never-before-seen id resolve to exactly one stream.
func (s *PostgresStore) CreateStreamIfAbsent(ctx context.Context, st *models.Stream) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO streams (id, incident_id, status, latitude, longitude, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		st.ID, st.IncidentID, st.Status, st.Latitude, st.Longitude, st.StartedAt)
	if err != nil {
		return false, fmt.Errorf("create stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.GetStream(ctx, st.ID)
		if err != nil {
			return false, err
		}
		*st = *existing
		return false, nil
	}
	created, err := s.GetStream(ctx, st.ID)
	if err != nil {
		return true, err
	}
	*st = *created
	return true, nil
}

func (s *PostgresStore) GetStream(ctx context.Context, id string) (*models.Stream, error) {
	st := &models.Stream{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, incident_id, status, latitude, longitude, started_at, ended_at,
		        state_summary, artifact_url, created_at, updated_at
		 FROM streams WHERE id = $1`, id,
	).Scan(&st.ID, &st.IncidentID, &st.Status, &st.Latitude, &st.Longitude,
		&st.StartedAt, &st.EndedAt, &st.StateSummary, &st.ArtifactURL,
		&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) ListStreams(ctx context.Context) ([]models.Stream, error) {
	return s.queryStreams(ctx,
		`SELECT id, incident_id, status, latitude, longitude, started_at, ended_at,
		        state_summary, artifact_url, created_at, updated_at
		 FROM streams ORDER BY started_at DESC`)
}

func (s *PostgresStore) ListIncidentStreams(ctx context.Context, incidentID uuid.UUID) ([]models.Stream, error) {
	return s.queryStreams(ctx,
		`SELECT id, incident_id, status, latitude, longitude, started_at, ended_at,
		        state_summary, artifact_url, created_at, updated_at
		 FROM streams WHERE incident_id = $1 ORDER BY started_at ASC`, incidentID)
}

func (s *PostgresStore) queryStreams(ctx context.Context, query string, args ...any) ([]models.Stream, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var streams []models.Stream
	for rows.Next() {
		var st models.Stream
		if err := rows.Scan(&st.ID, &st.IncidentID, &st.Status, &st.Latitude, &st.Longitude,
			&st.StartedAt, &st.EndedAt, &st.StateSummary, &st.ArtifactURL,
			&st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		streams = append(streams, st)
	}
	return streams, rows.Err()
}

// EndStream marks a live stream as ended. Returns false when the stream was
// already ended, so closure stays idempotent.
func (s *PostgresStore) EndStream(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE streams SET status = $1, ended_at = $2, updated_at = now()
		 WHERE id = $3 AND status = $4`,
		models.StreamStatusEnded, endedAt, id, models.StreamStatusLive)
	if err != nil {
		return false, fmt.Errorf("end stream: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpdateStreamState(ctx context.Context, id, summary string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE streams SET state_summary = $1, updated_at = now() WHERE id = $2`,
		summary, id)
	if err != nil {
		return fmt.Errorf("update stream state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateStreamArtifact(ctx context.Context, id, artifactURL string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE streams SET artifact_url = $1, status = $2, updated_at = now()
		 WHERE id = $3 AND status = $4`,
		artifactURL, models.StreamStatusRecorded, id, models.StreamStatusEnded)
	if err != nil {
		return fmt.Errorf("update stream artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Observations ---

func (s *PostgresStore) CreateObservation(ctx context.Context, obs *models.Observation) error {
	if obs.ID == uuid.Nil {
		obs.ID = uuid.New()
	}
	if obs.Data == nil {
		obs.Data = json.RawMessage("{}")
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO observations (id, stream_id, timestamp, latitude, longitude, type, scenario, data, payload_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at`,
		obs.ID, obs.StreamID, obs.Timestamp, obs.Latitude, obs.Longitude,
		obs.Type, obs.Scenario, obs.Data, obs.PayloadKey,
	).Scan(&obs.CreatedAt)
	if err != nil {
		return fmt.Errorf("create observation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetObservation(ctx context.Context, id uuid.UUID) (*models.Observation, error) {
	obs := &models.Observation{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, stream_id, timestamp, latitude, longitude, type, scenario, data, payload_key, created_at
		 FROM observations WHERE id = $1`, id,
	).Scan(&obs.ID, &obs.StreamID, &obs.Timestamp, &obs.Latitude, &obs.Longitude,
		&obs.Type, &obs.Scenario, &obs.Data, &obs.PayloadKey, &obs.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get observation: %w", err)
	}
	return obs, nil
}

func (s *PostgresStore) ListObservations(ctx context.Context, streamID string, limit int) ([]models.Observation, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, stream_id, timestamp, latitude, longitude, type, scenario, data, payload_key, created_at
		 FROM observations WHERE stream_id = $1 ORDER BY timestamp DESC LIMIT $2`,
		streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	var observations []models.Observation
	for rows.Next() {
		var obs models.Observation
		if err := rows.Scan(&obs.ID, &obs.StreamID, &obs.Timestamp, &obs.Latitude, &obs.Longitude,
			&obs.Type, &obs.Scenario, &obs.Data, &obs.PayloadKey, &obs.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

// --- Timeline events ---

func (s *PostgresStore) CreateTimelineEvent(ctx context.Context, ev *models.TimelineEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	sourceIDs, err := json.Marshal(ev.SourceObsIDs)
	if err != nil {
		return fmt.Errorf("marshal source observation ids: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO timeline_events (id, stream_id, timestamp, description, from_state, to_state, confidence, source_observation_ids)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
		ev.ID, ev.StreamID, ev.Timestamp, ev.Description, ev.FromState, ev.ToState,
		ev.Confidence, sourceIDs,
	).Scan(&ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("create timeline event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTimelineEvents(ctx context.Context, streamID string, limit int) ([]models.TimelineEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, stream_id, timestamp, description, from_state, to_state, confidence, source_observation_ids, created_at
		 FROM timeline_events WHERE stream_id = $1 ORDER BY timestamp ASC LIMIT $2`,
		streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer rows.Close()

	var events []models.TimelineEvent
	for rows.Next() {
		var ev models.TimelineEvent
		var sourceIDs []byte
		if err := rows.Scan(&ev.ID, &ev.StreamID, &ev.Timestamp, &ev.Description,
			&ev.FromState, &ev.ToState, &ev.Confidence, &sourceIDs, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		if len(sourceIDs) > 0 {
			if err := json.Unmarshal(sourceIDs, &ev.SourceObsIDs); err != nil {
				return nil, fmt.Errorf("unmarshal source observation ids: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Incident state (late-join baseline) ---

// IncidentState is the materialized view pushed to a topic subscriber right
// after it connects.
type IncidentState struct {
	Incident *models.Incident       `json:"incident"`
	Streams  []models.Stream        `json:"streams"`
	Timeline []models.TimelineEvent `json:"timeline"`
}

func (s *PostgresStore) GetIncidentState(ctx context.Context, incidentID uuid.UUID) (*IncidentState, error) {
	inc, err := s.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	streams, err := s.ListIncidentStreams(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	state := &IncidentState{Incident: inc, Streams: streams}
	for _, st := range streams {
		events, err := s.ListTimelineEvents(ctx, st.ID, 100)
		if err != nil {
			return nil, err
		}
		state.Timeline = append(state.Timeline, events...)
	}
	return state, nil
}
