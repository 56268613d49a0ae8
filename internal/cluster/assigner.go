// Package cluster assigns observation streams to spatio-temporally
// coherent incidents.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/scenewatch/internal/config"
	"github.com/your-org/scenewatch/internal/geo"
	"github.com/your-org/scenewatch/internal/models"
	"github.com/your-org/scenewatch/internal/observability"
)

// IncidentStore is the slice of persistence the assigner needs.
type IncidentStore interface {
	ListActiveIncidentsSince(ctx context.Context, since time.Time) ([]models.Incident, error)
	CreateIncident(ctx context.Context, lat, lng float64, openedAt time.Time) (*models.Incident, error)
}

// Assigner finds a compatible open incident for a new stream or opens a
// new one. Assign is serialized by a mutex so two concurrent arrivals at
// the same coordinates observe each other's creations and never open
// duplicate incidents.
type Assigner struct {
	store IncidentStore
	cfg   config.ClusterConfig

	mu sync.Mutex
}

func NewAssigner(store IncidentStore, cfg config.ClusterConfig) *Assigner {
	return &Assigner{store: store, cfg: cfg}
}

// Assign returns the id of the nearest active incident opened within the
// configured time window and at most the configured radius away (boundary
// included). Ties go to the earliest-opened incident, then the smallest
// id, so the result is deterministic for a fixed incident set. When no
// incident matches, a new one is created anchored at the given location.
func (a *Assigner) Assign(ctx context.Context, lat, lng float64, startTime time.Time) (uuid.UUID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	since := startTime.Add(-a.cfg.TimeWindow)
	candidates, err := a.store.ListActiveIncidentsSince(ctx, since)
	if err != nil {
		return uuid.Nil, fmt.Errorf("scan active incidents: %w", err)
	}

	best := -1
	bestDist := 0.0
	for i, inc := range candidates {
		d := geo.Haversine(lat, lng, inc.Latitude, inc.Longitude)
		if d > a.cfg.RadiusMeters {
			continue
		}
		// Candidates arrive ordered by open-time then id, so keeping the
		// first strictly-closer match resolves ties deterministically.
		if best == -1 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	if best >= 0 {
		inc := candidates[best]
		slog.Debug("assigned stream to incident",
			"incident_id", inc.ID, "distance_m", bestDist)
		return inc.ID, nil
	}

	inc, err := a.store.CreateIncident(ctx, lat, lng, startTime)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create incident: %w", err)
	}
	observability.IncidentsCreated.Inc()
	slog.Info("opened new incident", "incident_id", inc.ID, "lat", lat, "lng", lng)
	return inc.ID, nil
}
