package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/scenewatch/internal/config"
	"github.com/your-org/scenewatch/internal/geo"
	"github.com/your-org/scenewatch/internal/models"
)

type fakeIncidentStore struct {
	mu        sync.Mutex
	incidents []models.Incident
	creates   int
}

func (f *fakeIncidentStore) ListActiveIncidentsSince(_ context.Context, since time.Time) ([]models.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Incident
	for _, inc := range f.incidents {
		if inc.Status == models.IncidentStatusActive && !inc.OpenedAt.Before(since) {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (f *fakeIncidentStore) CreateIncident(_ context.Context, lat, lng float64, openedAt time.Time) (*models.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc := models.Incident{
		ID:        uuid.New(),
		Status:    models.IncidentStatusActive,
		Latitude:  lat,
		Longitude: lng,
		OpenedAt:  openedAt,
	}
	f.incidents = append(f.incidents, inc)
	f.creates++
	return &inc, nil
}

func newTestAssigner(store *fakeIncidentStore) *Assigner {
	return NewAssigner(store, config.ClusterConfig{
		RadiusMeters: 500,
		TimeWindow:   2 * time.Hour,
	})
}

func TestAssignCreatesIncidentWhenNoneMatch(t *testing.T) {
	store := &fakeIncidentStore{}
	a := newTestAssigner(store)

	id, err := a.Assign(context.Background(), 37.7749, -122.4194, time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, 1, store.creates)
}

func TestAssignReusesNearbyIncident(t *testing.T) {
	store := &fakeIncidentStore{}
	a := newTestAssigner(store)
	now := time.Now()

	first, err := a.Assign(context.Background(), 37.7749, -122.4194, now)
	require.NoError(t, err)

	// One street over, a minute later: same incident.
	second, err := a.Assign(context.Background(), 37.7750, -122.4195, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.creates)
}

func TestAssignDistantLocationCreatesNewIncident(t *testing.T) {
	store := &fakeIncidentStore{}
	a := newTestAssigner(store)
	now := time.Now()

	first, err := a.Assign(context.Background(), 37.7749, -122.4194, now)
	require.NoError(t, err)

	// Across the bay, well beyond 500 m.
	second, err := a.Assign(context.Background(), 37.8044, -122.2712, now)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, store.creates)
}

func TestAssignOutsideTimeWindowCreatesNewIncident(t *testing.T) {
	store := &fakeIncidentStore{}
	a := newTestAssigner(store)
	now := time.Now()

	first, err := a.Assign(context.Background(), 37.7749, -122.4194, now)
	require.NoError(t, err)

	second, err := a.Assign(context.Background(), 37.7749, -122.4194, now.Add(3*time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestAssignBoundaryRadiusIncluded(t *testing.T) {
	store := &fakeIncidentStore{}
	now := time.Now()

	lat1, lng1 := 37.7749, -122.4194
	lat2, lng2 := 37.7750, -122.4195
	exact := geo.Haversine(lat1, lng1, lat2, lng2)

	a := NewAssigner(store, config.ClusterConfig{
		RadiusMeters: exact,
		TimeWindow:   2 * time.Hour,
	})

	first, err := a.Assign(context.Background(), lat1, lng1, now)
	require.NoError(t, err)

	second, err := a.Assign(context.Background(), lat2, lng2, now)
	require.NoError(t, err)
	assert.Equal(t, first, second, "a stream exactly at the boundary radius joins the incident")
}

func TestAssignPicksNearestIncident(t *testing.T) {
	store := &fakeIncidentStore{}
	a := newTestAssigner(store)
	now := time.Now()

	// Two incidents roughly 800 m apart; a point between them is within
	// the 500 m radius of both.
	far, err := a.Assign(context.Background(), 37.7749, -122.4194, now)
	require.NoError(t, err)
	near, err := a.Assign(context.Background(), 37.7821, -122.4194, now)
	require.NoError(t, err)
	require.NotEqual(t, far, near, "test incidents must be distinct")

	got, err := a.Assign(context.Background(), 37.7790, -122.4194, now)
	require.NoError(t, err)
	assert.Equal(t, near, got)
}

func TestAssignConcurrentArrivalsCreateOneIncident(t *testing.T) {
	store := &fakeIncidentStore{}
	a := newTestAssigner(store)
	now := time.Now()

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := a.Assign(context.Background(), 37.7749, -122.4194, now)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.creates)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}
