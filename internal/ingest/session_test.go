package ingest

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/scenewatch/internal/models"
	"github.com/your-org/scenewatch/internal/storage"
	"github.com/your-org/scenewatch/pkg/dto"
)

type fakeStore struct {
	mu           sync.Mutex
	streams      map[string]*models.Stream
	observations []models.Observation
	endCalls     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{streams: make(map[string]*models.Stream)}
}

func (f *fakeStore) CreateStreamIfAbsent(_ context.Context, st *models.Stream) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.streams[st.ID]; ok {
		*st = *existing
		return false, nil
	}
	cp := *st
	f.streams[st.ID] = &cp
	return true, nil
}

func (f *fakeStore) GetStream(_ context.Context, id string) (*models.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.streams[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (f *fakeStore) EndStream(_ context.Context, id string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls++
	st, ok := f.streams[id]
	if !ok || st.Status != models.StreamStatusLive {
		return false, nil
	}
	st.Status = models.StreamStatusEnded
	return true, nil
}

func (f *fakeStore) CreateObservation(_ context.Context, obs *models.Observation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observations = append(f.observations, *obs)
	return nil
}

func (f *fakeStore) observationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.observations)
}

type fakeAssigner struct {
	mu         sync.Mutex
	incidentID uuid.UUID
	calls      int
}

func (f *fakeAssigner) Assign(_ context.Context, _, _ float64, _ time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.incidentID == uuid.Nil {
		f.incidentID = uuid.New()
	}
	return f.incidentID, nil
}

type fakeScheduler struct {
	mu    sync.Mutex
	added []models.Observation
}

func (f *fakeScheduler) Add(_ context.Context, _ string, obs models.Observation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, obs)
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []dto.Event
}

func (f *fakeBroadcaster) Publish(ev dto.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeBroadcaster) typeCounts() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int)
	for _, ev := range f.events {
		counts[ev.EventType()]++
	}
	return counts
}

// fakeConn feeds a scripted sequence of device messages and records every
// reply written back.
type fakeConn struct {
	mu      sync.Mutex
	inbox   []dto.DeviceMessage
	replies []dto.ServerReply
	closed  bool
}

func (f *fakeConn) ReadJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) == 0 {
		return io.ErrUnexpectedEOF
	}
	msg := f.inbox[0]
	f.inbox = f.inbox[1:]
	*(v.(*dto.DeviceMessage)) = msg
	return nil
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, v.(dto.ServerReply))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type testPipeline struct {
	store     *fakeStore
	assigner  *fakeAssigner
	scheduler *fakeScheduler
	hub       *fakeBroadcaster
	manager   *Manager
}

func newTestPipeline() *testPipeline {
	p := &testPipeline{
		store:     newFakeStore(),
		assigner:  &fakeAssigner{},
		scheduler: &fakeScheduler{},
		hub:       &fakeBroadcaster{},
	}
	p.manager = NewManager(p.store, p.assigner, p.scheduler, p.hub, nil, 0)
	return p
}

func ptr[T any](v T) *T { return &v }

func initMsg(streamID string) dto.DeviceMessage {
	return dto.DeviceMessage{
		Type:      dto.MessageInit,
		StreamID:  streamID,
		Latitude:  ptr(37.7749),
		Longitude: ptr(-122.4194),
	}
}

func obsMsg(scenario string) dto.DeviceMessage {
	return dto.DeviceMessage{
		Type:     dto.MessageObservation,
		Scenario: scenario,
		ObsType:  "visual",
		Data:     json.RawMessage(`{"severity":3}`),
	}
}

func runSession(t *testing.T, p *testPipeline, msgs ...dto.DeviceMessage) *fakeConn {
	t.Helper()
	conn := &fakeConn{inbox: msgs}
	NewSession(p.manager, conn).Run(context.Background())
	assert.True(t, conn.closed, "session must close its connection")
	return conn
}

func TestSessionInitCreatesStreamAndReportsReady(t *testing.T) {
	p := newTestPipeline()
	conn := runSession(t, p, initMsg("cam-1"))

	require.Len(t, conn.replies, 1)
	reply := conn.replies[0]
	assert.Equal(t, dto.ReplyReady, reply.Type)
	assert.Equal(t, "cam-1", reply.StreamID)
	require.NotNil(t, reply.Created)
	assert.True(t, *reply.Created)
	require.NotNil(t, reply.IncidentID)
	assert.Equal(t, p.assigner.incidentID, *reply.IncidentID)

	counts := p.hub.typeCounts()
	assert.Equal(t, 1, counts[dto.EventNewStream])
}

func TestSessionObservationBeforeInitRejected(t *testing.T) {
	p := newTestPipeline()
	conn := runSession(t, p, obsMsg("fire"))

	require.Len(t, conn.replies, 1)
	assert.Equal(t, dto.ReplyError, conn.replies[0].Type)
	assert.Equal(t, dto.CodeProtocolState, conn.replies[0].Code)
	assert.Equal(t, 0, p.store.observationCount())
}

func TestSessionDuplicateInitRejected(t *testing.T) {
	p := newTestPipeline()
	second := initMsg("cam-other")
	conn := runSession(t, p, initMsg("cam-1"), second)

	require.Len(t, conn.replies, 2)
	assert.Equal(t, dto.ReplyReady, conn.replies[0].Type)
	assert.Equal(t, dto.ReplyError, conn.replies[1].Type)
	assert.Equal(t, dto.CodeProtocolState, conn.replies[1].Code)

	// The duplicate init's fields were ignored: no second stream exists.
	_, err := p.store.GetStream(context.Background(), "cam-other")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionInitMissingFieldsRejectedButRetryable(t *testing.T) {
	p := newTestPipeline()
	bad := dto.DeviceMessage{Type: dto.MessageInit, StreamID: "cam-1"}
	conn := runSession(t, p, bad, initMsg("cam-1"))

	require.Len(t, conn.replies, 2)
	assert.Equal(t, dto.ReplyError, conn.replies[0].Type)
	assert.Equal(t, dto.CodeValidation, conn.replies[0].Code)
	assert.Equal(t, dto.ReplyReady, conn.replies[1].Type)
}

func TestSessionObservationAckedAndScheduled(t *testing.T) {
	p := newTestPipeline()
	conn := runSession(t, p, initMsg("cam-1"), obsMsg("fire"))

	require.Len(t, conn.replies, 2)
	ack := conn.replies[1]
	assert.Equal(t, dto.ReplyAck, ack.Type)
	require.NotNil(t, ack.ObservationID)

	require.Equal(t, 1, p.store.observationCount())
	stored := p.store.observations[0]
	assert.Equal(t, *ack.ObservationID, stored.ID)
	assert.Equal(t, "cam-1", stored.StreamID)
	assert.Equal(t, "fire", stored.Scenario)
	assert.False(t, stored.Timestamp.IsZero())
	// Location defaults to the stream's when the message carries none.
	assert.Equal(t, 37.7749, stored.Latitude)

	require.Len(t, p.scheduler.added, 1)
	assert.Equal(t, stored.ID, p.scheduler.added[0].ID)

	counts := p.hub.typeCounts()
	assert.Equal(t, 1, counts[dto.EventObservationReceived])
}

func TestSessionObservationMissingScenarioKeepsConnectionUsable(t *testing.T) {
	p := newTestPipeline()
	conn := runSession(t, p, initMsg("cam-1"), obsMsg(""), obsMsg("flood"))

	require.Len(t, conn.replies, 3)
	assert.Equal(t, dto.ReplyError, conn.replies[1].Type)
	assert.Equal(t, dto.CodeValidation, conn.replies[1].Code)
	assert.Equal(t, dto.ReplyAck, conn.replies[2].Type)
	assert.Equal(t, 1, p.store.observationCount())
}

func TestSessionUnknownMessageTypeRejected(t *testing.T) {
	p := newTestPipeline()
	conn := runSession(t, p, dto.DeviceMessage{Type: "telemetry"})

	require.Len(t, conn.replies, 1)
	assert.Equal(t, dto.CodeValidation, conn.replies[0].Code)
}

func TestSessionStreamEndedFinalizesOnce(t *testing.T) {
	p := newTestPipeline()
	runSession(t, p, initMsg("cam-1"), dto.DeviceMessage{Type: dto.MessageStreamEnded})

	st, err := p.store.GetStream(context.Background(), "cam-1")
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusEnded, st.Status)

	// streamEnded plus the deferred finalize on Run exit must only end once.
	counts := p.hub.typeCounts()
	assert.Equal(t, 1, counts[dto.EventStreamStatusChanged])
	assert.Equal(t, 1, p.store.endCalls)
}

func TestSessionDisconnectWithoutInitMutatesNothing(t *testing.T) {
	p := newTestPipeline()
	runSession(t, p)

	assert.Equal(t, 0, p.store.endCalls)
	assert.Empty(t, p.hub.typeCounts())
}

func TestSessionDisconnectWhileActiveEndsStream(t *testing.T) {
	p := newTestPipeline()
	runSession(t, p, initMsg("cam-1"))

	st, err := p.store.GetStream(context.Background(), "cam-1")
	require.NoError(t, err)
	assert.Equal(t, models.StreamStatusEnded, st.Status)
	assert.Equal(t, 1, p.hub.typeCounts()[dto.EventStreamStatusChanged])
}

func TestInitStreamReusesExistingStream(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()

	first, created, err := p.manager.InitStream(ctx, "cam-1", 37.7749, -122.4194, time.Now())
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := p.manager.InitStream(ctx, "cam-1", 40.0, -70.0, time.Now())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Latitude, second.Latitude)

	// Only the creating init assigns and announces.
	assert.Equal(t, 1, p.assigner.calls)
	assert.Equal(t, 1, p.hub.typeCounts()[dto.EventNewStream])
}

func TestInitStreamConcurrentSameIDCreatesOnce(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()

	var wg sync.WaitGroup
	createdCount := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := p.manager.InitStream(ctx, "cam-1", 37.7749, -122.4194, time.Now())
			assert.NoError(t, err)
			createdCount[i] = created
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, c := range createdCount {
		if c {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, p.hub.typeCounts()[dto.EventNewStream])
}

func TestEndStreamIdempotent(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()

	st, _, err := p.manager.InitStream(ctx, "cam-1", 37.7749, -122.4194, time.Now())
	require.NoError(t, err)

	require.NoError(t, p.manager.EndStream(ctx, st, time.Now()))
	require.NoError(t, p.manager.EndStream(ctx, st, time.Now()))

	assert.Equal(t, 1, p.hub.typeCounts()[dto.EventStreamStatusChanged])
}

type fakeArtifacts struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (f *fakeArtifacts) PutObject(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objs == nil {
		f.objs = make(map[string][]byte)
	}
	f.objs[key] = data
	return nil
}

func TestRecordObservationArchivesOversizedPayload(t *testing.T) {
	p := newTestPipeline()
	artifacts := &fakeArtifacts{}
	p.manager = NewManager(p.store, p.assigner, p.scheduler, p.hub, artifacts, 32)
	ctx := context.Background()

	st, _, err := p.manager.InitStream(ctx, "cam-1", 37.7749, -122.4194, time.Now())
	require.NoError(t, err)

	big := json.RawMessage(`{"frames":"` + strings.Repeat("x", 64) + `"}`)
	obs := &models.Observation{Scenario: "fire", Data: big}
	require.NoError(t, p.manager.RecordObservation(ctx, st, obs, "session"))

	require.Len(t, artifacts.objs, 1)
	assert.NotEmpty(t, obs.PayloadKey)
	assert.Equal(t, []byte(big), artifacts.objs[obs.PayloadKey])
	// The inline copy is replaced by a reference stub.
	assert.Contains(t, string(obs.Data), "payload_ref")
}
