package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/scenewatch/internal/config"
	"github.com/your-org/scenewatch/internal/models"
)

type analyzerCall struct {
	streamID string
	batch    []models.Observation
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls []analyzerCall
	delay time.Duration
	err   error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, streamID string, observations []models.Observation) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, analyzerCall{streamID: streamID, batch: observations})
	return f.err
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAnalyzer) call(i int) analyzerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func testConfig() config.BatchConfig {
	return config.BatchConfig{
		MinSize:         3,
		MaxSize:         5,
		Window:          50 * time.Millisecond,
		AnalysisTimeout: time.Second,
	}
}

func obs() models.Observation {
	return models.Observation{ID: uuid.New(), StreamID: "s1", Timestamp: time.Now()}
}

func TestMaxSizeTriggersImmediateFlush(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	s := NewScheduler(analyzer, testConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Add(ctx, "s1", obs())
	}

	// Flush happens synchronously on the max-size add, no waiting needed.
	require.Equal(t, 1, analyzer.callCount())
	assert.Len(t, analyzer.call(0).batch, 5)
	assert.Equal(t, "s1", analyzer.call(0).streamID)

	// The buffer is empty afterwards.
	assert.Nil(t, s.Flush(ctx, "s1", true))
}

func TestBelowMaxDoesNotFlushBeforeWindow(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	s := NewScheduler(analyzer, testConfig())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		s.Add(ctx, "s1", obs())
	}
	assert.Equal(t, 0, analyzer.callCount())
}

func TestTimerFlushesWhenMinSizeReached(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	s := NewScheduler(analyzer, testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.Add(ctx, "s1", obs())
	}

	require.Eventually(t, func() bool {
		return analyzer.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, analyzer.call(0).batch, 3)
}

func TestTimerRearmsBelowMinSize(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	s := NewScheduler(analyzer, testConfig())
	ctx := context.Background()

	s.Add(ctx, "s1", obs())
	s.Add(ctx, "s1", obs())

	// Several windows pass; the undersized buffer keeps re-arming.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, analyzer.callCount())

	// Reaching min size gets picked up on a later tick.
	s.Add(ctx, "s1", obs())
	require.Eventually(t, func() bool {
		return analyzer.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, analyzer.call(0).batch, 3)
}

func TestManualFlushBelowMinSizeIsNoOp(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	s := NewScheduler(analyzer, testConfig())
	ctx := context.Background()

	s.Add(ctx, "s1", obs())

	assert.Nil(t, s.Flush(ctx, "s1", false))
	assert.Equal(t, 0, analyzer.callCount())

	// The buffer was left intact: a forced flush still drains the item.
	batch := s.Flush(ctx, "s1", true)
	assert.Len(t, batch, 1)
	assert.Equal(t, 1, analyzer.callCount())
}

func TestFlushUnknownKeyIsNoOp(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	s := NewScheduler(analyzer, testConfig())

	assert.Nil(t, s.Flush(context.Background(), "missing", true))
	assert.Equal(t, 0, analyzer.callCount())
}

func TestFlushAllDrainsEveryKeyOnce(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	s := NewScheduler(analyzer, testConfig())
	ctx := context.Background()

	s.Add(ctx, "s1", obs())
	s.Add(ctx, "s2", obs())
	s.Add(ctx, "s3", obs())

	s.FlushAll(ctx)
	require.Equal(t, 3, analyzer.callCount())

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		call := analyzer.call(i)
		assert.Len(t, call.batch, 1)
		assert.False(t, seen[call.streamID], "key drained twice")
		seen[call.streamID] = true
	}

	// All buffers are empty; a second pass dispatches nothing.
	s.FlushAll(ctx)
	assert.Equal(t, 3, analyzer.callCount())
}

func TestAddDuringFlushLandsInFreshBuffer(t *testing.T) {
	analyzer := &fakeAnalyzer{delay: 100 * time.Millisecond}
	s := NewScheduler(analyzer, testConfig())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			s.Add(ctx, "s1", obs())
		}
	}()

	// While the max-size flush is in flight, another observation arrives.
	time.Sleep(30 * time.Millisecond)
	s.Add(ctx, "s1", obs())
	<-done

	require.Eventually(t, func() bool {
		return analyzer.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, analyzer.call(0).batch, 5)

	// The racing add went to a fresh buffer, not the in-flight batch.
	batch := s.Flush(ctx, "s1", true)
	assert.Len(t, batch, 1)
}

func TestAnalyzerFailureDropsBatch(t *testing.T) {
	analyzer := &fakeAnalyzer{err: context.DeadlineExceeded}
	s := NewScheduler(analyzer, testConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Add(ctx, "s1", obs())
	}
	require.Equal(t, 1, analyzer.callCount())

	// At-most-once: the failed batch is gone, nothing is requeued.
	assert.Nil(t, s.Flush(ctx, "s1", true))
	assert.Equal(t, 1, analyzer.callCount())
}
