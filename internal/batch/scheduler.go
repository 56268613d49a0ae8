// Package batch accumulates observations per stream and hands them to the
// analysis collaborator when a batch is ready.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/scenewatch/internal/config"
	"github.com/your-org/scenewatch/internal/models"
	"github.com/your-org/scenewatch/internal/observability"
)

// Analyzer receives a ready batch. Invocations are bounded by the
// configured analysis timeout; a failure drops the batch (at-most-once).
type Analyzer interface {
	Analyze(ctx context.Context, streamID string, observations []models.Observation) error
}

// Flush trigger labels.
const (
	triggerSize   = "size"
	triggerTimer  = "timer"
	triggerManual = "manual"
	triggerForced = "forced"
)

type buffer struct {
	mu    sync.Mutex
	items []models.Observation
	timer *time.Timer
	// armed is true while the buffer is accumulating and its re-arm timer
	// is pending.
	armed bool
}

// Scheduler batches observations keyed by stream id using a hybrid
// min/max/timer policy: a lone stream flushes once its window elapses with
// at least MinSize buffered, a busy stream flushes early at MaxSize.
//
// The window timer is a polling re-arm, not a one-shot deadline: a buffer
// below MinSize re-arms the same duration and is re-checked on the next
// tick, indefinitely, until it grows or a forced flush drains it. This
// keeps undersized batches from being pushed to analysis prematurely.
type Scheduler struct {
	analyzer Analyzer
	cfg      config.BatchConfig

	mu      sync.Mutex // guards the map only; each buffer has its own lock
	buffers map[string]*buffer
}

func NewScheduler(analyzer Analyzer, cfg config.BatchConfig) *Scheduler {
	return &Scheduler{
		analyzer: analyzer,
		cfg:      cfg,
		buffers:  make(map[string]*buffer),
	}
}

func (s *Scheduler) buffer(key string) *buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[key]
	if !ok {
		b = &buffer{}
		s.buffers[key] = b
	}
	return b
}

// Add appends an observation to the stream's buffer. Reaching MaxSize
// flushes immediately and cancels the pending timer; otherwise the first
// observation of an empty buffer arms the window timer.
func (s *Scheduler) Add(ctx context.Context, key string, obs models.Observation) {
	b := s.buffer(key)

	b.mu.Lock()
	b.items = append(b.items, obs)

	if len(b.items) >= s.cfg.MaxSize {
		batch := b.take()
		b.mu.Unlock()
		s.dispatch(ctx, key, batch, triggerSize)
		return
	}

	if !b.armed {
		b.armed = true
		if b.timer == nil {
			b.timer = time.AfterFunc(s.cfg.Window, func() { s.timerFire(key) })
		} else {
			b.timer.Reset(s.cfg.Window)
		}
	}
	b.mu.Unlock()
}

// timerFire runs on each window tick. Below MinSize it re-arms and checks
// again next window.
func (s *Scheduler) timerFire(key string) {
	b := s.buffer(key)

	b.mu.Lock()
	if !b.armed || len(b.items) == 0 {
		b.armed = false
		b.mu.Unlock()
		return
	}
	if len(b.items) < s.cfg.MinSize {
		b.timer.Reset(s.cfg.Window)
		b.mu.Unlock()
		return
	}
	batch := b.take()
	b.mu.Unlock()

	s.dispatch(context.Background(), key, batch, triggerTimer)
}

// Flush drains the stream's buffer if it is ready. Without force, a buffer
// below MinSize is left intact and nil is returned. The returned slice is
// the batch handed to analysis.
func (s *Scheduler) Flush(ctx context.Context, key string, force bool) []models.Observation {
	s.mu.Lock()
	b, ok := s.buffers[key]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	b.mu.Lock()
	if len(b.items) == 0 || (!force && len(b.items) < s.cfg.MinSize) {
		b.mu.Unlock()
		return nil
	}
	batch := b.take()
	b.mu.Unlock()

	trigger := triggerManual
	if force {
		trigger = triggerForced
	}
	s.dispatch(ctx, key, batch, trigger)
	return batch
}

// FlushAll force-drains every non-empty buffer. Used at graceful shutdown
// so buffered-but-unanalyzed observations are not lost.
func (s *Scheduler) FlushAll(ctx context.Context) {
	s.mu.Lock()
	keys := make([]string, 0, len(s.buffers))
	for key := range s.buffers {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.Flush(ctx, key, true)
	}
}

// take must be called with b.mu held. The buffer is reset so adds racing
// an in-flight analysis call land in a fresh batch.
func (b *buffer) take() []models.Observation {
	batch := b.items
	b.items = nil
	if b.timer != nil {
		b.timer.Stop()
	}
	b.armed = false
	return batch
}

func (s *Scheduler) dispatch(ctx context.Context, key string, batch []models.Observation, trigger string) {
	observability.BatchFlushes.WithLabelValues(trigger).Inc()
	observability.BatchSize.Observe(float64(len(batch)))

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.AnalysisTimeout)
	defer cancel()

	start := time.Now()
	err := s.analyzer.Analyze(callCtx, key, batch)
	observability.AnalysisDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		// At-most-once: the batch is not requeued.
		observability.AnalysisFailures.Inc()
		slog.Error("analysis dispatch failed, dropping batch",
			"stream_id", key, "size", len(batch), "trigger", trigger, "error", err)
		return
	}
	slog.Debug("batch dispatched", "stream_id", key, "size", len(batch), "trigger", trigger)
}
