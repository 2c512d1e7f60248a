// Package scheduler drives the periodic work of the bridge: the flush tick
// that ages out partial batches and, when enabled, the station self-health
// collection. The scheduler does NOT buffer or send anything itself; it
// invokes callbacks.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/weewx-zbxsender/bridge/internal/models"
)

// Observer produces one observation per call.
type Observer interface {
	Observe(ctx context.Context) models.Observation
}

// Scheduler manages the flush and collection tickers.
type Scheduler struct {
	flushInterval   time.Duration
	collectInterval time.Duration
	station         Observer
	logger          *zap.Logger

	onFlushTick   func()
	onObservation func(models.Observation)
}

// New creates a Scheduler. station may be nil, which disables collection.
func New(flushInterval time.Duration, station Observer, collectInterval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		flushInterval:   flushInterval,
		collectInterval: collectInterval,
		station:         station,
		logger:          logger.Named("scheduler"),
	}
}

// OnFlushTick sets the callback invoked on every flush interval.
func (s *Scheduler) OnFlushTick(fn func()) {
	s.onFlushTick = fn
}

// OnObservation sets the callback receiving station observations.
func (s *Scheduler) OnObservation(fn func(models.Observation)) {
	s.onObservation = fn
}

// Start runs the tickers. It blocks until the context is cancelled.
// The final flush on shutdown belongs to the forwarder, not the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	flushTicker := time.NewTicker(s.flushInterval)
	defer flushTicker.Stop()

	var collectC <-chan time.Time
	if s.station != nil && s.collectInterval > 0 {
		collectTicker := time.NewTicker(s.collectInterval)
		defer collectTicker.Stop()
		collectC = collectTicker.C

		// Do an initial collection immediately
		s.collect(ctx)
	}

	s.logger.Debug("Scheduler started",
		zap.Duration("flush_interval", s.flushInterval),
		zap.Duration("collect_interval", s.collectInterval),
		zap.Bool("station", collectC != nil))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-flushTicker.C:
			if s.onFlushTick != nil {
				s.onFlushTick()
			}
		case <-collectC:
			s.collect(ctx)
		}
	}
}

// collect runs one station collection and hands it on.
func (s *Scheduler) collect(ctx context.Context) {
	obs := s.station.Observe(ctx)
	if len(obs.Fields) == 0 {
		s.logger.Warn("Station collection produced no fields")
		return
	}
	if s.onObservation != nil {
		s.onObservation(obs)
	}
}
