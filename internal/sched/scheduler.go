// Package sched fires the daemon's periodic work: the heartbeat
// reconciliation of open presence sessions and the expired-condition sweep.
// Ticks are fire-and-forget; an error inside one is logged and the next
// tick still fires.
package sched

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PresenceSource reports which subjects are currently present.
type PresenceSource interface {
	PresentIDs() []string
}

// Reconciler is the heartbeat half of the presence engine.
type Reconciler interface {
	Reconcile(ctx context.Context, presentIDs []string) error
}

// Sweeper is the garbage-collection half of the condition registry.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Scheduler drives the engine and registry on fixed intervals.
type Scheduler struct {
	engine   Reconciler
	registry Sweeper
	source   PresenceSource
	log      *zap.Logger

	heartbeatEvery time.Duration
	sweepEvery     time.Duration

	// Digest, when non-nil, runs every DigestEvery (e.g. a narrated ward
	// report). Optional.
	Digest      func(ctx context.Context) error
	DigestEvery time.Duration
}

// New creates a Scheduler with the given tick intervals.
func New(engine Reconciler, registry Sweeper, source PresenceSource, log *zap.Logger, heartbeatEvery, sweepEvery time.Duration) *Scheduler {
	return &Scheduler{
		engine:         engine,
		registry:       registry,
		source:         source,
		log:            log,
		heartbeatEvery: heartbeatEvery,
		sweepEvery:     sweepEvery,
	}
}

// Run sweeps once at startup (clearing anything that expired while the
// process was down), then ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.sweep(ctx)

	heartbeat := time.NewTicker(s.heartbeatEvery)
	defer heartbeat.Stop()
	sweep := time.NewTicker(s.sweepEvery)
	defer sweep.Stop()

	var digestC <-chan time.Time
	if s.Digest != nil && s.DigestEvery > 0 {
		digest := time.NewTicker(s.DigestEvery)
		defer digest.Stop()
		digestC = digest.C
	}

	s.log.Info("scheduler started",
		zap.Duration("heartbeat", s.heartbeatEvery),
		zap.Duration("sweep", s.sweepEvery))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-heartbeat.C:
			s.reconcile(ctx)
		case <-sweep.C:
			s.sweep(ctx)
		case <-digestC:
			if err := s.Digest(ctx); err != nil {
				s.log.Warn("digest tick failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) reconcile(ctx context.Context) {
	ids := s.source.PresentIDs()
	if len(ids) == 0 {
		return
	}
	if err := s.engine.Reconcile(ctx, ids); err != nil {
		s.log.Warn("heartbeat tick failed", zap.Error(err))
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if _, err := s.registry.Sweep(ctx); err != nil {
		s.log.Warn("sweep tick failed", zap.Error(err))
	}
}
