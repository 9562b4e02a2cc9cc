// Package presence owns the per-subject session state machine: enter and
// leave events open and close sessions, and a periodic heartbeat folds
// elapsed open-session time into each subject's cumulative total.
package presence

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/wardlab/infirmary/internal/clock"
	"github.com/wardlab/infirmary/internal/locks"
	"github.com/wardlab/infirmary/internal/store"
)

// AccountStore is the slice of the store the engine needs. The concrete
// *store.Store satisfies it; tests may substitute a fake.
type AccountStore interface {
	GetAccount(ctx context.Context, subjectID string) (*store.Account, error)
	PutAccount(ctx context.Context, a *store.Account) error
	RankAccounts(ctx context.Context) ([]store.Account, error)
}

// RankEntry is one row of the presence ranking.
type RankEntry struct {
	SubjectID string
	Total     time.Duration
}

// Engine accrues presence time per subject. All state lives in the store;
// the engine holds no totals in memory, so it stays correct across process
// restarts. Operations on the same subject are serialized by a per-subject
// lock; different subjects proceed concurrently.
type Engine struct {
	store AccountStore
	clock clock.Clock
	log   *zap.Logger
	locks locks.Keyed
}

// NewEngine creates an Engine backed by the given store and clock.
func NewEngine(s AccountStore, clk clock.Clock, log *zap.Logger) *Engine {
	return &Engine{store: s, clock: clk, log: log}
}

// OnEnter opens a session for the subject, creating the account on first
// sight. Re-entry while a session is already open simply restarts the
// session clock: the start is overwritten, never added to, so duplicate
// enter events cannot double-charge.
func (e *Engine) OnEnter(ctx context.Context, subjectID string) error {
	unlock := e.locks.Lock(subjectID)
	defer unlock()

	a, err := e.store.GetAccount(ctx, subjectID)
	if err != nil {
		return err
	}
	if a == nil {
		a = &store.Account{SubjectID: subjectID}
	}

	now := e.clock.Now()
	a.SessionStart = &now
	if err := e.store.PutAccount(ctx, a); err != nil {
		return err
	}

	e.log.Debug("session opened", zap.String("subject", subjectID))
	return nil
}

// OnLeave closes the subject's open session, folding the elapsed time into
// the accumulated total. A leave with no open session is a no-op, which
// makes duplicate or out-of-order leave events harmless.
func (e *Engine) OnLeave(ctx context.Context, subjectID string) error {
	unlock := e.locks.Lock(subjectID)
	defer unlock()

	a, err := e.store.GetAccount(ctx, subjectID)
	if err != nil {
		return err
	}
	if a == nil || !a.Open() {
		e.log.Debug("leave without open session", zap.String("subject", subjectID))
		return nil
	}

	a.Accumulated += e.elapsedSince(subjectID, *a.SessionStart)
	a.SessionStart = nil
	if err := e.store.PutAccount(ctx, a); err != nil {
		return err
	}

	e.log.Debug("session closed",
		zap.String("subject", subjectID),
		zap.Duration("total", a.Accumulated))
	return nil
}

// Reconcile is the heartbeat pass: for every subject currently present, it
// folds the open-session time accrued since the last checkpoint into the
// total and resets the session start to now. Resetting (rather than
// clearing) means a crash between heartbeats loses at most one interval,
// and a later leave charges only the remainder since this checkpoint, so
// each interval is charged exactly once.
func (e *Engine) Reconcile(ctx context.Context, presentIDs []string) error {
	var errs []error
	for _, id := range presentIDs {
		if err := e.reconcileOne(ctx, id); err != nil {
			e.log.Warn("reconcile failed", zap.String("subject", id), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) reconcileOne(ctx context.Context, subjectID string) error {
	unlock := e.locks.Lock(subjectID)
	defer unlock()

	a, err := e.store.GetAccount(ctx, subjectID)
	if err != nil {
		return err
	}
	if a == nil || !a.Open() {
		// Present but no open session: the enter event was missed
		// (e.g. process restart). Open one now so time starts accruing.
		if a == nil {
			a = &store.Account{SubjectID: subjectID}
		}
		now := e.clock.Now()
		a.SessionStart = &now
		return e.store.PutAccount(ctx, a)
	}

	a.Accumulated += e.elapsedSince(subjectID, *a.SessionStart)
	now := e.clock.Now()
	a.SessionStart = &now
	return e.store.PutAccount(ctx, a)
}

// TotalFor returns the subject's accumulated presence time. An unknown
// subject has zero time; absence is not an error.
func (e *Engine) TotalFor(ctx context.Context, subjectID string) (time.Duration, error) {
	a, err := e.store.GetAccount(ctx, subjectID)
	if err != nil {
		return 0, err
	}
	if a == nil {
		return 0, nil
	}
	return a.Accumulated, nil
}

// RankAll returns all subjects ordered by accumulated time descending,
// ties broken by subject ID ascending.
func (e *Engine) RankAll(ctx context.Context) ([]RankEntry, error) {
	accounts, err := e.store.RankAccounts(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]RankEntry, len(accounts))
	for i, a := range accounts {
		entries[i] = RankEntry{SubjectID: a.SubjectID, Total: a.Accumulated}
	}
	return entries, nil
}

// elapsedSince computes now - start, clamped to zero. A negative elapsed
// time can only come from clock skew; it is logged and treated as zero
// rather than failing the operation or corrupting the total.
func (e *Engine) elapsedSince(subjectID string, start time.Time) time.Duration {
	elapsed := e.clock.Now().Sub(start)
	if elapsed < 0 {
		e.log.Warn("clock skew: session start is in the future",
			zap.String("subject", subjectID),
			zap.Time("session_start", start))
		return 0
	}
	return elapsed
}
