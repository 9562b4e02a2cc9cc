// Package condition manages short-lived labeled conditions: each subject
// holds at most one active condition per category, every condition carries a
// TTL, and a periodic sweep garbage-collects expired rows. Activeness is
// always decided at read time ("row exists AND now < expires_at"), so a row
// that outlived its TTL but has not been swept yet never counts as active.
package condition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wardlab/infirmary/internal/clock"
	"github.com/wardlab/infirmary/internal/locks"
	"github.com/wardlab/infirmary/internal/store"
)

// The two categories shipped in the catalog. The registry itself accepts
// any category string; categories are independent of each other.
const (
	CategoryDiagnosis  = "diagnosis"
	CategoryExperiment = "experiment"
)

var (
	// ErrAlreadyActive reports an assignment conflict: the subject already
	// holds an unexpired condition in that category. Cure it first.
	ErrAlreadyActive = errors.New("condition already active")

	// ErrNothingToCure reports a cure against an absent condition. It is a
	// reported outcome, not a failure.
	ErrNothingToCure = errors.New("nothing to cure")
)

// Candidate is the label and descriptive payload for a new condition. The
// caller picks it (e.g. from the catalog); the registry stays deterministic.
type Candidate struct {
	Label       string
	Description string
	Remedy      string
	Tier        string
}

// ConditionStore is the slice of the store the registry needs.
type ConditionStore interface {
	GetCondition(ctx context.Context, subjectID, category string) (*store.Condition, error)
	InsertCondition(ctx context.Context, c *store.Condition) error
	DeleteCondition(ctx context.Context, subjectID, category string) (bool, error)
	ListConditions(ctx context.Context, subjectID string) ([]store.Condition, error)
	DeleteExpiredConditions(ctx context.Context, now time.Time) (int, error)
	InsertAction(ctx context.Context, a *store.Action) (int64, error)
}

// Registry enforces the at-most-one-active-condition-per-category invariant.
// Like the engine, it holds no state between calls; every operation goes
// through the store.
type Registry struct {
	store  ConditionStore
	clock  clock.Clock
	log    *zap.Logger
	minTTL time.Duration
	maxTTL time.Duration
	locks  locks.Keyed
}

// NewRegistry creates a Registry. TTLs passed to Assign are clamped into
// [minTTL, maxTTL].
func NewRegistry(s ConditionStore, clk clock.Clock, log *zap.Logger, minTTL, maxTTL time.Duration) *Registry {
	return &Registry{store: s, clock: clk, log: log, minTTL: minTTL, maxTTL: maxTTL}
}

// Assign gives the subject a new condition in the request's category. It
// fails with ErrAlreadyActive if an unexpired condition for that
// (subject, category) exists; an expired-but-unswept row is treated as
// absent and replaced. Returns the stored condition, ID included.
func (r *Registry) Assign(ctx context.Context, subjectID, category string, cand Candidate, issuedBy string, ttl time.Duration) (*store.Condition, error) {
	unlock := r.locks.Lock(subjectID + "/" + category)
	defer unlock()

	now := r.clock.Now()

	existing, err := r.store.GetCondition(ctx, subjectID, category)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if now.Before(existing.ExpiresAt) {
			return nil, fmt.Errorf("%s/%s: %w", subjectID, category, ErrAlreadyActive)
		}
		// Stale row the sweep has not reached yet; replace it.
		if _, err := r.store.DeleteCondition(ctx, subjectID, category); err != nil {
			return nil, err
		}
	}

	c := &store.Condition{
		ID:          uuid.NewString(),
		SubjectID:   subjectID,
		Category:    category,
		Label:       cand.Label,
		Description: cand.Description,
		Remedy:      cand.Remedy,
		Tier:        cand.Tier,
		IssuedBy:    issuedBy,
		IssuedAt:    now,
		ExpiresAt:   now.Add(r.clampTTL(ttl)),
	}
	if err := r.store.InsertCondition(ctx, c); err != nil {
		return nil, err
	}

	r.recordAction(ctx, issuedBy, subjectID, "assign_"+category, now)
	r.log.Info("condition assigned",
		zap.String("subject", subjectID),
		zap.String("category", category),
		zap.String("label", c.Label),
		zap.Time("expires_at", c.ExpiresAt))
	return c, nil
}

// Cure removes the subject's condition in the given category before its
// expiry. Returns ErrNothingToCure if no row exists.
func (r *Registry) Cure(ctx context.Context, subjectID, category, curedBy string) error {
	unlock := r.locks.Lock(subjectID + "/" + category)
	defer unlock()

	removed, err := r.store.DeleteCondition(ctx, subjectID, category)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%s/%s: %w", subjectID, category, ErrNothingToCure)
	}

	r.recordAction(ctx, curedBy, subjectID, "cure_"+category, r.clock.Now())
	r.log.Info("condition cured",
		zap.String("subject", subjectID),
		zap.String("category", category))
	return nil
}

// Sweep deletes every expired condition across all subjects and categories
// and returns the number removed. The sweep is garbage collection only:
// read paths filter expiry themselves and never depend on sweep timing.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	n, err := r.store.DeleteExpiredConditions(ctx, r.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info("swept expired conditions", zap.Int("removed", n))
	}
	return n, nil
}

// ActiveFor returns the subject's active condition per category. Expired
// rows the sweep has not reached yet are filtered out here, so they never
// appear active to a caller. An unknown subject yields an empty map.
func (r *Registry) ActiveFor(ctx context.Context, subjectID string) (map[string]store.Condition, error) {
	rows, err := r.store.ListConditions(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	active := make(map[string]store.Condition)
	for _, c := range rows {
		if now.Before(c.ExpiresAt) {
			active[c.Category] = c
		}
	}
	return active, nil
}

func (r *Registry) clampTTL(ttl time.Duration) time.Duration {
	if ttl < r.minTTL {
		return r.minTTL
	}
	if ttl > r.maxTTL {
		return r.maxTTL
	}
	return ttl
}

// recordAction appends to the audit log. Auditing is best-effort: a failed
// append is logged but never fails the operation it records.
func (r *Registry) recordAction(ctx context.Context, actorID, subjectID, actionType string, at time.Time) {
	_, err := r.store.InsertAction(ctx, &store.Action{
		ActorID:    actorID,
		SubjectID:  subjectID,
		ActionType: actionType,
		At:         at,
	})
	if err != nil {
		r.log.Warn("record action failed",
			zap.String("action", actionType),
			zap.Error(err))
	}
}
