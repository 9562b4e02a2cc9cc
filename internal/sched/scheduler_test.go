package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeEngine struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (f *fakeEngine) Reconcile(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ids)
	return f.err
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRegistry struct {
	mu     sync.Mutex
	sweeps int
	err    error
}

func (f *fakeRegistry) Sweep(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 0, f.err
}

func (f *fakeRegistry) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

type staticSource struct{ ids []string }

func (s staticSource) PresentIDs() []string { return s.ids }

func TestRunSweepsAtStartup(t *testing.T) {
	engine := &fakeEngine{}
	registry := &fakeRegistry{}
	s := New(engine, registry, staticSource{}, zap.NewNop(), time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return registry.sweepCount() == 1 },
		time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestHeartbeatPassesPresentSet(t *testing.T) {
	engine := &fakeEngine{}
	registry := &fakeRegistry{}
	s := New(engine, registry, staticSource{ids: []string{"u1", "u2"}}, zap.NewNop(),
		10*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return engine.callCount() >= 2 },
		time.Second, 5*time.Millisecond)
	cancel()
	<-done

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Equal(t, []string{"u1", "u2"}, engine.calls[0])
}

func TestHeartbeatSkipsEmptyPresentSet(t *testing.T) {
	engine := &fakeEngine{}
	registry := &fakeRegistry{}
	s := New(engine, registry, staticSource{}, zap.NewNop(), 10*time.Millisecond, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	assert.Zero(t, engine.callCount())
}

func TestTickErrorsDoNotStopTheLoop(t *testing.T) {
	engine := &fakeEngine{err: errors.New("store down")}
	registry := &fakeRegistry{err: errors.New("store down")}
	s := New(engine, registry, staticSource{ids: []string{"u1"}}, zap.NewNop(),
		10*time.Millisecond, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	// Both ticks keep firing despite every call failing.
	assert.Eventually(t, func() bool {
		return engine.callCount() >= 3 && registry.sweepCount() >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestDigestTick(t *testing.T) {
	engine := &fakeEngine{}
	registry := &fakeRegistry{}
	s := New(engine, registry, staticSource{}, zap.NewNop(), time.Hour, time.Hour)

	var mu sync.Mutex
	digests := 0
	s.Digest = func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		digests++
		return nil
	}
	s.DigestEvery = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return digests >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
