package presence

import (
	"sort"
	"sync"
)

// Tracker keeps the in-process set of currently present subjects. It is fed
// by the same enter/leave events the engine receives and serves as the
// present-set source for the heartbeat reconciliation.
type Tracker struct {
	mu      sync.Mutex
	present map[string]struct{}
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{present: make(map[string]struct{})}
}

// Enter marks a subject as present. Idempotent.
func (t *Tracker) Enter(subjectID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.present[subjectID] = struct{}{}
}

// Leave marks a subject as absent. Idempotent.
func (t *Tracker) Leave(subjectID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.present, subjectID)
}

// Present reports whether the subject is currently present.
func (t *Tracker) Present(subjectID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.present[subjectID]
	return ok
}

// PresentIDs returns the current present set, sorted for determinism.
func (t *Tracker) PresentIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.present))
	for id := range t.present {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
