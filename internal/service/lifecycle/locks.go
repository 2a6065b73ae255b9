package lifecycle

import "sync"

// Locks serializes mutations per project. Acquisition is non-blocking:
// a held lock means a transition is in flight and the caller must be
// rejected, not queued.
type Locks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocks returns an empty lock table.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]struct{})}
}

// TryAcquire takes the lock for the given project, reporting false when it is
// already held.
func (l *Locks) TryAcquire(projectID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[projectID]; ok {
		return false
	}
	l.held[projectID] = struct{}{}
	return true
}

// Release frees the lock for the given project.
func (l *Locks) Release(projectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, projectID)
}
