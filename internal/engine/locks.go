package engine

import "sync"

// runLocks hands out one mutex per run so state transitions for a run
// are serialized. The lock is never held across poll sleeps or agent
// calls; it only guards read-check-write sections.
type runLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *runLocks) get(runID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := l.locks[runID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[runID] = lock
	}
	return lock
}
