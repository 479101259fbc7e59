package service

import "sync"

// entityLocks serializes mutations per entity id. Bookings on one series,
// or attendance updates on one enrollment, take the id's lock; work on
// different ids proceeds in parallel.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for the given id, creating it on first use.
// Callers must invoke the returned function to release.
func (l *entityLocks) Lock(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
