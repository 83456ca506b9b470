// Package runlock keeps two background runs for the same key from
// overlapping, in one process (Local) or across replicas (Redis).
package runlock

import (
	"context"
	"errors"
	"sync"
)

// ErrHeld is returned when another run already holds the key.
var ErrHeld = errors.New("runlock: already held")

// Locker hands out exclusive leases keyed by a run source, e.g.
// "directory:ldaps://dc.example.com".
type Locker interface {
	// Acquire returns a release func, or ErrHeld if the key is taken.
	// It never blocks waiting for the holder.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrHeld
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
