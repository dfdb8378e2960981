// Package lock defines the advisory lock used around per-connection sync and
// per-record approval.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrHeld is returned when another worker holds the lock
var ErrHeld = errors.New("lock is held by another worker")

// Release frees an acquired lock
type Release func(ctx context.Context) error

// Locker acquires named advisory locks with a lease
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// SyncKey is the lock key for a connection's sync pass
func SyncKey(connID fmt.Stringer) string {
	return "sync:" + connID.String()
}

// RecordKey is the lock key for approving one record
func RecordKey(connID fmt.Stringer, recordID fmt.Stringer) string {
	return "approve:" + connID.String() + ":" + recordID.String()
}

// Local is an in-process Locker for single-binary use and tests. Leases are not enforced.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocal creates an in-process locker
func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

func (l *Local) Acquire(_ context.Context, key string, _ time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, nil
}
