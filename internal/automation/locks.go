package automation

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// LockManager owns the two flow-wide locks and the reservation set.
//
// The selection lock serialises picking a source and destination park.
// The submission lock serialises waiting for an idle fleet and submitting
// the order. Both are FIFO: waiters acquire in arrival order, and a waiter
// gives up when its context is cancelled.
//
// The reservation set holds the names of parks claimed by an in-flight
// move. Thread Safety: all methods are safe for concurrent use.
type LockManager struct {
	selection  *semaphore.Weighted
	submission *semaphore.Weighted

	mu       sync.Mutex
	reserved map[string]struct{}
}

// NewLockManager creates a lock manager with both locks free and no reservations.
func NewLockManager() *LockManager {
	return &LockManager{
		selection:  semaphore.NewWeighted(1),
		submission: semaphore.NewWeighted(1),
		reserved:   make(map[string]struct{}),
	}
}

// AcquireSelection blocks until the park-selection lock is held or ctx is
// done. The returned release func is safe to call more than once.
func (m *LockManager) AcquireSelection(ctx context.Context) (func(), error) {
	return acquire(ctx, m.selection)
}

// AcquireSubmission blocks until the order-submission lock is held or ctx
// is done. The returned release func is safe to call more than once.
func (m *LockManager) AcquireSubmission(ctx context.Context) (func(), error) {
	return acquire(ctx, m.submission)
}

func acquire(ctx context.Context, sem *semaphore.Weighted) (func(), error) {
	if err := sem.Acquire(ctx, 1); err != nil {
		return func() {}, err
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}

// Reserve claims every name, or none of them if any is already reserved.
// It reports whether the claim was made.
func (m *LockManager) Reserve(names ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range names {
		if _, taken := m.reserved[n]; taken {
			return false
		}
	}
	for _, n := range names {
		m.reserved[n] = struct{}{}
	}
	return true
}

// Release drops the given names from the reservation set. Unknown names are ignored.
func (m *LockManager) Release(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range names {
		delete(m.reserved, n)
	}
}

// IsReserved reports whether name is claimed by an in-flight move.
func (m *LockManager) IsReserved(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.reserved[name]
	return ok
}

// WithUnreserved runs fn only if name is not reserved, and keeps the
// reservation set locked until fn returns so no move can claim name in
// between. It returns ErrParkReserved without calling fn otherwise.
// fn must not call back into the LockManager.
func (m *LockManager) WithUnreserved(name string, fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reserved[name]; ok {
		return ErrParkReserved
	}
	return fn()
}

// Reserved returns the reserved names, sorted.
func (m *LockManager) Reserved() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.reserved))
	for n := range m.reserved {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
