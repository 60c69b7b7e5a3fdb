// Package lockmap provides per-row, per-column locking for a table: every
// row gets its own Lock plus one sub-lock per column, so an update that only
// touches a handful of columns never blocks a concurrent update to the
// others — matching the `worktable!` macro's generated row-lock type from
// original_source's codegen/src/worktable/generator/locks.rs, translated
// from async Rust futures onto Go's context.Context and channels.
package lockmap

import (
	"context"
	"fmt"
	"sync"
)

// LockPolicy controls what Acquire does when a lock is already held.
type LockPolicy int

const (
	// PolicyWait blocks until the lock is free or the context is done.
	PolicyWait LockPolicy = iota
	// PolicyFail returns immediately with ErrWouldBlock instead of waiting.
	PolicyFail
)

// ErrWouldBlock is returned by Acquire under PolicyFail when the lock is
// already held.
var ErrWouldBlock = fmt.Errorf("lockmap: lock already held")

// Lock is a single exclusive lock implemented as a size-1 channel semaphore,
// so acquisition composes with context cancellation and with joining many
// sub-locks concurrently (the Go analogue of the original's
// `futures::future::join_all` over per-column locks).
type Lock struct {
	ch chan struct{}
}

// NewLock returns an unheld Lock.
func NewLock() *Lock {
	l := &Lock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

// Acquire takes the lock, honoring policy: PolicyWait blocks until free or
// ctx is done, PolicyFail returns ErrWouldBlock immediately if held.
func (l *Lock) Acquire(ctx context.Context, policy LockPolicy) error {
	if policy == PolicyFail {
		select {
		case <-l.ch:
			return nil
		default:
			return ErrWouldBlock
		}
	}
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the lock. Safe to call only after a successful Acquire.
func (l *Lock) Release() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// RowLock aggregates one whole-row Lock with one Lock per named column,
// mirroring the generated `<Table>Lock` struct: acquiring the row lock
// acquires every sub-lock together, while AcquireColumns lets an update
// that only touches some columns avoid contending with updates to the
// rest — the generator's `lock_await`/`unlock` pair, joined instead of
// awaited.
type RowLock struct {
	whole   *Lock
	columns map[string]*Lock
}

// NewRowLock builds a RowLock with one sub-lock per column name.
func NewRowLock(columns []string) *RowLock {
	rl := &RowLock{
		whole:   NewLock(),
		columns: make(map[string]*Lock, len(columns)),
	}
	for _, c := range columns {
		rl.columns[c] = NewLock()
	}
	return rl
}

// Acquire takes the whole-row lock plus every column lock. If any
// individual acquisition fails (ctx done, or ErrWouldBlock under
// PolicyFail) the locks already taken are released before returning.
func (rl *RowLock) Acquire(ctx context.Context, policy LockPolicy) error {
	return rl.acquireLocks(ctx, policy, rl.allLocks())
}

// AcquireColumns takes only the named columns' sub-locks, not the whole-row
// lock — the path an update touching a subset of columns should use so it
// doesn't contend with a concurrent update to unrelated columns. A whole-row
// Acquire still contends with it, since Acquire takes every column lock.
func (rl *RowLock) AcquireColumns(ctx context.Context, policy LockPolicy, cols []string) error {
	locks := make([]*Lock, 0, len(cols))
	for _, c := range cols {
		if l, ok := rl.columns[c]; ok {
			locks = append(locks, l)
		}
	}
	return rl.acquireLocks(ctx, policy, locks)
}

func (rl *RowLock) acquireLocks(ctx context.Context, policy LockPolicy, locks []*Lock) error {
	acquired := make([]*Lock, 0, len(locks))
	for _, l := range locks {
		if err := l.Acquire(ctx, policy); err != nil {
			for _, held := range acquired {
				held.Release()
			}
			return err
		}
		acquired = append(acquired, l)
	}
	return nil
}

// Release frees the whole-row lock and every column lock.
func (rl *RowLock) Release() {
	rl.whole.Release()
	for _, l := range rl.columns {
		l.Release()
	}
}

// ReleaseColumns frees the named columns' sub-locks — pairs with
// AcquireColumns.
func (rl *RowLock) ReleaseColumns(cols []string) {
	for _, c := range cols {
		if l, ok := rl.columns[c]; ok {
			l.Release()
		}
	}
}

func (rl *RowLock) allLocks() []*Lock {
	locks := make([]*Lock, 0, len(rl.columns)+1)
	locks = append(locks, rl.whole)
	for _, l := range rl.columns {
		locks = append(locks, l)
	}
	return locks
}

// LockMap maps primary keys to their RowLock, matching original_source's
// `lock::set::LockMap` (a lock-free map over Arc<Lock>) built here on
// sync.Map for the same wait-free get/insert/remove under heavy row
// churn.
type LockMap[K comparable] struct {
	m       sync.Map // K -> *RowLock
	columns []string
}

// NewLockMap builds an empty LockMap; columns names every column a RowLock
// created by this map should carry a sub-lock for.
func NewLockMap[K comparable](columns []string) *LockMap[K] {
	return &LockMap[K]{columns: columns}
}

// GetOrCreate returns the RowLock for id, creating one if this is the first
// reference — the concurrent-safe equivalent of the generator's `with_lock`
// constructor, called lazily instead of once per generated type.
func (lm *LockMap[K]) GetOrCreate(id K) *RowLock {
	if v, ok := lm.m.Load(id); ok {
		return v.(*RowLock)
	}
	rl := NewRowLock(lm.columns)
	actual, _ := lm.m.LoadOrStore(id, rl)
	return actual.(*RowLock)
}

// Get returns the RowLock for id, if one exists.
func (lm *LockMap[K]) Get(id K) (*RowLock, bool) {
	v, ok := lm.m.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*RowLock), true
}

// Remove drops id's RowLock entirely — called once a row is deleted, since
// nothing will ever lock that key again.
func (lm *LockMap[K]) Remove(id K) {
	lm.m.Delete(id)
}
