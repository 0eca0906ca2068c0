// Package lock provides keyed mutual exclusion. Local serialises within one
// process; Redis serialises across replicas with a SET NX lease.
package lock

import (
	"context"
	"sync"
)

// Locker acquires a named lock, blocking until it is held or ctx ends.
// The returned func releases it and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// CustomerKey scopes a lock to one customer's conversation.
func CustomerKey(workspaceID, customerID string) string {
	return "customer:" + workspaceID + ":" + customerID
}

// TenantKey scopes a lock to knowledge writes for one workspace.
func TenantKey(workspaceID string) string {
	return "knowledge:" + workspaceID
}

type entry struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process keyed mutex. Idle keys are released.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, e, true) })
	}, nil
}

func (l *Local) release(key string, e *entry, held bool) {
	if held {
		<-e.ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// Keys reports how many keys are currently tracked.
func (l *Local) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
