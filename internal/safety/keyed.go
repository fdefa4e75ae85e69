package safety

import (
	"context"
	"sync"
)

// KeyedMutex serializes work per key (application ID) while letting
// different keys proceed in parallel. Entries are reference counted and
// removed once nobody holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until the key is free or ctx is done. The returned function
// releases the key and must be called exactly once.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e := k.acquireEntry(key)

	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			k.releaseEntry(key)
		}, nil
	case <-ctx.Done():
		k.releaseEntry(key)
		return nil, ctx.Err()
	}
}

// TryLock acquires the key only if it is free
func (k *KeyedMutex) TryLock(key string) (func(), bool) {
	e := k.acquireEntry(key)

	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			k.releaseEntry(key)
		}, true
	default:
		k.releaseEntry(key)
		return nil, false
	}
}

// Held returns the number of keys currently held or waited on
func (k *KeyedMutex) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func (k *KeyedMutex) acquireEntry(key string) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedMutex) releaseEntry(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}
