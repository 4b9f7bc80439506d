package storage

import (
	"context"
	"sync"
)

// KeyedMutex hands out one exclusive lock per name. Entries are dropped once
// no goroutine holds or waits for them, so the map stays bounded by the
// number of keys in flight.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: map[string]*keyedEntry{}}
}

// Lock blocks until name is free or ctx is done.
func (k *KeyedMutex) Lock(ctx context.Context, name string) error {
	k.mu.Lock()
	e, ok := k.entries[name]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		k.entries[name] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.release(name, e)
		return ctx.Err()
	}
}

func (k *KeyedMutex) Unlock(name string) {
	k.mu.Lock()
	e, ok := k.entries[name]
	k.mu.Unlock()
	if !ok {
		return
	}
	<-e.sem
	k.release(name, e)
}

func (k *KeyedMutex) release(name string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, name)
	}
}

func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
