// Package keylock provides named mutual exclusion: at most one critical
// section runs per key at a time, while different keys proceed in parallel.
package keylock

import (
	"sort"
	"sync"
)

type entry struct {
	held    bool
	waiters []chan struct{}
	refs    int
}

// Locker serializes work per key. Waiters for the same key are served in the
// order they arrived. The zero value is ready to use.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{entries: make(map[string]*entry)}
}

// Lock blocks until the caller owns key.
func (l *Locker) Lock(key string) {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[string]*entry)
	}
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.refs++
	if !e.held {
		e.held = true
		l.mu.Unlock()
		return
	}
	ready := make(chan struct{})
	e.waiters = append(e.waiters, ready)
	l.mu.Unlock()

	// Ownership is handed over by Unlock; held stays true in between.
	<-ready
}

// Unlock releases key, handing it to the oldest waiter if there is one.
// Unlocking a key that is not held panics.
func (l *Locker) Unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || !e.held {
		panic("keylock: unlock of unlocked key " + key)
	}
	e.refs--
	if len(e.waiters) > 0 {
		next := e.waiters[0]
		e.waiters[0] = nil
		e.waiters = e.waiters[1:]
		close(next)
		return
	}
	e.held = false
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// WithLock runs fn while holding key. The key is released on every exit
// path, including a panic inside fn.
func (l *Locker) WithLock(key string, fn func() error) error {
	l.Lock(key)
	defer l.Unlock(key)
	return fn()
}

// WithLocks runs fn while holding every key. Keys are de-duplicated and
// acquired in lexicographic order so that two callers naming the same keys
// in a different order cannot deadlock.
func (l *Locker) WithLocks(keys []string, fn func() error) error {
	ordered := normalize(keys)
	for _, k := range ordered {
		l.Lock(k)
	}
	defer func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			l.Unlock(ordered[i])
		}
	}()
	return fn()
}

// Len reports how many keys are currently held or waited on.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
