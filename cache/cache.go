// Package cache implements the response cache: a keyed store of response
// artifacts with TTL validity and a per-entry reentrant reader/writer lock.
package cache

import (
	"sync"
	"time"
)

// Holder is an opaque reentrancy token. Goroutines have no stable identity in
// Go, so callers that need reentrant locking (the dispatch layer, one per
// in-flight request) must manufacture and thread through their own Holder.
type Holder *int32

// NewHolder returns a fresh, unique Holder.
func NewHolder() Holder {
	return new(int32)
}

// Response is the cached artifact. The cache calls Release whenever an
// entry's response is replaced by Put, removed by Remove, or dropped by
// Clear; there is no ownership flag and no reference count, so Release is
// called even if the response is still referenced elsewhere.
type Response interface {
	Release()
}

// Entry is a single cache slot: a Response behind a reentrant rwlock.
type Entry struct {
	mu       sync.RWMutex
	response Response
	ts       int64 // unix seconds; 0 means unset
	validity int64 // seconds; -1 means "always valid"

	holderMu sync.Mutex
	holders  map[Holder]bool // true = write lock, false = read lock
}

func newEntry(response Response, validity int64) *Entry {
	e := &Entry{
		response: response,
		validity: validity,
		holders:  make(map[Holder]bool),
	}
	if validity >= 0 {
		e.ts = time.Now().Unix()
	}
	return e
}

// IsValid reports whether the entry is still within its validity window.
// validity < 0 means the entry never expires.
func (e *Entry) IsValid() bool {
	if e.validity < 0 {
		return true
	}
	return time.Now().Unix()-e.ts <= e.validity
}

// Response returns the currently cached value. Callers that need a
// consistent read across multiple fields should hold a read lock via Lock.
func (e *Entry) Response() Response {
	return e.response
}

// Lock acquires the entry lock in the requested mode on behalf of holder. If
// holder already holds the lock (in either mode), Lock is a no-op: this is
// the reentrancy guarantee — a caller that already holds the lock (directly
// or via a nested call made with the same holder token) never deadlocks.
//
// The holder-membership check and registration happen under a short internal
// mutex, separate from the rwlock itself, so that "do I already hold it?" and
// "acquire now" never race against a concurrent Lock/Unlock from another holder.
func (e *Entry) Lock(holder Holder, write bool) {
	e.holderMu.Lock()
	if _, held := e.holders[holder]; held {
		e.holderMu.Unlock()
		return
	}
	e.holders[holder] = write
	e.holderMu.Unlock()

	if write {
		e.mu.Lock()
	} else {
		e.mu.RLock()
	}
}

// Unlock releases the lock held by holder, if any. Unlocking a holder that
// does not currently hold the entry is a no-op.
func (e *Entry) Unlock(holder Holder) {
	e.holderMu.Lock()
	write, held := e.holders[holder]
	if !held {
		e.holderMu.Unlock()
		return
	}
	delete(e.holders, holder)
	e.holderMu.Unlock()

	if write {
		e.mu.Unlock()
	} else {
		e.mu.RUnlock()
	}
}

// Cache is a keyed collection of Entry values guarded by a process-wide
// reader/writer lock on the map itself. Per-entry locks are always acquired
// after releasing the map lock, to avoid the priority inversion the design
// calls out explicitly.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// Get looks up key and returns its current response, whether it is still
// within its validity window, and the Entry handle (for subsequent Lock
// calls), without ever holding the map lock while touching the entry lock.
func (c *Cache) Get(key string) (response Response, valid bool, entry *Entry, ok bool) {
	c.mu.RLock()
	e, found := c.entries[key]
	c.mu.RUnlock()

	if !found {
		return nil, false, nil, false
	}
	return e.response, e.IsValid(), e, true
}

// Put inserts or replaces the entry for key. validity < 0 means "never
// expires". If an entry already exists, its old response is released before
// being replaced. Returns the entry and whether this was a fresh insertion.
func (c *Cache) Put(key string, response Response, validity int64) (entry *Entry, inserted bool) {
	c.mu.Lock()
	e, exists := c.entries[key]
	if !exists {
		e = newEntry(response, validity)
		c.entries[key] = e
		c.mu.Unlock()
		return e, true
	}
	c.mu.Unlock()

	holder := NewHolder()
	e.Lock(holder, true)
	old := e.response
	e.response = response
	if validity >= 0 {
		e.ts = time.Now().Unix()
		e.validity = validity
	}
	e.Unlock(holder)

	if old != nil {
		old.Release()
	}
	return e, false
}

// Remove deletes the entry for key, releasing its response.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if ok && e.response != nil {
		e.response.Release()
	}
}

// Clear removes all entries, releasing every response.
func (c *Cache) Clear() {
	c.mu.Lock()
	old := c.entries
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()

	for _, e := range old {
		if e.response != nil {
			e.response.Release()
		}
	}
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
