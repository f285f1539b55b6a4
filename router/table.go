// Package router implements the longest-match route table described in the
// core endpoint/route table design: an exact-match fast path backed by a
// specificity-ordered scan over registered patterns.
package router

import (
	"sync"

	"github.com/searchktools/embedserver/endpoint"
)

// Handler is the opaque value a pattern resolves to. The dispatch package
// supplies the concrete handler type; router only needs to store and return it.
type Handler any

type entry struct {
	pattern *endpoint.Pattern
	handler Handler
}

type cachedResult struct {
	handler  Handler
	captures map[string]string
	ok       bool
}

// Table is a mutable collection of registered patterns resolved by longest
// match. Zero value is not usable; use New.
type Table struct {
	mu      sync.RWMutex
	exact   map[string]*entry
	entries []*entry
	cache   sync.Map // url -> *cachedResult

	// RegexChecking controls whether Resolve falls back to a specificity
	// scan on exact-match miss. When false, only exact pattern strings match.
	RegexChecking bool
}

// New creates an empty route table.
func New(regexChecking bool) *Table {
	return &Table{
		exact:         make(map[string]*entry),
		RegexChecking: regexChecking,
	}
}

// Register inserts pattern -> handler. Registering the same pattern string
// twice replaces the previous handler. Invalidates the resolve cache.
func (t *Table) Register(pattern *endpoint.Pattern, handler Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := &entry{pattern: pattern, handler: handler}
	if existing, ok := t.exact[pattern.Raw()]; ok {
		for i, en := range t.entries {
			if en == existing {
				t.entries[i] = e
				break
			}
		}
	} else {
		t.entries = append(t.entries, e)
	}
	t.exact[pattern.Raw()] = e
	t.clearCache()
}

// Unregister removes the pattern with the given raw template string, if present.
func (t *Table) Unregister(patternString string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.exact[patternString]
	if !ok {
		return
	}
	delete(t.exact, patternString)
	for i, en := range t.entries {
		if en == existing {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
	t.clearCache()
}

// clearCache empties the resolve cache. Equivalent to sync.Map.Clear,
// which is unavailable on Go versions before 1.23.
func (t *Table) clearCache() {
	t.cache.Range(func(key, _ any) bool {
		t.cache.Delete(key)
		return true
	})
}

// Resolve finds the handler for url, preferring an exact pattern-string match,
// then falling back (if RegexChecking is enabled) to a scan over all
// registered patterns picking the one with the greatest (piece_count,
// total_size) among those that match, breaking remaining ties by
// registration order (first registered wins).
func (t *Table) Resolve(url string) (Handler, map[string]string, bool) {
	if cached, ok := t.cache.Load(url); ok {
		r := cached.(*cachedResult)
		return r.handler, r.captures, r.ok
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if e, ok := t.exact[url]; ok {
		if caps, matched := e.pattern.Match(url); matched {
			t.cache.Store(url, &cachedResult{handler: e.handler, captures: caps, ok: true})
			return e.handler, caps, true
		}
	}

	if !t.RegexChecking {
		t.cache.Store(url, &cachedResult{ok: false})
		return nil, nil, false
	}

	var best *entry
	var bestCaptures map[string]string
	for _, e := range t.entries {
		caps, matched := e.pattern.Match(url)
		if !matched {
			continue
		}
		if best == nil || e.pattern.MoreSpecificThan(best.pattern) {
			best = e
			bestCaptures = caps
		}
	}

	if best == nil {
		t.cache.Store(url, &cachedResult{ok: false})
		return nil, nil, false
	}

	t.cache.Store(url, &cachedResult{handler: best.handler, captures: bestCaptures, ok: true})
	return best.handler, bestCaptures, true
}

// Len returns the number of registered patterns.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
