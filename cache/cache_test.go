package cache

import (
	"sync"
	"testing"
	"time"
)

type fakeResponse struct {
	id       string
	released bool
}

func (r *fakeResponse) Release() { r.released = true }

func TestPutGet(t *testing.T) {
	c := New()
	resp := &fakeResponse{id: "a"}
	entry, inserted := c.Put("/k", resp, -1)
	if !inserted || entry == nil {
		t.Fatal("expected fresh insertion")
	}

	got, valid, _, ok := c.Get("/k")
	if !ok || !valid || got.(*fakeResponse).id != "a" {
		t.Fatalf("unexpected get result: %v %v %v", got, valid, ok)
	}
}

func TestValidityExpiry(t *testing.T) {
	c := New()
	c.Put("/k", &fakeResponse{id: "a"}, 0)
	time.Sleep(1100 * time.Millisecond)

	_, valid, _, ok := c.Get("/k")
	if !ok {
		t.Fatal("entry should still be present after expiry")
	}
	if valid {
		t.Fatal("expected entry to be expired")
	}
}

func TestUnsetValidityNeverExpires(t *testing.T) {
	c := New()
	c.Put("/k", &fakeResponse{id: "a"}, -1)
	_, valid, _, _ := c.Get("/k")
	if !valid {
		t.Fatal("expected unset validity to never expire")
	}
}

func TestPutReplacesAndReleasesOld(t *testing.T) {
	c := New()
	old := &fakeResponse{id: "old"}
	c.Put("/k", old, -1)

	newResp := &fakeResponse{id: "new"}
	_, inserted := c.Put("/k", newResp, -1)
	if inserted {
		t.Fatal("expected replacement, not fresh insertion")
	}
	if !old.released {
		t.Fatal("expected old response to be released")
	}

	got, _, _, _ := c.Get("/k")
	if got.(*fakeResponse).id != "new" {
		t.Fatal("expected new response to be stored")
	}
}

func TestRemoveReleases(t *testing.T) {
	c := New()
	resp := &fakeResponse{id: "a"}
	c.Put("/k", resp, -1)
	c.Remove("/k")

	if !resp.released {
		t.Fatal("expected response to be released on remove")
	}
	if _, _, _, ok := c.Get("/k"); ok {
		t.Fatal("expected entry to be gone after remove")
	}
}

func TestEntryLockReentrant(t *testing.T) {
	c := New()
	entry, _ := c.Put("/k", &fakeResponse{id: "a"}, -1)
	holder := NewHolder()

	done := make(chan struct{})
	go func() {
		entry.Lock(holder, true)
		// Reentrant re-acquisition by the same holder must not deadlock.
		entry.Lock(holder, true)
		entry.Unlock(holder)
		entry.Unlock(holder)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant lock deadlocked")
	}
}

func TestEntryLockExcludesOtherHolders(t *testing.T) {
	c := New()
	entry, _ := c.Put("/k", &fakeResponse{id: "a"}, -1)
	h1 := NewHolder()
	h2 := NewHolder()

	entry.Lock(h1, true)

	acquired := make(chan struct{})
	go func() {
		entry.Lock(h2, true)
		close(acquired)
		entry.Unlock(h2)
	}()

	select {
	case <-acquired:
		t.Fatal("expected second holder to block while first holds write lock")
	case <-time.After(100 * time.Millisecond):
	}

	entry.Unlock(h1)

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected second holder to acquire after release")
	}
}

func TestConcurrentDistinctKeys(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Put(string(rune('a'+i%26)), &fakeResponse{id: "x"}, -1)
		}()
	}
	wg.Wait()
}
