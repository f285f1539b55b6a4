package router

import (
	"testing"

	"github.com/searchktools/embedserver/endpoint"
)

func mustCompile(t *testing.T, raw string, family bool) *endpoint.Pattern {
	t.Helper()
	p, err := endpoint.Compile(raw, family, true)
	if err != nil {
		t.Fatalf("Compile(%q): %v", raw, err)
	}
	return p
}

func TestResolveExactMatch(t *testing.T) {
	tbl := New(true)
	tbl.Register(mustCompile(t, "/users/list", false), "handlerA")

	h, _, ok := tbl.Resolve("/users/list")
	if !ok || h != "handlerA" {
		t.Fatalf("expected exact match, got %v %v", h, ok)
	}
}

func TestResolveExactMatchBeatsParamPattern(t *testing.T) {
	tbl := New(true)
	tbl.Register(mustCompile(t, "/a/{x}", false), "param")
	tbl.Register(mustCompile(t, "/a/bb", false), "literal")

	h, _, ok := tbl.Resolve("/a/bb")
	if !ok {
		t.Fatal("expected a match")
	}
	if h != "literal" {
		t.Fatalf("expected the exact literal pattern to win over /a/{x}, got %v", h)
	}
}

func TestResolveNoMatch(t *testing.T) {
	tbl := New(true)
	tbl.Register(mustCompile(t, "/a/b", false), "h")

	if _, _, ok := tbl.Resolve("/x/y"); ok {
		t.Fatal("expected no match")
	}
}

func TestUnregisterRemoves(t *testing.T) {
	tbl := New(true)
	tbl.Register(mustCompile(t, "/a/b", false), "h")
	tbl.Unregister("/a/b")

	if _, _, ok := tbl.Resolve("/a/b"); ok {
		t.Fatal("expected no match after unregister")
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected empty table, got %d entries", tbl.Len())
	}
}

func TestResolveCacheInvalidatedOnRegister(t *testing.T) {
	tbl := New(true)
	if _, _, ok := tbl.Resolve("/new"); ok {
		t.Fatal("expected no match before registration")
	}
	tbl.Register(mustCompile(t, "/new", false), "h")
	h, _, ok := tbl.Resolve("/new")
	if !ok || h != "h" {
		t.Fatal("expected match after registration despite prior cached miss")
	}
}
