package config

import (
	"testing"
	"time"
)

func TestManagerSetGetRoundTrip(t *testing.T) {
	m := NewManager()
	m.Set("port", 9090)

	v, ok := m.Get("port")
	if !ok || v.(int) != 9090 {
		t.Fatalf("expected 9090, got %v ok=%v", v, ok)
	}
	if _, ok := m.Get("missing"); ok {
		t.Fatal("expected missing key to report not found")
	}
}

func TestManagerTypedGetters(t *testing.T) {
	m := NewManager()
	m.Set("name", "embedserver")
	m.Set("threads", "4")
	m.Set("debug", "yes")
	m.Set("timeout", "250ms")

	if got := m.GetString("name"); got != "embedserver" {
		t.Fatalf("GetString: got %q", got)
	}
	if got := m.GetString("absent", "fallback"); got != "fallback" {
		t.Fatalf("GetString default: got %q", got)
	}
	if got := m.GetInt("threads"); got != 4 {
		t.Fatalf("GetInt from string: got %d", got)
	}
	if got := m.GetBool("debug"); !got {
		t.Fatal("GetBool: expected true for \"yes\"")
	}
	if got := m.GetDuration("timeout", 0); got != 250*time.Millisecond {
		t.Fatalf("GetDuration: got %v", got)
	}
	if got := m.GetInt("absent", 7); got != 7 {
		t.Fatalf("GetInt default: got %d", got)
	}
}
