package config

import (
	"os"
	"testing"

	"github.com/searchktools/embedserver/ipaccess"
	"github.com/searchktools/embedserver/server"
)

func TestPopulateServerOptionsDefaultsWhenEmpty(t *testing.T) {
	m := NewManager()
	opts := PopulateServerOptions(m)
	want := server.DefaultOptions()
	if opts.Port != want.Port || opts.DefaultPolicy != want.DefaultPolicy {
		t.Fatalf("expected defaults, got %+v", opts)
	}
}

func TestPopulateServerOptionsOverridesFromManager(t *testing.T) {
	m := NewManager()
	m.Set("port", 9091)
	m.Set("regexchecking", true)
	m.Set("bansystemenabled", false)
	m.Set("defaultpolicy", "reject")

	opts := PopulateServerOptions(m)
	if opts.Port != 9091 {
		t.Fatalf("expected Port 9091, got %d", opts.Port)
	}
	if !opts.RegexChecking {
		t.Fatal("expected RegexChecking true")
	}
	if opts.BanSystemEnabled {
		t.Fatal("expected BanSystemEnabled false")
	}
	if opts.DefaultPolicy != ipaccess.Reject {
		t.Fatalf("expected Reject policy, got %v", opts.DefaultPolicy)
	}
}

func TestPopulateServerOptionsLoadsHTTPSKeyFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/key.pem"
	if err := os.WriteFile(path, []byte("pem-bytes"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m := NewManager()
	m.Set("httpsmemkey", path)

	opts := PopulateServerOptions(m)
	key, _, _ := opts.TLSMaterial()
	if string(key) != "pem-bytes" {
		t.Fatalf("expected loaded key bytes, got %q", key)
	}
}
