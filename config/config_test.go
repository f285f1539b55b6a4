package config

import (
	"testing"
	"time"

	"github.com/searchktools/embedserver/ipaccess"
)

func TestToServerOptionsTranslatesFields(t *testing.T) {
	cfg := &Config{
		Port:              9092,
		ConnectionTimeout: 5 * time.Second,
		RegexChecking:     true,
		BanSystemEnabled:  false,
		RejectByDefault:   true,
	}

	opts := cfg.ToServerOptions()
	if opts.Port != 9092 {
		t.Fatalf("expected Port 9092, got %d", opts.Port)
	}
	if opts.ConnectionTimeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %v", opts.ConnectionTimeout)
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
