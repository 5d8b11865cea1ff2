package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaults verifies that Defaults() returns a complete configuration
// with all expected default values set.
func TestDefaults(t *testing.T) {
	cfg := Defaults()

	// Node defaults
	if cfg.Node.ListenAddress == "" {
		t.Error("Node.ListenAddress should not be empty")
	}
	if !filepath.IsAbs(cfg.Node.KeyFile) {
		t.Errorf("Node.KeyFile should be absolute, got: %s", cfg.Node.KeyFile)
	}
	if cfg.Node.Hops != 3 {
		t.Errorf("Node.Hops = %d, want 3", cfg.Node.Hops)
	}

	// Tunnel defaults
	if cfg.Tunnel.MaxCircuits != 8 {
		t.Errorf("Tunnel.MaxCircuits = %d, want 8", cfg.Tunnel.MaxCircuits)
	}
	if cfg.Tunnel.MaxJoinedCircuits != 100 {
		t.Errorf("Tunnel.MaxJoinedCircuits = %d, want 100", cfg.Tunnel.MaxJoinedCircuits)
	}
	if cfg.Tunnel.MaxTime != 10*time.Minute {
		t.Errorf("Tunnel.MaxTime = %v, want 10m", cfg.Tunnel.MaxTime)
	}
	if cfg.Tunnel.MaxTimeInactive != 20*time.Second {
		t.Errorf("Tunnel.MaxTimeInactive = %v, want 20s", cfg.Tunnel.MaxTimeInactive)
	}
	if cfg.Tunnel.MaxTraffic != 250*1024*1024 {
		t.Errorf("Tunnel.MaxTraffic = %d, want 250 MiB", cfg.Tunnel.MaxTraffic)
	}
	if cfg.Tunnel.NextHopTimeout != 10*time.Second {
		t.Errorf("Tunnel.NextHopTimeout = %v, want 10s", cfg.Tunnel.NextHopTimeout)
	}
	if cfg.Tunnel.BecomeExitNode {
		t.Error("Tunnel.BecomeExitNode should be false by default")
	}
	if !cfg.Tunnel.PerSourceRateLimitEnabled {
		t.Error("Tunnel.PerSourceRateLimitEnabled should be true by default")
	}

	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be false by default")
	}
}

func TestValidateDefaults(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Errorf("default configuration should validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConfigDefaults)
		field  string
	}{
		{"max circuits", func(c *ConfigDefaults) { c.Tunnel.MaxCircuits = 0 }, "Tunnel.MaxCircuits"},
		{"negative joined", func(c *ConfigDefaults) { c.Tunnel.MaxJoinedCircuits = -1 }, "Tunnel.MaxJoinedCircuits"},
		{"zero traffic", func(c *ConfigDefaults) { c.Tunnel.MaxTraffic = 0 }, "Tunnel.MaxTraffic"},
		{"zero hop timeout", func(c *ConfigDefaults) { c.Tunnel.NextHopTimeout = 0 }, "Tunnel.NextHopTimeout"},
		{"inactive beyond lifetime", func(c *ConfigDefaults) { c.Tunnel.MaxTimeInactive = time.Hour }, "Tunnel.MaxTimeInactive"},
		{"rate limit", func(c *ConfigDefaults) { c.Tunnel.MaxCreateRequestsPerMinute = 0 }, "Tunnel.MaxCreateRequestsPerMinute"},
		{"prefix", func(c *ConfigDefaults) { c.Node.Prefix = "abc" }, "Node.Prefix"},
		{"hops", func(c *ConfigDefaults) { c.Node.Hops = 9 }, "Node.Hops"},
		{"peer entry", func(c *ConfigDefaults) { c.Node.Peers = []PeerEntry{{Address: "127.0.0.1:1"}} }, "Node.Peers"},
		{"metrics address", func(c *ConfigDefaults) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddress = ""
		}, "Metrics.ListenAddress"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected validation error for %s", tt.field)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestValidateAllowsZeroJoinedCircuits(t *testing.T) {
	cfg := Defaults()
	cfg.Tunnel.MaxJoinedCircuits = 0
	if err := Validate(cfg); err != nil {
		t.Errorf("MaxJoinedCircuits=0 should be valid: %v", err)
	}

	cfg.Tunnel.PerSourceRateLimitEnabled = false
	cfg.Tunnel.MaxCreateRequestsPerMinute = 0
	if err := Validate(cfg); err != nil {
		t.Errorf("rate limit fields are ignored when disabled: %v", err)
	}
}
