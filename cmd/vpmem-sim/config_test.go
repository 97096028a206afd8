package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("empty path must return defaults, got %+v", cfg)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	doc := "size: 1048576\nworkers: 2\nflushes: 10\nlatency: 5ms\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Size != 1<<20 || cfg.Workers != 2 || cfg.Flushes != 10 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Latency.Duration() != 5*time.Millisecond {
		t.Fatalf("latency = %s, want 5ms", cfg.Latency.Duration())
	}
	// Unset fields keep their defaults.
	if cfg.WriteSize != DefaultConfig().WriteSize {
		t.Fatalf("write_size lost its default: %d", cfg.WriteSize)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"ZeroSize", "size: 0\n"},
		{"WriteLargerThanRange", "size: 4096\nwrite_size: 8192\n"},
		{"NoWorkers", "workers: 0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sim.yaml")
			if err := os.WriteFile(path, []byte(tc.doc), 0644); err != nil {
				t.Fatalf("writing config: %v", err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}
