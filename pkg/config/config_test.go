// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should validate: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Export.FlushInterval != 100*time.Millisecond {
		t.Errorf("FlushInterval = %v, want 100ms", cfg.Export.FlushInterval)
	}
	if cfg.Export.NATS.Subject != cfg.Collector.NATS.Subject {
		t.Error("agent and collector must default to the same subject")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ktap.yaml")
	data := `
log_level: debug
capture:
  interface: eth0
  workers: 4
flow_state:
  max_tracked: 5000
export:
  nats:
    enabled: true
    url: nats://broker:4222
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Capture.Interface != "eth0" || cfg.Capture.Workers != 4 {
		t.Errorf("Capture = %+v", cfg.Capture)
	}
	if cfg.FlowState.MaxTracked != 5000 {
		t.Errorf("MaxTracked = %d, want 5000", cfg.FlowState.MaxTracked)
	}
	if !cfg.Export.NATS.Enabled || cfg.Export.NATS.URL != "nats://broker:4222" {
		t.Errorf("NATS = %+v", cfg.Export.NATS)
	}
	// Untouched keys keep their defaults.
	if cfg.FlowState.TTL != 30*time.Second {
		t.Errorf("TTL = %v, want the 30s default", cfg.FlowState.TTL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/ktap.yaml"); err == nil {
		t.Error("Load should fail on a missing file")
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadDirLexicalOverlay(t *testing.T) {
	dir := t.TempDir()
	write := func(name, data string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("10-base.yaml", "log_level: debug\ncapture:\n  interface: eth0\n")
	write("20-override.yaml", "capture:\n  interface: eth1\n")
	write("notes.txt", "ignored")

	cfg, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if cfg.Capture.Interface != "eth1" {
		t.Errorf("Interface = %q, later file should win", cfg.Capture.Interface)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, earlier file's keys should persist", cfg.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KTAP_LOG_LEVEL", "warn")
	t.Setenv("KTAP_NATS_URL", "nats://env:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn from env", cfg.LogLevel)
	}
	if cfg.Export.NATS.URL != "nats://env:4222" {
		t.Errorf("Export NATS URL = %q", cfg.Export.NATS.URL)
	}
	if cfg.Collector.NATS.URL != "nats://env:4222" {
		t.Errorf("Collector NATS URL = %q", cfg.Collector.NATS.URL)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"negative snap len", func(c *Config) { c.Capture.SnapLen = -1 }},
		{"negative max tracked", func(c *Config) { c.FlowState.MaxTracked = -1 }},
		{"zero ttl", func(c *Config) { c.FlowState.TTL = 0 }},
		{"health enabled without addr", func(c *Config) {
			c.Health.Enabled = true
			c.Health.Addr = ""
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate should reject")
			}
		})
	}
}
