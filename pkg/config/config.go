// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the ktap agent and
// collector.
type Config struct {
	LogLevel  string          `yaml:"log_level" env:"KTAP_LOG_LEVEL"`
	Capture   CaptureConfig   `yaml:"capture"`
	Inspect   InspectConfig   `yaml:"inspect"`
	FlowState FlowStateConfig `yaml:"flow_state"`
	Export    ExportConfig    `yaml:"export"`
	Collector CollectorConfig `yaml:"collector"`
	Health    HealthConfig    `yaml:"health"`
}

// CaptureConfig selects the segment source.
type CaptureConfig struct {
	Interface string `yaml:"interface" env:"KTAP_INTERFACE"`
	Workers   int    `yaml:"workers"`   // 0 = one per CPU
	SnapLen   int    `yaml:"snap_len"`  // captured payload bound
	PcapFile  string `yaml:"pcap_file"` // offline replay
}

// InspectConfig holds the feature flags the core consumes. Both are
// resolved once at startup and re-resolved on config reload.
type InspectConfig struct {
	IPv6  bool `yaml:"ipv6"`
	Stats bool `yaml:"stats"`
}

// FlowStateConfig bounds the shared per-flow state.
type FlowStateConfig struct {
	MaxTracked    int           `yaml:"max_tracked"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ExportConfig configures the page export sinks.
type ExportConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	NATS          NATSConfig    `yaml:"nats"`
	Stdout        StdoutConfig  `yaml:"stdout"`
}

// NATSConfig configures the NATS page channel.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" env:"KTAP_NATS_URL"`
	Subject string `yaml:"subject"`
}

// StdoutConfig enables the debugging exporter.
type StdoutConfig struct {
	Enabled bool `yaml:"enabled"`
}

// CollectorConfig configures the ktap-collector binary.
type CollectorConfig struct {
	NATS             NATSConfig       `yaml:"nats"`
	ClickHouse       ClickHouseConfig `yaml:"clickhouse"`
	SnapshotInterval time.Duration    `yaml:"snapshot_interval"`
	ResolveProcesses bool             `yaml:"resolve_processes"`
}

// ClickHouseConfig configures the optional persistent sink.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password" env:"KTAP_CLICKHOUSE_PASSWORD"`
}

// HealthConfig configures the health/stats endpoint.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Capture: CaptureConfig{
			SnapLen: 1600,
		},
		Inspect: InspectConfig{
			IPv6:  true,
			Stats: true,
		},
		FlowState: FlowStateConfig{
			MaxTracked:    100000,
			TTL:           30 * time.Second,
			SweepInterval: 10 * time.Second,
		},
		Export: ExportConfig{
			FlushInterval: 100 * time.Millisecond,
			NATS: NATSConfig{
				URL:     "nats://127.0.0.1:4222",
				Subject: "ktap.pages",
			},
			Stdout: StdoutConfig{Enabled: true},
		},
		Collector: CollectorConfig{
			NATS: NATSConfig{
				URL:     "nats://127.0.0.1:4222",
				Subject: "ktap.pages",
			},
			ClickHouse: ClickHouseConfig{
				Host:     "127.0.0.1",
				Port:     9000,
				Database: "ktap",
				Username: "default",
			},
			SnapshotInterval: 30 * time.Second,
			ResolveProcesses: true,
		},
		Health: HealthConfig{
			Enabled: true,
			Addr:    "127.0.0.1:7117",
		},
	}
}

// Load reads one YAML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		cfg.applyEnv()
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// LoadDir merges every *.yaml file in dir, in lexical order, over the
// defaults. Later files override keys set by earlier ones.
func LoadDir(dir string) (*Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading config dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)

	cfg := Default()
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", f, err)
		}
		// Unmarshal into the accumulated struct: keys present in this
		// file overlay, everything else is kept.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", f, err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// applyEnv overlays the handful of env-tagged settings.
func (c *Config) applyEnv() {
	if v := os.Getenv("KTAP_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("KTAP_INTERFACE"); v != "" {
		c.Capture.Interface = v
	}
	if v := os.Getenv("KTAP_NATS_URL"); v != "" {
		c.Export.NATS.URL = v
		c.Collector.NATS.URL = v
	}
	if v := os.Getenv("KTAP_CLICKHOUSE_PASSWORD"); v != "" {
		c.Collector.ClickHouse.Password = v
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.Capture.SnapLen < 0 {
		return fmt.Errorf("capture.snap_len must be >= 0")
	}
	if c.FlowState.MaxTracked < 0 {
		return fmt.Errorf("flow_state.max_tracked must be >= 0")
	}
	if c.FlowState.TTL <= 0 {
		return fmt.Errorf("flow_state.ttl must be positive")
	}
	if c.Health.Enabled && c.Health.Addr == "" {
		return fmt.Errorf("health.addr required when health is enabled")
	}
	return nil
}
