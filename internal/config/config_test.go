package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SENTINEL_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":50051" || cfg.Pipeline.ConfidenceThreshold != 70 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Pipeline.EscalationStatus != "HUMAN_REVIEW" || cfg.Pipeline.CallLogSize != 500 {
		t.Fatalf("unexpected pipeline defaults %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.VerifyAttempts != 3 || cfg.Pipeline.VerifyInterval != 2*time.Second {
		t.Fatalf("unexpected verify defaults %+v", cfg.Pipeline)
	}
	if cfg.Workers.Mode != WorkersSimulated || cfg.Store.Backend != StoreMemory {
		t.Fatalf("unexpected backends %+v %+v", cfg.Workers, cfg.Store)
	}
	if cfg.Monitor.Thresholds.CPUPercentCritical != 90 {
		t.Fatalf("monitor thresholds not defaulted: %+v", cfg.Monitor.Thresholds)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	body := `
server:
  address: ":6000"
pipeline:
  confidenceThreshold: 80
  escalationStatus: detected
  verifyInterval: 500ms
workers:
  mode: http
  baseURL: http://workers:8080
  tools: [deploy.run_tests]
monitor:
  thresholds:
    cpuPercentCritical: 95
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SENTINEL_CONFIDENCE_THRESHOLD", "85")
	t.Setenv("SENTINEL_STORE_BACKEND", "VALKEY")
	t.Setenv("SENTINEL_CACHE_ADDR", "valkey:6379")
	t.Setenv("SENTINEL_CACHE_TLS", "true")
	t.Setenv("SENTINEL_WORKERS_TOOLS", "deploy.run_tests, deploy.rollback ,")
	t.Setenv("SENTINEL_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":6000" || cfg.Server.MetricsAddress != ":2112" {
		t.Fatalf("file values not merged over defaults: %+v", cfg.Server)
	}
	if cfg.Pipeline.ConfidenceThreshold != 85 {
		t.Fatalf("env override not applied: %d", cfg.Pipeline.ConfidenceThreshold)
	}
	if cfg.Pipeline.EscalationStatus != "DETECTED" || cfg.Pipeline.VerifyInterval != 500*time.Millisecond {
		t.Fatalf("unexpected pipeline %+v", cfg.Pipeline)
	}
	if cfg.Store.Backend != StoreValkey || cfg.Cache.Addr != "valkey:6379" || !cfg.Cache.TLS {
		t.Fatalf("unexpected store/cache %+v %+v", cfg.Store, cfg.Cache)
	}
	if strings.Join(cfg.Workers.Tools, ",") != "deploy.run_tests,deploy.rollback" {
		t.Fatalf("unexpected tools %v", cfg.Workers.Tools)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("expected json logging")
	}
	if cfg.Monitor.Thresholds.CPUPercentCritical != 95 || cfg.Monitor.Thresholds.CPUPercentDegraded != 75 {
		t.Fatalf("unexpected thresholds %+v", cfg.Monitor.Thresholds)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "threshold", mutate: func(c *Config) { c.Pipeline.ConfidenceThreshold = 0 }},
		{name: "escalation", mutate: func(c *Config) { c.Pipeline.EscalationStatus = "FAILED" }},
		{name: "verify attempts", mutate: func(c *Config) { c.Pipeline.VerifyAttempts = 0 }},
		{name: "workers mode", mutate: func(c *Config) { c.Workers.Mode = "grpc" }},
		{name: "http base url", mutate: func(c *Config) { c.Workers.Mode = WorkersHTTP }},
		{name: "valkey addr", mutate: func(c *Config) { c.Store.Backend = StoreValkey }},
		{name: "monitor url", mutate: func(c *Config) { c.Monitor.Enabled = true }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if utils.OpOf(err) != "config.validate" {
			t.Fatalf("%s: expected config.validate error, got %v", tc.name, err)
		}
	}
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}
