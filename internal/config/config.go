package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/monitor"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// Worker modes.
const (
	WorkersSimulated = "simulated"
	WorkersHTTP      = "http"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreValkey = "valkey"
)

// Config captures every setting required to boot the sentinel service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Workers  WorkersConfig  `yaml:"workers"`
	Store    StoreConfig    `yaml:"store"`
	Cache    CacheConfig    `yaml:"cache"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	Reflection      bool          `yaml:"reflection"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// PipelineConfig tunes the remediation pipeline.
type PipelineConfig struct {
	ConfidenceThreshold int           `yaml:"confidenceThreshold"`
	EscalationStatus    string        `yaml:"escalationStatus"`
	VerifyAttempts      int           `yaml:"verifyAttempts"`
	VerifyInterval      time.Duration `yaml:"verifyInterval"`
	CallLogSize         int           `yaml:"callLogSize"`
}

// WorkersConfig selects how tool calls reach worker capabilities.
type WorkersConfig struct {
	Mode             string        `yaml:"mode"`
	BaseURL          string        `yaml:"baseURL"`
	Timeout          time.Duration `yaml:"timeout"`
	Tools            []string      `yaml:"tools"`
	DiagnosticRules  string        `yaml:"diagnosticRules"`
	SimulatedLatency time.Duration `yaml:"simulatedLatency"`
	Seed             int64         `yaml:"seed"`
}

// StoreConfig selects the incident store.
type StoreConfig struct {
	Backend     string        `yaml:"backend"`
	Prefix      string        `yaml:"prefix"`
	TerminalTTL time.Duration `yaml:"terminalTTL"`
}

// CacheConfig holds the Valkey connection used by the valkey store backend.
type CacheConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// MonitorConfig controls the background health poller.
type MonitorConfig struct {
	Enabled        bool               `yaml:"enabled"`
	HealthURL      string             `yaml:"healthURL"`
	Service        string             `yaml:"service"`
	Interval       time.Duration      `yaml:"interval"`
	Timeout        time.Duration      `yaml:"timeout"`
	Thresholds     monitor.Thresholds `yaml:"thresholds"`
	DriftThreshold float64            `yaml:"driftThreshold"`
	BaselineSize   int                `yaml:"baselineSize"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SENTINEL_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			Reflection:      true,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Pipeline: PipelineConfig{
			ConfidenceThreshold: 70,
			EscalationStatus:    string(models.StatusHumanReview),
			VerifyAttempts:      3,
			VerifyInterval:      2 * time.Second,
			CallLogSize:         500,
		},
		Workers: WorkersConfig{
			Mode:             WorkersSimulated,
			Timeout:          10 * time.Second,
			DiagnosticRules:  "configs/diagnostics/default.yaml",
			SimulatedLatency: 200 * time.Millisecond,
		},
		Store: StoreConfig{
			Backend:     StoreMemory,
			Prefix:      "sentinel",
			TerminalTTL: 24 * time.Hour,
		},
		Cache: CacheConfig{
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Monitor: MonitorConfig{
			Enabled:        false,
			Service:        "shopdemo",
			Interval:       10 * time.Second,
			Timeout:        8 * time.Second,
			Thresholds:     monitor.DefaultThresholds(),
			DriftThreshold: monitor.DefaultDriftThreshold,
			BaselineSize:   30,
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Pipeline.ConfidenceThreshold < 1 || c.Pipeline.ConfidenceThreshold > 100 {
		return invalid("pipeline.confidenceThreshold must be within 1..100, got %d", c.Pipeline.ConfidenceThreshold)
	}
	switch models.IncidentStatus(strings.ToUpper(c.Pipeline.EscalationStatus)) {
	case models.StatusHumanReview, models.StatusDetected:
		c.Pipeline.EscalationStatus = strings.ToUpper(c.Pipeline.EscalationStatus)
	default:
		return invalid("pipeline.escalationStatus must be HUMAN_REVIEW or DETECTED, got %q", c.Pipeline.EscalationStatus)
	}
	if c.Pipeline.VerifyAttempts < 1 {
		return invalid("pipeline.verifyAttempts must be positive, got %d", c.Pipeline.VerifyAttempts)
	}
	switch c.Workers.Mode {
	case WorkersSimulated:
	case WorkersHTTP:
		if c.Workers.BaseURL == "" {
			return invalid("workers.baseURL is required in http mode")
		}
	default:
		return invalid("workers.mode must be simulated or http, got %q", c.Workers.Mode)
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StoreValkey:
		if c.Cache.Addr == "" {
			return invalid("cache.addr is required for the valkey store")
		}
	default:
		return invalid("store.backend must be memory or valkey, got %q", c.Store.Backend)
	}
	if c.Monitor.Enabled && c.Monitor.HealthURL == "" {
		return invalid("monitor.healthURL is required when the monitor is enabled")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return utils.NewAppError("config.validate", fmt.Sprintf(format, args...), nil)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SENTINEL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	envBool("SENTINEL_REFLECTION", &cfg.Server.Reflection)
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENTINEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}

	envInt("SENTINEL_CONFIDENCE_THRESHOLD", &cfg.Pipeline.ConfidenceThreshold)
	if v := os.Getenv("SENTINEL_ESCALATION_STATUS"); v != "" {
		cfg.Pipeline.EscalationStatus = v
	}
	envInt("SENTINEL_VERIFY_ATTEMPTS", &cfg.Pipeline.VerifyAttempts)
	envDuration("SENTINEL_VERIFY_INTERVAL", &cfg.Pipeline.VerifyInterval)
	envInt("SENTINEL_CALL_LOG_SIZE", &cfg.Pipeline.CallLogSize)

	if v := os.Getenv("SENTINEL_WORKERS_MODE"); v != "" {
		cfg.Workers.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("SENTINEL_WORKERS_BASE_URL"); v != "" {
		cfg.Workers.BaseURL = v
	}
	envDuration("SENTINEL_WORKERS_TIMEOUT", &cfg.Workers.Timeout)
	if v := os.Getenv("SENTINEL_WORKERS_TOOLS"); v != "" {
		cfg.Workers.Tools = splitList(v)
	}
	if v := os.Getenv("SENTINEL_DIAGNOSTIC_RULES"); v != "" {
		cfg.Workers.DiagnosticRules = v
	}
	envDuration("SENTINEL_SIMULATED_LATENCY", &cfg.Workers.SimulatedLatency)

	if v := os.Getenv("SENTINEL_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("SENTINEL_STORE_PREFIX"); v != "" {
		cfg.Store.Prefix = v
	}
	envDuration("SENTINEL_STORE_TERMINAL_TTL", &cfg.Store.TerminalTTL)

	if v := os.Getenv("SENTINEL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SENTINEL_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("SENTINEL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	envInt("SENTINEL_CACHE_DB", &cfg.Cache.DB)
	envBool("SENTINEL_CACHE_TLS", &cfg.Cache.TLS)
	envDuration("SENTINEL_CACHE_DIAL_TIMEOUT", &cfg.Cache.DialTimeout)
	envDuration("SENTINEL_CACHE_READ_TIMEOUT", &cfg.Cache.ReadTimeout)
	envDuration("SENTINEL_CACHE_WRITE_TIMEOUT", &cfg.Cache.WriteTimeout)
	envInt("SENTINEL_CACHE_MAX_RETRIES", &cfg.Cache.MaxRetries)

	envBool("SENTINEL_MONITOR_ENABLED", &cfg.Monitor.Enabled)
	if v := os.Getenv("SENTINEL_MONITOR_HEALTH_URL"); v != "" {
		cfg.Monitor.HealthURL = v
	}
	if v := os.Getenv("SENTINEL_MONITOR_SERVICE"); v != "" {
		cfg.Monitor.Service = v
	}
	envDuration("SENTINEL_MONITOR_INTERVAL", &cfg.Monitor.Interval)
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
