// Package config provides configuration loading for the execution engine.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all execution-engine configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`

	ImmediateBudget       time.Duration `yaml:"immediate_budget_ms"`
	DedupWindow           time.Duration `yaml:"dedup_window_hours"`
	LeaseDuration         time.Duration `yaml:"lease_ms"`
	LeaseRenewInterval    time.Duration `yaml:"lease_renew_ms"`
	WorkerCount           int           `yaml:"worker_count"`
	WorkerShutdownGrace   time.Duration `yaml:"worker_shutdown_grace_ms"`
	ReaperInterval        time.Duration `yaml:"reaper_interval_ms"`
	CancellationTokenTTL  time.Duration `yaml:"cancellation_token_ttl"`

	MaxAttempts map[string]int `yaml:"max_attempts"`

	// TenantQuotas optionally bounds per-tenant concurrent/daily execution
	// volume, keyed by tenant id. A tenant absent from this map is unlimited.
	TenantQuotas map[string]TenantQuota `yaml:"tenant_quotas"`

	LogMaskPatterns []string `yaml:"log_mask_patterns"`
	LogLevel        string   `yaml:"log_level"`

	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	ServiceVersion string `yaml:"service_version"`

	TimeoutPolicyFile string `yaml:"timeout_policy_file"`
}

// TenantQuota bounds one tenant's concurrent and daily execution volume.
type TenantQuota struct {
	MaxConcurrentExecutions int `yaml:"max_concurrent_executions"`
	MaxExecutionsPerDay     int `yaml:"max_executions_per_day"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:           ":8080",
		PostgresDSN:          "postgres://localhost:5432/stagee?sslmode=disable",
		RedisAddr:            "localhost:6379",
		ImmediateBudget:      800 * time.Millisecond,
		DedupWindow:          24 * time.Hour,
		LeaseDuration:        30 * time.Second,
		LeaseRenewInterval:   10 * time.Second,
		WorkerCount:          8,
		WorkerShutdownGrace:  15 * time.Second,
		ReaperInterval:       5 * time.Second,
		CancellationTokenTTL: 2 * time.Hour,
		MaxAttempts: map[string]int{
			"fast":   2,
			"medium": 3,
			"long":   5,
		},
		LogMaskPatterns: nil,
		LogLevel:        "info",
	}
}

// Load reads configuration from a YAML file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("STAGEE_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("STAGEE_POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("STAGEE_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("STAGEE_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WorkerCount = n
		}
	}
	if v := os.Getenv("STAGEE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("STAGEE_OTLP_ENDPOINT"); v != "" {
		c.OTLPEndpoint = v
	}
	if v := os.Getenv("STAGEE_TIMEOUT_POLICY_FILE"); v != "" {
		c.TimeoutPolicyFile = v
	}
	if v := os.Getenv("STAGEE_DEDUP_WINDOW_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DedupWindow = time.Duration(n) * time.Hour
		}
	}
	if v := os.Getenv("STAGEE_LEASE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LeaseDuration = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("STAGEE_CANCELLATION_TOKEN_TTL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CancellationTokenTTL = time.Duration(n) * time.Millisecond
		}
	}
}

// MaxAttemptsFor returns the configured retry budget for an SLA class,
// falling back to the spec default if unset.
func (c Config) MaxAttemptsFor(slaClass string, fallback int) int {
	if n, ok := c.MaxAttempts[slaClass]; ok && n > 0 {
		return n
	}
	return fallback
}
