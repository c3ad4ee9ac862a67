// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

// Package config provides layered configuration for Metricus using Koanf v2.
// Precedence: environment variables > YAML config file > built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Reporting ReportingConfig `koanf:"reporting"`
	OAuth     OAuthConfig     `koanf:"oauth"`
	Sync      SyncConfig      `koanf:"sync"`
	Status    StatusConfig    `koanf:"status"`
	Jobs      JobsConfig      `koanf:"jobs"`
	Events    EventsConfig    `koanf:"events"`
	Security  SecurityConfig  `koanf:"security"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig controls the operator HTTP API.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DatabaseConfig controls the embedded DuckDB metric store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// ReportingConfig controls the external reporting API client.
type ReportingConfig struct {
	BaseURL        string        `koanf:"base_url"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxRetries     int           `koanf:"max_retries"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	RatePerSecond  float64       `koanf:"rate_per_second"`
	RateBurst      int           `koanf:"rate_burst"`
	BreakerEnabled bool          `koanf:"breaker_enabled"`
}

// OAuthConfig controls the token endpoint used for credential refresh.
type OAuthConfig struct {
	TokenURL string        `koanf:"token_url"`
	Timeout  time.Duration `koanf:"timeout"`
}

// SyncConfig controls period planning and the background sync scheduler.
type SyncConfig struct {
	// PeriodCount is the rolling window length in calendar months.
	PeriodCount int `koanf:"period_count"`
	// DailyPeriodCount is how many of the most recent months are stored at
	// daily granularity; the rest are monthly aggregates.
	DailyPeriodCount int           `koanf:"daily_period_count"`
	SchedulerEnabled bool          `koanf:"scheduler_enabled"`
	Interval         time.Duration `koanf:"interval"`
}

// StatusConfig controls the fetch status registry.
type StatusConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	GraceWindow   time.Duration `koanf:"grace_window"`
	MaxEntries    int           `koanf:"max_entries"`
}

// JobsConfig controls the background job queue.
type JobsConfig struct {
	Workers    int `koanf:"workers"`
	QueueSize  int `koanf:"queue_size"`
	MaxRetries int `koanf:"max_retries"`
}

// EventsConfig controls optional sync.completed publishing over NATS.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	NATSURL string `koanf:"nats_url"`
	Topic   string `koanf:"topic"`
}

// SecurityConfig holds at-rest encryption settings. Request authentication is
// handled outside this service.
type SecurityConfig struct {
	// TokenMasterKey is a base64-encoded master key for AES-GCM encryption of
	// stored OAuth tokens. Empty disables encryption at rest.
	TokenMasterKey string `koanf:"token_master_key"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8643,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Path:      "/data/metricus.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Reporting: ReportingConfig{
			BaseURL:        "https://analyticsdata.googleapis.com/v1beta",
			Timeout:        30 * time.Second,
			MaxRetries:     5,
			RetryBaseDelay: time.Second,
			RatePerSecond:  5,
			RateBurst:      10,
			BreakerEnabled: true,
		},
		OAuth: OAuthConfig{
			TokenURL: "https://oauth2.googleapis.com/token",
			Timeout:  30 * time.Second,
		},
		Sync: SyncConfig{
			PeriodCount:      15,
			DailyPeriodCount: 2,
			SchedulerEnabled: false,
			Interval:         12 * time.Hour,
		},
		Status: StatusConfig{
			TTL:           30 * time.Minute,
			SweepInterval: 5 * time.Minute,
			GraceWindow:   2 * time.Minute,
			MaxEntries:    10000,
		},
		Jobs: JobsConfig{
			Workers:    3,
			QueueSize:  256,
			MaxRetries: 2,
		},
		Events: EventsConfig{
			Enabled: false,
			NATSURL: "nats://127.0.0.1:4222",
			Topic:   "metricus.sync.completed",
		},
		Security: SecurityConfig{
			TokenMasterKey: "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Reporting.BaseURL == "" {
		return fmt.Errorf("reporting.base_url must not be empty")
	}
	if c.OAuth.TokenURL == "" {
		return fmt.Errorf("oauth.token_url must not be empty")
	}
	if c.Sync.PeriodCount < 1 {
		return fmt.Errorf("sync.period_count must be >= 1, got %d", c.Sync.PeriodCount)
	}
	if c.Sync.DailyPeriodCount < 0 || c.Sync.DailyPeriodCount > c.Sync.PeriodCount {
		return fmt.Errorf("sync.daily_period_count must be 0-%d, got %d",
			c.Sync.PeriodCount, c.Sync.DailyPeriodCount)
	}
	if c.Status.TTL <= 0 {
		return fmt.Errorf("status.ttl must be positive, got %s", c.Status.TTL)
	}
	if c.Status.SweepInterval <= 0 {
		return fmt.Errorf("status.sweep_interval must be positive, got %s", c.Status.SweepInterval)
	}
	if c.Status.MaxEntries < 1 {
		return fmt.Errorf("status.max_entries must be >= 1, got %d", c.Status.MaxEntries)
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("jobs.workers must be >= 1, got %d", c.Jobs.Workers)
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		return fmt.Errorf("events.nats_url must be set when events are enabled")
	}
	return nil
}
