// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Sync.PeriodCount != 15 {
		t.Errorf("default sync.period_count = %d, want 15", cfg.Sync.PeriodCount)
	}
	if cfg.Sync.DailyPeriodCount != 2 {
		t.Errorf("default sync.daily_period_count = %d, want 2", cfg.Sync.DailyPeriodCount)
	}
	if cfg.Status.MaxEntries != 10000 {
		t.Errorf("default status.max_entries = %d, want 10000", cfg.Status.MaxEntries)
	}
	if cfg.Reporting.Timeout != 30*time.Second {
		t.Errorf("default reporting.timeout = %s, want 30s", cfg.Reporting.Timeout)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("METRICUS_SYNC_PERIOD_COUNT", "6")
	t.Setenv("METRICUS_SERVER_PORT", "9000")
	t.Setenv("METRICUS_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Sync.PeriodCount != 6 {
		t.Errorf("sync.period_count = %d, want 6", cfg.Sync.PeriodCount)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("server.port = %d, want 9000", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("server.cors_origins = %v, want two trimmed origins", cfg.Server.CORSOrigins)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"METRICUS_SERVER_PORT", "server.port"},
		{"METRICUS_SYNC_DAILY_PERIOD_COUNT", "sync.daily_period_count"},
		{"METRICUS_STATUS_SWEEP_INTERVAL", "status.sweep_interval"},
		{"METRICUS_LOGGING_LEVEL", "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := envTransformFunc(tt.input); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"empty reporting url", func(c *Config) { c.Reporting.BaseURL = "" }},
		{"zero periods", func(c *Config) { c.Sync.PeriodCount = 0 }},
		{"daily exceeds window", func(c *Config) { c.Sync.DailyPeriodCount = 99 }},
		{"zero ttl", func(c *Config) { c.Status.TTL = 0 }},
		{"zero workers", func(c *Config) { c.Jobs.Workers = 0 }},
		{"events without url", func(c *Config) { c.Events.Enabled = true; c.Events.NATSURL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
