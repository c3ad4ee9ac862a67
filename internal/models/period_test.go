// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package models

import (
	"testing"
	"time"
)

func TestDataPeriodKey(t *testing.T) {
	tests := []struct {
		name  string
		year  int
		month time.Month
		want  string
	}{
		{"mid-year", 2025, time.July, "2025-07"},
		{"single digit month", 2024, time.March, "2024-03"},
		{"december", 2023, time.December, "2023-12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DataPeriod{Year: tt.year, Month: tt.month}
			if got := p.Key(); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDataPeriodDateRange(t *testing.T) {
	p := DataPeriod{Year: 2025, Month: time.February}

	if got := p.StartDateString(); got != "2025-02-01" {
		t.Errorf("StartDateString() = %q, want 2025-02-01", got)
	}
	if got := p.EndDateString(); got != "2025-02-28" {
		t.Errorf("EndDateString() = %q, want 2025-02-28", got)
	}

	// Leap year February
	leap := DataPeriod{Year: 2024, Month: time.February}
	if got := leap.EndDateString(); got != "2024-02-29" {
		t.Errorf("leap EndDateString() = %q, want 2024-02-29", got)
	}
}

func TestDataPeriodDailyKey(t *testing.T) {
	p := DataPeriod{Year: 2025, Month: time.July}
	date := time.Date(2025, time.July, 3, 0, 0, 0, 0, time.UTC)

	if got := p.DailyKey(date); got != "2025-07-daily-2025-07-03" {
		t.Errorf("DailyKey() = %q, want 2025-07-daily-2025-07-03", got)
	}
	if got := p.DailyKeyPrefix(); got != "2025-07-daily-" {
		t.Errorf("DailyKeyPrefix() = %q, want 2025-07-daily-", got)
	}
}

func TestParsePeriodKey(t *testing.T) {
	p, err := ParsePeriodKey("2025-07")
	if err != nil {
		t.Fatalf("ParsePeriodKey returned error: %v", err)
	}
	if p.Year != 2025 || p.Month != time.July {
		t.Errorf("ParsePeriodKey = %d-%d, want 2025-7", p.Year, int(p.Month))
	}

	if _, err := ParsePeriodKey("not-a-period"); err == nil {
		t.Error("expected error for malformed period key")
	}
}

func TestServiceAccountExpired(t *testing.T) {
	now := time.Date(2025, time.August, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"future expiry", now.Add(time.Hour), false},
		{"past expiry", now.Add(-time.Hour), true},
		{"exact expiry", now, true},
		{"zero expiry", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sa := &ServiceAccount{TokenExpiry: tt.expiry}
			if got := sa.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDistributionRoundTrip(t *testing.T) {
	channels := []ChannelShare{
		{Channel: "Social Media", Sessions: 100, Percent: 100.0},
	}

	encoded, err := EncodeChannelShares(channels)
	if err != nil {
		t.Fatalf("EncodeChannelShares returned error: %v", err)
	}

	decoded, err := DecodeChannelShares(encoded)
	if err != nil {
		t.Fatalf("DecodeChannelShares returned error: %v", err)
	}
	if len(decoded) != 1 || decoded[0] != channels[0] {
		t.Errorf("round trip mismatch: got %+v", decoded)
	}

	if _, err := DecodeDeviceShares("{broken"); err == nil {
		t.Error("expected error decoding malformed device distribution")
	}
}
