// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ChannelShare is one canonical traffic channel's consolidated share of a
// period. Percent is rounded to one decimal and computed after all raw
// provider labels mapping to the channel have been summed.
type ChannelShare struct {
	Channel  string  `json:"channel"`
	Sessions int64   `json:"sessions"`
	Percent  float64 `json:"percent"`
}

// DeviceShare is one canonical device category's consolidated share.
type DeviceShare struct {
	Device   string  `json:"device"`
	Sessions int64   `json:"sessions"`
	Percent  float64 `json:"percent"`
}

// MetricBundle is the processed metric set for one period (or, averaged, for a
// span of days). Distributions are nil for bundles derived from daily rows.
type MetricBundle struct {
	TotalSessions      int64          `json:"total_sessions"`
	TotalUsers         int64          `json:"total_users"`
	BounceRate         float64        `json:"bounce_rate"`
	AvgSessionDuration float64        `json:"avg_session_duration"`
	PagesPerSession    float64        `json:"pages_per_session"`
	SessionsPerUser    float64        `json:"sessions_per_user"`
	TrafficChannels    []ChannelShare `json:"traffic_channels,omitempty"`
	DeviceDistribution []DeviceShare  `json:"device_distribution,omitempty"`
}

// DayBundle is one day's metric set, keyed by the report's date dimension.
type DayBundle struct {
	Date   time.Time    `json:"date"`
	Bundle MetricBundle `json:"bundle"`
}

// EncodeChannelShares is the single canonical encoding for the
// traffic_channels distribution metric value.
func EncodeChannelShares(shares []ChannelShare) (string, error) {
	b, err := json.Marshal(shares)
	if err != nil {
		return "", fmt.Errorf("encode traffic channels: %w", err)
	}
	return string(b), nil
}

// DecodeChannelShares is the inverse of EncodeChannelShares.
func DecodeChannelShares(value string) ([]ChannelShare, error) {
	var shares []ChannelShare
	if err := json.Unmarshal([]byte(value), &shares); err != nil {
		return nil, fmt.Errorf("decode traffic channels: %w", err)
	}
	return shares, nil
}

// EncodeDeviceShares is the single canonical encoding for the
// device_distribution distribution metric value.
func EncodeDeviceShares(shares []DeviceShare) (string, error) {
	b, err := json.Marshal(shares)
	if err != nil {
		return "", fmt.Errorf("encode device distribution: %w", err)
	}
	return string(b), nil
}

// DecodeDeviceShares is the inverse of EncodeDeviceShares.
func DecodeDeviceShares(value string) ([]DeviceShare, error) {
	var shares []DeviceShare
	if err := json.Unmarshal([]byte(value), &shares); err != nil {
		return nil, fmt.Errorf("decode device distribution: %w", err)
	}
	return shares, nil
}
