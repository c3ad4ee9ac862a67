// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package models

import (
	"time"

	"github.com/google/uuid"
)

// Stored metric names. CheckExisting classifies a period's granularity by
// counting rows under these names, so anything written by the storage
// coordinator must use one of them.
const (
	MetricTotalSessions      = "total_sessions"
	MetricTotalUsers         = "total_users"
	MetricBounceRate         = "bounce_rate"
	MetricAvgSessionDuration = "avg_session_duration"
	MetricTrafficChannels    = "traffic_channels"
	MetricDeviceDistribution = "device_distribution"
)

// ScalarMetricNames lists the four per-period scalar metrics in storage order.
// Daily rows carry only these; distributions are stored monthly only.
var ScalarMetricNames = []string{
	MetricTotalSessions,
	MetricTotalUsers,
	MetricBounceRate,
	MetricAvgSessionDuration,
}

// SourceTypeClient marks metrics measured on the client's own property,
// as opposed to competitor benchmarks which carry a competitor ID.
const SourceTypeClient = "Client"

// MetricRecord is one stored metric value for a client and time period.
//
// TimePeriod encodes the storage granularity:
//   - monthly rows use the plain period key, e.g. "2025-07"
//   - daily rows embed the date, e.g. "2025-07-daily-2025-07-03"
//
// Records are immutable once written. Granularity changes are performed by
// clearing the period and rewriting, never by updating rows in place.
type MetricRecord struct {
	ID           uuid.UUID `json:"id"`
	ClientID     string    `json:"client_id"`
	MetricName   string    `json:"metric_name"`
	Value        string    `json:"value"`
	SourceType   string    `json:"source_type"`
	TimePeriod   string    `json:"time_period"`
	CompetitorID *string   `json:"competitor_id,omitempty"`
	Channel      *string   `json:"channel,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// GranularityKind classifies what is currently stored for a period.
type GranularityKind string

const (
	GranularityDaily   GranularityKind = "daily"
	GranularityMonthly GranularityKind = "monthly"
	GranularityNone    GranularityKind = "none"
)

// ExistingDataStatus describes what is already stored for one metric of one
// period. Derived transiently from metric rows; never persisted.
type ExistingDataStatus struct {
	Period      string          `json:"period"`
	MetricName  string          `json:"metric_name"`
	DataType    GranularityKind `json:"data_type"`
	RecordCount int             `json:"record_count"`
}
