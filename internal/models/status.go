// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package models

import "time"

// FetchStatus is the observable lifecycle of one (client, period) fetch.
// It lives only in the in-memory status registry and is never persisted.
// The lock key is purely an index for operator visibility; it does not
// provide mutual exclusion.
type FetchStatus struct {
	ClientID        string          `json:"client_id"`
	TimePeriod      string          `json:"time_period"`
	InProgress      bool            `json:"in_progress"`
	StartedAt       time.Time       `json:"started_at"`
	LastRefreshedAt time.Time       `json:"last_refreshed_at"`
	Error           string          `json:"error,omitempty"`
	DataType        GranularityKind `json:"data_type,omitempty"`
}

// LockKey builds the registry index key for a client and period.
func LockKey(clientID, timePeriod string) string {
	return clientID + ":" + timePeriod
}

// RegistryStats summarizes the status registry for operators.
type RegistryStats struct {
	TotalTracked         int       `json:"total_tracked"`
	InProgress           int       `json:"in_progress"`
	LastActivity         time.Time `json:"last_activity"`
	OldestInProgressFrom time.Time `json:"oldest_in_progress_from"`
}

// RunResult is the structured outcome of one SmartFetch run. Entry points
// never propagate errors past their boundary; per-period failures are
// collected here and the run continues.
type RunResult struct {
	Success          bool     `json:"success"`
	PeriodsProcessed int      `json:"periods_processed"`
	DailyPeriods     []string `json:"daily_periods"`
	MonthlyPeriods   []string `json:"monthly_periods"`
	Errors           []string `json:"errors"`
}

// ResyncResult is the outcome of a complete resync. RefreshedCategories is
// populated only when the underlying run reports success.
type ResyncResult struct {
	Success             bool     `json:"success"`
	RefreshedCategories []string `json:"refreshed_categories"`
	PeriodsProcessed    int      `json:"periods_processed"`
	Errors              []string `json:"errors"`
}

// CurrentPeriodResult is returned by RefreshCurrentPeriod: the run outcome
// plus a month-to-date summary averaged over the freshly fetched days.
type CurrentPeriodResult struct {
	Success bool          `json:"success"`
	Period  string        `json:"period"`
	Days    int           `json:"days"`
	Summary *MetricBundle `json:"summary,omitempty"`
	Errors  []string      `json:"errors"`
}
