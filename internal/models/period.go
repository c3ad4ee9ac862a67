// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package models

import (
	"fmt"
	"time"
)

// periodKeyLayout is the canonical "YYYY-MM" period key format.
const periodKeyLayout = "2006-01"

// dateLayout is the canonical date format used in daily period keys and
// reporting API date ranges.
const dateLayout = "2006-01-02"

// DataPeriod is a planning value describing one calendar month to fetch and
// the granularity it should be stored at. Computed on demand, never persisted.
type DataPeriod struct {
	Year        int             `json:"year"`
	Month       time.Month      `json:"month"`
	Granularity GranularityKind `json:"granularity"`
}

// NewDataPeriod builds a period for the month containing t.
func NewDataPeriod(t time.Time, granularity GranularityKind) DataPeriod {
	return DataPeriod{
		Year:        t.Year(),
		Month:       t.Month(),
		Granularity: granularity,
	}
}

// Key returns the "YYYY-MM" period key.
func (p DataPeriod) Key() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// StartDate returns the first day of the period's month (UTC midnight).
func (p DataPeriod) StartDate() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// EndDate returns the last day of the period's month (UTC midnight).
func (p DataPeriod) EndDate() time.Time {
	return p.StartDate().AddDate(0, 1, -1)
}

// StartDateString returns the period start formatted for the reporting API.
func (p DataPeriod) StartDateString() string {
	return p.StartDate().Format(dateLayout)
}

// EndDateString returns the period end formatted for the reporting API.
func (p DataPeriod) EndDateString() string {
	return p.EndDate().Format(dateLayout)
}

// DailyKey returns the date-embedded storage key for one day of this period,
// e.g. "2025-07-daily-2025-07-03". The date must fall inside the period; the
// caller is responsible for that, the key is formatted either way.
func (p DataPeriod) DailyKey(date time.Time) string {
	return fmt.Sprintf("%s-daily-%s", p.Key(), date.Format(dateLayout))
}

// DailyKeyPrefix returns the prefix shared by all daily keys of this period.
func (p DataPeriod) DailyKeyPrefix() string {
	return p.Key() + "-daily-"
}

// ParsePeriodKey parses a "YYYY-MM" key into a DataPeriod with no granularity.
func ParsePeriodKey(key string) (DataPeriod, error) {
	t, err := time.Parse(periodKeyLayout, key)
	if err != nil {
		return DataPeriod{}, fmt.Errorf("invalid period key %q: %w", key, err)
	}
	return DataPeriod{Year: t.Year(), Month: t.Month()}, nil
}
