// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

/*
processor.go - Report Response Processing

Transforms raw reporting API rows into canonical metric bundles. Responsible
for taxonomy normalization: provider-specific traffic channel and device
labels collapse into a small fixed canonical set, with session counts
consolidated per canonical label before percentages are computed. The
ordering matters - computing percentages per raw row and summing afterwards
double-rounds and drifts.

A main-metrics response with zero rows means the property has no data for
the period. That is a nil bundle, not an error; callers must not conflate
the two.
*/
package processor

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/models"
	"github.com/tomtom215/metricus/internal/report"
)

// Canonical traffic channel labels.
const (
	ChannelDirect        = "Direct"
	ChannelPaidSearch    = "Paid Search"
	ChannelOrganicSearch = "Organic Search"
	ChannelReferral      = "Referral"
	ChannelEmail         = "Email"
	ChannelSocialMedia   = "Social Media"
	ChannelOther         = "Other"
)

// Canonical device categories.
const (
	DeviceDesktop = "Desktop"
	DeviceMobile  = "Mobile"
	DeviceOther   = "Other"
)

// channelMap collapses raw provider channel-group labels into the canonical
// set. Lookups are case-insensitive; unmapped labels fall through to Other.
var channelMap = map[string]string{
	"direct":             ChannelDirect,
	"paid search":        ChannelPaidSearch,
	"paid shopping":      ChannelPaidSearch,
	"cross-network":      ChannelPaidSearch,
	"organic search":     ChannelOrganicSearch,
	"organic shopping":   ChannelOrganicSearch,
	"referral":           ChannelReferral,
	"email":              ChannelEmail,
	"organic social":     ChannelSocialMedia,
	"paid social":        ChannelSocialMedia,
	"organic video":      ChannelSocialMedia,
	"paid video":         ChannelSocialMedia,
	"display":            ChannelOther,
	"affiliates":         ChannelOther,
	"audio":              ChannelOther,
	"sms":                ChannelOther,
	"mobile push":        ChannelOther,
	"unassigned":         ChannelOther,
	"(other)":            ChannelOther,
}

// deviceMap collapses raw device categories. Tablet traffic counts as
// Mobile; anything unrecognized counts as Other.
var deviceMap = map[string]string{
	"desktop": DeviceDesktop,
	"mobile":  DeviceMobile,
	"tablet":  DeviceMobile,
}

// dailyDateLayout is the compact date format of the report date dimension.
const dailyDateLayout = "20060102"

// canonicalChannel resolves a raw channel-group label.
func canonicalChannel(raw string) string {
	if mapped, ok := channelMap[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return mapped
	}
	return ChannelOther
}

// canonicalDevice resolves a raw device category.
func canonicalDevice(raw string) string {
	if mapped, ok := deviceMap[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return mapped
	}
	return DeviceOther
}

// roundPercent rounds to one decimal place.
func roundPercent(v float64) float64 {
	return math.Round(v*10) / 10
}

// channelOrder fixes the output ordering of canonical channels so encoded
// distributions are stable across runs.
var channelOrder = []string{
	ChannelDirect,
	ChannelPaidSearch,
	ChannelOrganicSearch,
	ChannelReferral,
	ChannelEmail,
	ChannelSocialMedia,
	ChannelOther,
}

var deviceOrder = []string{DeviceDesktop, DeviceMobile, DeviceOther}

// NormalizeChannels consolidates raw channel rows into canonical shares.
// Pass one sums sessions per canonical label; pass two computes each label's
// percentage of the total. Labels with zero consolidated sessions are
// omitted.
func NormalizeChannels(rows []report.Row) ([]models.ChannelShare, error) {
	sums, total, err := consolidate(rows, "traffic channels", canonicalChannel)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	shares := make([]models.ChannelShare, 0, len(sums))
	for _, label := range channelOrder {
		sessions, ok := sums[label]
		if !ok || sessions == 0 {
			continue
		}
		shares = append(shares, models.ChannelShare{
			Channel:  label,
			Sessions: sessions,
			Percent:  roundPercent(float64(sessions) / float64(total) * 100),
		})
	}
	return shares, nil
}

// NormalizeDevices consolidates raw device rows into canonical shares.
func NormalizeDevices(rows []report.Row) ([]models.DeviceShare, error) {
	sums, total, err := consolidate(rows, "device distribution", canonicalDevice)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	shares := make([]models.DeviceShare, 0, len(sums))
	for _, label := range deviceOrder {
		sessions, ok := sums[label]
		if !ok || sessions == 0 {
			continue
		}
		shares = append(shares, models.DeviceShare{
			Device:   label,
			Sessions: sessions,
			Percent:  roundPercent(float64(sessions) / float64(total) * 100),
		})
	}
	return shares, nil
}

// consolidate is pass one of normalization: sum sessions per canonical label
// and across all rows.
func consolidate(rows []report.Row, stage string, mapFn func(string) string) (map[string]int64, int64, error) {
	sums := make(map[string]int64)
	var total int64

	for i, row := range rows {
		if len(row.DimensionValues) < 1 || len(row.MetricValues) < 1 {
			return nil, 0, &models.ProcessingError{
				Stage:  stage,
				Detail: "row " + strconv.Itoa(i) + " missing dimension or metric value",
			}
		}
		sessions, err := strconv.ParseInt(row.MetricValues[0].Value, 10, 64)
		if err != nil {
			return nil, 0, &models.ProcessingError{
				Stage:  stage,
				Detail: "row " + strconv.Itoa(i) + " has non-numeric session count " + strconv.Quote(row.MetricValues[0].Value),
			}
		}
		sums[mapFn(row.DimensionValues[0].Value)] += sessions
		total += sessions
	}
	return sums, total, nil
}

// parseMainRow decodes the six-value metric row shared by aggregate and
// daily reports.
func parseMainRow(row report.Row, stage string) (models.MetricBundle, error) {
	const want = 6
	if len(row.MetricValues) < want {
		return models.MetricBundle{}, &models.ProcessingError{
			Stage:  stage,
			Detail: "expected " + strconv.Itoa(want) + " metric values, got " + strconv.Itoa(len(row.MetricValues)),
		}
	}

	parseInt := func(v string) (int64, error) {
		// Some backends return counts as "1500.0".
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return int64(f), nil
		}
		return strconv.ParseInt(v, 10, 64)
	}

	sessions, err := parseInt(row.MetricValues[0].Value)
	if err != nil {
		return models.MetricBundle{}, &models.ProcessingError{Stage: stage, Detail: "bad sessions value " + strconv.Quote(row.MetricValues[0].Value)}
	}
	users, err := parseInt(row.MetricValues[1].Value)
	if err != nil {
		return models.MetricBundle{}, &models.ProcessingError{Stage: stage, Detail: "bad users value " + strconv.Quote(row.MetricValues[1].Value)}
	}

	floats := make([]float64, 4)
	for i := 0; i < 4; i++ {
		raw := row.MetricValues[i+2].Value
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.MetricBundle{}, &models.ProcessingError{Stage: stage, Detail: "bad metric value " + strconv.Quote(raw)}
		}
		floats[i] = f
	}

	return models.MetricBundle{
		TotalSessions:      sessions,
		TotalUsers:         users,
		BounceRate:         floats[0],
		AvgSessionDuration: floats[1],
		PagesPerSession:    floats[2],
		SessionsPerUser:    floats[3],
	}, nil
}

// ProcessAggregate builds one period bundle from the three batch reports.
// Returns (nil, nil) when the main report carries no rows: the property has
// no data for the period.
func ProcessAggregate(main, traffic, device []report.Row) (*models.MetricBundle, error) {
	if len(main) == 0 {
		return nil, nil
	}
	if len(main) > 1 {
		logging.Warn().Int("rows", len(main)).Msg("Aggregate report returned multiple rows, using first")
	}

	bundle, err := parseMainRow(main[0], "aggregate metrics")
	if err != nil {
		return nil, err
	}

	channels, err := NormalizeChannels(traffic)
	if err != nil {
		return nil, err
	}
	devices, err := NormalizeDevices(device)
	if err != nil {
		return nil, err
	}

	bundle.TrafficChannels = channels
	bundle.DeviceDistribution = devices
	return &bundle, nil
}

// ProcessDaily builds one bundle per date row. Rows with an unparseable
// date dimension fail the whole call; day bundles carry no distributions.
func ProcessDaily(rows []report.Row) ([]models.DayBundle, error) {
	days := make([]models.DayBundle, 0, len(rows))

	for i, row := range rows {
		if len(row.DimensionValues) < 1 {
			return nil, &models.ProcessingError{
				Stage:  "daily metrics",
				Detail: "row " + strconv.Itoa(i) + " missing date dimension",
			}
		}
		date, err := time.Parse(dailyDateLayout, row.DimensionValues[0].Value)
		if err != nil {
			return nil, &models.ProcessingError{
				Stage:  "daily metrics",
				Detail: "row " + strconv.Itoa(i) + " has unparseable date " + strconv.Quote(row.DimensionValues[0].Value),
			}
		}
		bundle, err := parseMainRow(row, "daily metrics")
		if err != nil {
			return nil, err
		}
		days = append(days, models.DayBundle{Date: date, Bundle: bundle})
	}
	return days, nil
}

// AverageOverDays reduces a span of day bundles to one summary bundle:
// count metrics sum, ratio and rate metrics take the arithmetic mean.
// Returns the zero bundle for an empty span.
func AverageOverDays(days []models.DayBundle) models.MetricBundle {
	if len(days) == 0 {
		return models.MetricBundle{}
	}

	var out models.MetricBundle
	for _, day := range days {
		out.TotalSessions += day.Bundle.TotalSessions
		out.TotalUsers += day.Bundle.TotalUsers
		out.BounceRate += day.Bundle.BounceRate
		out.AvgSessionDuration += day.Bundle.AvgSessionDuration
		out.PagesPerSession += day.Bundle.PagesPerSession
		out.SessionsPerUser += day.Bundle.SessionsPerUser
	}

	n := float64(len(days))
	out.BounceRate /= n
	out.AvgSessionDuration /= n
	out.PagesPerSession /= n
	out.SessionsPerUser /= n
	return out
}
