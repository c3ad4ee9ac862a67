// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

/*
storage.go - Metric Storage Coordination

Mediates between processed metric bundles and the metric row store. Owns the
adaptive-granularity bookkeeping: monthly rows carry the plain "YYYY-MM"
period key, daily rows embed the date ("YYYY-MM-daily-YYYY-MM-DD"), and
CheckExisting classifies each period from the row counts so the sync
orchestrator can decide skip/fetch/replace without extra round trips.

Writes are refused for unknown client IDs. Metric rows are immutable once
written; granularity changes go through clear-then-rewrite, never updates.
*/
package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/models"
)

// Store is the metric-row persistence surface the coordinator needs.
// *database.DB implements it; tests substitute an in-memory fake.
type Store interface {
	ClientExists(ctx context.Context, clientID string) (bool, error)
	CreateMetric(ctx context.Context, record *models.MetricRecord) error
	CountMetrics(ctx context.Context, clientID, metricName, timePeriod string) (int, error)
	CountMetricsByPrefix(ctx context.Context, clientID, metricName, prefix string) (int, error)
	ClearClientMetricsByPeriod(ctx context.Context, clientID, periodKey string) error
	ClearAllClientMetrics(ctx context.Context, clientID string) error
}

// Coordinator persists processed metric bundles as metric rows.
type Coordinator struct {
	store Store
}

// NewCoordinator wraps a metric store.
func NewCoordinator(store Store) *Coordinator {
	return &Coordinator{store: store}
}

// requireClient refuses writes under a missing or invalid client ID.
func (c *Coordinator) requireClient(ctx context.Context, clientID, op string) error {
	exists, err := c.store.ClientExists(ctx, clientID)
	if err != nil {
		return &models.StorageError{ClientID: clientID, Op: op, Err: err}
	}
	if !exists {
		return &models.StorageError{ClientID: clientID, Op: op, Err: fmt.Errorf("client does not exist")}
	}
	return nil
}

// writeScalar persists one scalar metric value under a period key.
func (c *Coordinator) writeScalar(ctx context.Context, clientID, metricName, value, periodKey string) error {
	record := &models.MetricRecord{
		ClientID:   clientID,
		MetricName: metricName,
		Value:      value,
		SourceType: models.SourceTypeClient,
		TimePeriod: periodKey,
	}
	if err := c.store.CreateMetric(ctx, record); err != nil {
		return &models.StorageError{ClientID: clientID, Op: "write " + metricName, Err: err}
	}
	return nil
}

// scalarValues maps the bundle's four stored scalars to string values in
// ScalarMetricNames order.
func scalarValues(bundle *models.MetricBundle) []string {
	return []string{
		strconv.FormatInt(bundle.TotalSessions, 10),
		strconv.FormatInt(bundle.TotalUsers, 10),
		strconv.FormatFloat(bundle.BounceRate, 'f', -1, 64),
		strconv.FormatFloat(bundle.AvgSessionDuration, 'f', -1, 64),
	}
}

// Store writes a monthly bundle: the four scalar metrics plus the two
// JSON-encoded distributions, all under the period's "YYYY-MM" key.
func (c *Coordinator) Store(ctx context.Context, clientID string, period models.DataPeriod, bundle *models.MetricBundle) error {
	if err := c.requireClient(ctx, clientID, "store"); err != nil {
		return err
	}

	key := period.Key()
	values := scalarValues(bundle)
	for i, name := range models.ScalarMetricNames {
		if err := c.writeScalar(ctx, clientID, name, values[i], key); err != nil {
			return err
		}
	}

	channels, err := models.EncodeChannelShares(bundle.TrafficChannels)
	if err != nil {
		return &models.StorageError{ClientID: clientID, Op: "encode " + models.MetricTrafficChannels, Err: err}
	}
	if err := c.writeScalar(ctx, clientID, models.MetricTrafficChannels, channels, key); err != nil {
		return err
	}

	devices, err := models.EncodeDeviceShares(bundle.DeviceDistribution)
	if err != nil {
		return &models.StorageError{ClientID: clientID, Op: "encode " + models.MetricDeviceDistribution, Err: err}
	}
	if err := c.writeScalar(ctx, clientID, models.MetricDeviceDistribution, devices, key); err != nil {
		return err
	}

	logging.Debug().
		Str("client_id", clientID).
		Str("period", key).
		Msg("Stored monthly metrics")
	return nil
}

// StoreDaily writes the four scalar metrics once per day using the
// date-embedded key. Day bundles carry no distributions.
func (c *Coordinator) StoreDaily(ctx context.Context, clientID string, period models.DataPeriod, days []models.DayBundle) error {
	if err := c.requireClient(ctx, clientID, "store daily"); err != nil {
		return err
	}

	for _, day := range days {
		key := period.DailyKey(day.Date)
		values := scalarValues(&day.Bundle)
		for i, name := range models.ScalarMetricNames {
			if err := c.writeScalar(ctx, clientID, name, values[i], key); err != nil {
				return err
			}
		}
	}

	logging.Debug().
		Str("client_id", clientID).
		Str("period", period.Key()).
		Int("days", len(days)).
		Msg("Stored daily metrics")
	return nil
}

// CheckExisting classifies, per period and per known metric name, what is
// already stored: daily rows, monthly rows, or nothing. A period holding
// both (should not happen) is classified monthly and logged so the sync
// decision table treats it as already down-sampled.
func (c *Coordinator) CheckExisting(ctx context.Context, clientID string, periods []models.DataPeriod) (map[string][]models.ExistingDataStatus, error) {
	result := make(map[string][]models.ExistingDataStatus, len(periods))

	for _, period := range periods {
		key := period.Key()
		statuses := make([]models.ExistingDataStatus, 0, len(models.ScalarMetricNames))

		for _, name := range models.ScalarMetricNames {
			daily, err := c.store.CountMetricsByPrefix(ctx, clientID, name, period.DailyKeyPrefix())
			if err != nil {
				return nil, &models.StorageError{ClientID: clientID, Op: "count daily " + name, Err: err}
			}
			monthly, err := c.store.CountMetrics(ctx, clientID, name, key)
			if err != nil {
				return nil, &models.StorageError{ClientID: clientID, Op: "count monthly " + name, Err: err}
			}

			status := models.ExistingDataStatus{Period: key, MetricName: name}
			switch {
			case daily > 0 && monthly > 0:
				logging.Warn().
					Str("client_id", clientID).
					Str("period", key).
					Str("metric", name).
					Int("daily_rows", daily).
					Int("monthly_rows", monthly).
					Msg("Period holds both daily and monthly rows, classifying as monthly")
				status.DataType = models.GranularityMonthly
				status.RecordCount = monthly
			case daily > 0:
				status.DataType = models.GranularityDaily
				status.RecordCount = daily
			case monthly > 0:
				status.DataType = models.GranularityMonthly
				status.RecordCount = monthly
			default:
				status.DataType = models.GranularityNone
			}
			statuses = append(statuses, status)
		}
		result[key] = statuses
	}
	return result, nil
}

// ClearPeriod removes all of the period's rows, both granularities.
func (c *Coordinator) ClearPeriod(ctx context.Context, clientID string, period models.DataPeriod) error {
	if err := c.store.ClearClientMetricsByPeriod(ctx, clientID, period.Key()); err != nil {
		return &models.StorageError{ClientID: clientID, Op: "clear period " + period.Key(), Err: err}
	}
	return nil
}

// ClearAll removes every metric row for the client. Used by complete resync.
func (c *Coordinator) ClearAll(ctx context.Context, clientID string) error {
	if err := c.store.ClearAllClientMetrics(ctx, clientID); err != nil {
		return &models.StorageError{ClientID: clientID, Op: "clear all", Err: err}
	}
	return nil
}

// ReplaceDailyWithMonthly down-samples a period: clears its existing rows
// (daily included) then writes the monthly bundle. Not transactional; a
// failure between clear and write leaves the period empty, which the next
// sync run repairs by fetching it fresh.
func (c *Coordinator) ReplaceDailyWithMonthly(ctx context.Context, clientID string, period models.DataPeriod, bundle *models.MetricBundle) error {
	if err := c.requireClient(ctx, clientID, "replace daily with monthly"); err != nil {
		return err
	}
	if err := c.ClearPeriod(ctx, clientID, period); err != nil {
		return err
	}

	logging.Info().
		Str("client_id", clientID).
		Str("period", period.Key()).
		Msg("Down-sampling period from daily to monthly")
	return c.Store(ctx, clientID, period, bundle)
}
