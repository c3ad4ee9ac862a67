// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/metricus/internal/models"
)

// CreateMetric inserts one metric record. Records are immutable; callers
// that need to replace a period clear it first.
func (db *DB) CreateMetric(ctx context.Context, record *models.MetricRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO metrics (id, client_id, metric_name, value, source_type,
			time_period, competitor_id, channel, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.ClientID, record.MetricName, record.Value,
		record.SourceType, record.TimePeriod, record.CompetitorID,
		record.Channel, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert metric %s for client %s: %w",
			record.MetricName, record.ClientID, err)
	}
	return nil
}

// GetMetricsByClient returns all metric rows for a client whose time period
// matches exactly (monthly rows for a "YYYY-MM" key).
func (db *DB) GetMetricsByClient(ctx context.Context, clientID, timePeriod string) ([]models.MetricRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, client_id, metric_name, value, source_type, time_period,
			competitor_id, channel, created_at
		 FROM metrics
		 WHERE client_id = ? AND time_period = ?
		 ORDER BY metric_name`,
		clientID, timePeriod)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics for client %s period %s: %w",
			clientID, timePeriod, err)
	}
	defer rows.Close()
	return scanMetricRows(rows)
}

// GetDailyClientMetrics returns all daily-keyed rows of one period, i.e.
// rows whose time_period starts with the period's daily prefix.
func (db *DB) GetDailyClientMetrics(ctx context.Context, clientID, dailyPrefix string) ([]models.MetricRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, client_id, metric_name, value, source_type, time_period,
			competitor_id, channel, created_at
		 FROM metrics
		 WHERE client_id = ? AND time_period LIKE ? || '%'
		 ORDER BY time_period, metric_name`,
		clientID, dailyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily metrics for client %s prefix %s: %w",
			clientID, dailyPrefix, err)
	}
	defer rows.Close()
	return scanMetricRows(rows)
}

// CountMetrics counts rows for one metric name with the exact period key.
func (db *DB) CountMetrics(ctx context.Context, clientID, metricName, timePeriod string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM metrics
		 WHERE client_id = ? AND metric_name = ? AND time_period = ?`,
		clientID, metricName, timePeriod).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count metrics for client %s: %w", clientID, err)
	}
	return count, nil
}

// CountMetricsByPrefix counts rows for one metric name whose period key
// starts with the given prefix (daily rows of a period).
func (db *DB) CountMetricsByPrefix(ctx context.Context, clientID, metricName, prefix string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM metrics
		 WHERE client_id = ? AND metric_name = ? AND time_period LIKE ? || '%'`,
		clientID, metricName, prefix).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count daily metrics for client %s: %w", clientID, err)
	}
	return count, nil
}

// ClearClientMetricsByPeriod deletes both the monthly row set and all
// daily-keyed rows of a period in one statement, so a granularity change
// never leaves a mixed generation behind.
func (db *DB) ClearClientMetricsByPeriod(ctx context.Context, clientID, periodKey string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM metrics
		 WHERE client_id = ? AND (time_period = ? OR time_period LIKE ? || '-daily-%')`,
		clientID, periodKey, periodKey)
	if err != nil {
		return fmt.Errorf("failed to clear metrics for client %s period %s: %w",
			clientID, periodKey, err)
	}
	return nil
}

// ClearAllClientMetrics deletes every metric row for a client.
func (db *DB) ClearAllClientMetrics(ctx context.Context, clientID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM metrics WHERE client_id = ?`, clientID)
	if err != nil {
		return fmt.Errorf("failed to clear all metrics for client %s: %w", clientID, err)
	}
	return nil
}

// scanMetricRows converts a metrics result set into records.
func scanMetricRows(rows *sql.Rows) ([]models.MetricRecord, error) {
	var records []models.MetricRecord
	for rows.Next() {
		var r models.MetricRecord
		if err := rows.Scan(&r.ID, &r.ClientID, &r.MetricName, &r.Value,
			&r.SourceType, &r.TimePeriod, &r.CompetitorID, &r.Channel,
			&r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan metric row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
