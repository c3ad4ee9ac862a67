// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/metrics"
	"github.com/tomtom215/metricus/internal/models"
)

// CircuitBreakerClient wraps a Client with gobreaker protection so a failing
// reporting API stops consuming quota and retry budget. Opens after a 60%
// failure rate with at least 10 requests; half-open after 2 minutes.
type CircuitBreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[[]Row]
	name   string
}

// NewCircuitBreakerClient wraps client with a configured breaker.
func NewCircuitBreakerClient(client *Client) *CircuitBreakerClient {
	cbName := "reporting-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]Row](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &CircuitBreakerClient{client: client, cb: cb, name: cbName}
}

// execute wraps one report call with breaker accounting.
func (c *CircuitBreakerClient) execute(report string, fn func() ([]Row, error)) ([]Row, error) {
	start := time.Now()
	rows, err := c.cb.Execute(fn)
	metrics.APIRequestDuration.WithLabelValues(report).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(c.name, "rejected").Inc()
			logging.Warn().Err(err).Str("report", report).Msg("[CIRCUIT BREAKER] Request rejected")
			return nil, fmt.Errorf("reporting API unavailable: %w", err)
		}
		metrics.CircuitBreakerRequests.WithLabelValues(c.name, "failure").Inc()
		metrics.APIRequests.WithLabelValues(report, "failure").Inc()
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(c.name, "success").Inc()
	metrics.APIRequests.WithLabelValues(report, "success").Inc()
	return rows, nil
}

// FetchMainMetrics wraps Client.FetchMainMetrics.
func (c *CircuitBreakerClient) FetchMainMetrics(ctx context.Context, cred *models.PropertyCredential, start, end string) ([]Row, error) {
	return c.execute("main", func() ([]Row, error) {
		return c.client.FetchMainMetrics(ctx, cred, start, end)
	})
}

// FetchDailyMetrics wraps Client.FetchDailyMetrics.
func (c *CircuitBreakerClient) FetchDailyMetrics(ctx context.Context, cred *models.PropertyCredential, start, end string) ([]Row, error) {
	return c.execute("daily", func() ([]Row, error) {
		return c.client.FetchDailyMetrics(ctx, cred, start, end)
	})
}

// FetchTrafficSources wraps Client.FetchTrafficSources.
func (c *CircuitBreakerClient) FetchTrafficSources(ctx context.Context, cred *models.PropertyCredential, start, end string) ([]Row, error) {
	return c.execute("traffic", func() ([]Row, error) {
		return c.client.FetchTrafficSources(ctx, cred, start, end)
	})
}

// FetchDeviceBreakdown wraps Client.FetchDeviceBreakdown.
func (c *CircuitBreakerClient) FetchDeviceBreakdown(ctx context.Context, cred *models.PropertyCredential, start, end string) ([]Row, error) {
	return c.execute("device", func() ([]Row, error) {
		return c.client.FetchDeviceBreakdown(ctx, cred, start, end)
	})
}

// FetchBatch fans out through the wrapped single-report calls so each leg
// gets its own breaker accounting.
func (c *CircuitBreakerClient) FetchBatch(ctx context.Context, cred *models.PropertyCredential, start, end string) (*BatchReport, error) {
	return fetchBatch(ctx, c, cred, start, end)
}

// ValidateAccess delegates to the underlying client; probe failures should
// not trip the breaker since they are expected during onboarding.
func (c *CircuitBreakerClient) ValidateAccess(ctx context.Context, cred *models.PropertyCredential) bool {
	return c.client.ValidateAccess(ctx, cred)
}

// stateToFloat converts breaker state to a gauge value.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts breaker state to a label value.
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
