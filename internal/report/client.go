// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

/*
client.go - Reporting API Client

HTTP client for the external analytics reporting API (GA4 Data API wire
format). Issues POST runReport requests against a property and returns raw
report rows; all normalization happens downstream in the processor.

Client features:
  - Bearer authentication from a resolved property credential
  - Outbound rate limiting (token bucket) shared across all calls
  - Automatic HTTP 429 handling with exponential backoff and Retry-After
  - Typed APIError for non-2xx responses (status + bounded body)
  - Fan-out/fan-in batch fetch of main + traffic + device reports
*/
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/models"
)

// maxErrorBodySize bounds how much of an error response body is kept.
const maxErrorBodySize = 64 * 1024

// Report metric and dimension names requested from the API.
const (
	metricSessions           = "sessions"
	metricTotalUsers         = "totalUsers"
	metricBounceRate         = "bounceRate"
	metricAvgSessionDuration = "averageSessionDuration"
	metricViewsPerSession    = "screenPageViewsPerSession"
	metricSessionsPerUser    = "sessionsPerUser"

	dimensionDate    = "date"
	dimensionChannel = "sessionDefaultChannelGroup"
	dimensionDevice  = "deviceCategory"
)

// mainMetricNames is the metric set requested for aggregate and daily
// reports, in response order. The processor indexes metric values by this
// order.
var mainMetricNames = []string{
	metricSessions,
	metricTotalUsers,
	metricBounceRate,
	metricAvgSessionDuration,
	metricViewsPerSession,
	metricSessionsPerUser,
}

// DateRange is one start/end date pair in API format ("YYYY-MM-DD").
type DateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// Dimension names a report dimension.
type Dimension struct {
	Name string `json:"name"`
}

// Metric names a report metric.
type Metric struct {
	Name string `json:"name"`
}

// OrderBy orders response rows by a dimension.
type OrderBy struct {
	Dimension *DimensionOrderBy `json:"dimension,omitempty"`
	Desc      bool              `json:"desc,omitempty"`
}

// DimensionOrderBy names the ordering dimension.
type DimensionOrderBy struct {
	DimensionName string `json:"dimensionName"`
}

// runReportRequest is the POST body for the runReport endpoint.
type runReportRequest struct {
	DateRanges []DateRange `json:"dateRanges"`
	Dimensions []Dimension `json:"dimensions,omitempty"`
	Metrics    []Metric    `json:"metrics"`
	OrderBys   []OrderBy   `json:"orderBys,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// Value is one dimension or metric value in a response row.
type Value struct {
	Value string `json:"value"`
}

// Row is one raw report row.
type Row struct {
	DimensionValues []Value `json:"dimensionValues"`
	MetricValues    []Value `json:"metricValues"`
}

// runReportResponse is the runReport response envelope.
type runReportResponse struct {
	Rows     []Row `json:"rows"`
	RowCount int   `json:"rowCount"`
}

// BatchReport joins the three concurrently fetched report shapes for one
// period.
type BatchReport struct {
	Main    []Row
	Traffic []Row
	Device  []Row
}

// ClientInterface is the reporting API surface consumed by the sync
// orchestrator. Implemented by Client for production and by mocks in tests.
type ClientInterface interface {
	FetchMainMetrics(ctx context.Context, cred *models.PropertyCredential, start, end string) ([]Row, error)
	FetchDailyMetrics(ctx context.Context, cred *models.PropertyCredential, start, end string) ([]Row, error)
	FetchTrafficSources(ctx context.Context, cred *models.PropertyCredential, start, end string) ([]Row, error)
	FetchDeviceBreakdown(ctx context.Context, cred *models.PropertyCredential, start, end string) ([]Row, error)
	FetchBatch(ctx context.Context, cred *models.PropertyCredential, start, end string) (*BatchReport, error)
	ValidateAccess(ctx context.Context, cred *models.PropertyCredential) bool
}

// Client is the production reporting API client.
// Safe for concurrent use; each request builds its own http.Request.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewClient builds a client from configuration.
func NewClient(cfg *config.ReportingConfig) *Client {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 10
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		limiter:        rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
	}
}

// runReport executes one report request against the credential's property.
func (c *Client) runReport(ctx context.Context, cred *models.PropertyCredential, req *runReportRequest) ([]Row, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal runReport request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/properties/%s:runReport", c.baseURL, cred.PropertyID)

	resp, err := c.doRequestWithRateLimit(ctx, reqURL, cred.AccessToken, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &models.APIError{
			Status: resp.StatusCode,
			Body:   string(readBodyForError(resp.Body)),
		}
	}

	var report runReportResponse
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode runReport response: %w", err)
	}
	return report.Rows, nil
}

// doRequestWithRateLimit performs a POST with token-bucket pacing and
// exponential backoff on HTTP 429 (1s, 2s, 4s, ... honoring Retry-After).
func (c *Client) doRequestWithRateLimit(ctx context.Context, reqURL, token string, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		_ = resp.Body.Close()

		if attempt == c.maxRetries {
			lastErr = fmt.Errorf("rate limit exceeded after %d retries (HTTP 429)", c.maxRetries)
			break
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
				delay = seconds
			}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// readBodyForError reads at most maxErrorBodySize bytes for diagnostics.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// mainMetrics builds the shared metric list.
func mainMetrics() []Metric {
	metrics := make([]Metric, len(mainMetricNames))
	for i, name := range mainMetricNames {
		metrics[i] = Metric{Name: name}
	}
	return metrics
}

// FetchMainMetrics fetches the period's aggregate engagement metrics
// (no dimensions, one row when data exists).
func (c *Client) FetchMainMetrics(ctx context.Context, cred *models.PropertyCredential, start, end string) ([]Row, error) {
	return c.runReport(ctx, cred, &runReportRequest{
		DateRanges: []DateRange{{StartDate: start, EndDate: end}},
		Metrics:    mainMetrics(),
	})
}

// FetchDailyMetrics fetches the same metric set dimensioned by date,
// ordered ascending so day bundles come back chronological.
func (c *Client) FetchDailyMetrics(ctx context.Context, cred *models.PropertyCredential, start, end string) ([]Row, error) {
	return c.runReport(ctx, cred, &runReportRequest{
		DateRanges: []DateRange{{StartDate: start, EndDate: end}},
		Dimensions: []Dimension{{Name: dimensionDate}},
		Metrics:    mainMetrics(),
		OrderBys: []OrderBy{
			{Dimension: &DimensionOrderBy{DimensionName: dimensionDate}},
		},
	})
}

// FetchTrafficSources fetches sessions broken down by raw channel group.
func (c *Client) FetchTrafficSources(ctx context.Context, cred *models.PropertyCredential, start, end string) ([]Row, error) {
	return c.runReport(ctx, cred, &runReportRequest{
		DateRanges: []DateRange{{StartDate: start, EndDate: end}},
		Dimensions: []Dimension{{Name: dimensionChannel}},
		Metrics:    []Metric{{Name: metricSessions}},
	})
}

// FetchDeviceBreakdown fetches sessions broken down by raw device category.
func (c *Client) FetchDeviceBreakdown(ctx context.Context, cred *models.PropertyCredential, start, end string) ([]Row, error) {
	return c.runReport(ctx, cred, &runReportRequest{
		DateRanges: []DateRange{{StartDate: start, EndDate: end}},
		Dimensions: []Dimension{{Name: dimensionDevice}},
		Metrics:    []Metric{{Name: metricSessions}},
	})
}

// FetchBatch issues the main, traffic and device reports concurrently and
// joins the results. The first failure cancels the remaining calls.
func (c *Client) FetchBatch(ctx context.Context, cred *models.PropertyCredential, start, end string) (*BatchReport, error) {
	return fetchBatch(ctx, c, cred, start, end)
}

// ValidateAccess probes the property with a trailing-7-day sessions report.
// Any failure reduces to false; this is a reachability check, not an error
// path.
func (c *Client) ValidateAccess(ctx context.Context, cred *models.PropertyCredential) bool {
	_, err := c.runReport(ctx, cred, &runReportRequest{
		DateRanges: []DateRange{{StartDate: "7daysAgo", EndDate: "today"}},
		Metrics:    []Metric{{Name: metricSessions}},
		Limit:      1,
	})
	return err == nil
}
