// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package report

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/models"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(&config.ReportingConfig{
		BaseURL:        baseURL,
		Timeout:        5 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		RatePerSecond:  1000,
		RateBurst:      1000,
	})
}

func testCredential() *models.PropertyCredential {
	return &models.PropertyCredential{
		ClientID:    "client-1",
		PropertyID:  "123456789",
		AccessToken: "test-token",
	}
}

func rowsResponse(rows []Row) []byte {
	body, _ := json.Marshal(runReportResponse{Rows: rows, RowCount: len(rows)})
	return body
}

func TestFetchMainMetricsRequestShape(t *testing.T) {
	var captured runReportRequest
	var gotPath, gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		_, _ = w.Write(rowsResponse([]Row{
			{MetricValues: []Value{{"1500"}, {"1200"}, {"0.42"}, {"95.5"}, {"2.4"}, {"1.25"}}},
		}))
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	rows, err := client.FetchMainMetrics(context.Background(), testCredential(), "2025-07-01", "2025-07-31")
	if err != nil {
		t.Fatalf("FetchMainMetrics failed: %v", err)
	}

	if gotPath != "/properties/123456789:runReport" {
		t.Errorf("path = %q, want /properties/123456789:runReport", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want Bearer test-token", gotAuth)
	}
	if len(captured.DateRanges) != 1 || captured.DateRanges[0].StartDate != "2025-07-01" || captured.DateRanges[0].EndDate != "2025-07-31" {
		t.Errorf("unexpected date ranges: %+v", captured.DateRanges)
	}
	if len(captured.Metrics) != len(mainMetricNames) {
		t.Fatalf("metric count = %d, want %d", len(captured.Metrics), len(mainMetricNames))
	}
	for i, name := range mainMetricNames {
		if captured.Metrics[i].Name != name {
			t.Errorf("metric[%d] = %q, want %q", i, captured.Metrics[i].Name, name)
		}
	}
	if len(captured.Dimensions) != 0 {
		t.Errorf("aggregate report should carry no dimensions, got %+v", captured.Dimensions)
	}

	if len(rows) != 1 || rows[0].MetricValues[0].Value != "1500" {
		t.Errorf("unexpected rows: %+v", rows)
	}
}

func TestFetchDailyMetricsOrdersByDate(t *testing.T) {
	var captured runReportRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		_, _ = w.Write(rowsResponse(nil))
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	if _, err := client.FetchDailyMetrics(context.Background(), testCredential(), "2025-07-01", "2025-07-31"); err != nil {
		t.Fatalf("FetchDailyMetrics failed: %v", err)
	}

	if len(captured.Dimensions) != 1 || captured.Dimensions[0].Name != dimensionDate {
		t.Errorf("dimensions = %+v, want single %q", captured.Dimensions, dimensionDate)
	}
	if len(captured.OrderBys) != 1 || captured.OrderBys[0].Dimension == nil ||
		captured.OrderBys[0].Dimension.DimensionName != dimensionDate {
		t.Errorf("orderBys = %+v, want ascending by %q", captured.OrderBys, dimensionDate)
	}
	if captured.OrderBys[0].Desc {
		t.Error("daily report should order ascending")
	}
}

func TestRunReportAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"permission denied"}}`))
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	_, err := client.FetchTrafficSources(context.Background(), testCredential(), "2025-07-01", "2025-07-31")
	if err == nil {
		t.Fatal("expected error on 403")
	}

	var apiErr *models.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *models.APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", apiErr.Status)
	}
	if !strings.Contains(apiErr.Body, "permission denied") {
		t.Errorf("body = %q, want to contain response detail", apiErr.Body)
	}
}

func TestRateLimitRetryThenSuccess(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write(rowsResponse([]Row{
			{DimensionValues: []Value{{"Direct"}}, MetricValues: []Value{{"100"}}},
		}))
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	rows, err := client.FetchTrafficSources(context.Background(), testCredential(), "2025-07-01", "2025-07-31")
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3 (two 429s then success)", got)
	}
	if len(rows) != 1 {
		t.Errorf("rows = %d, want 1", len(rows))
	}
}

func TestRateLimitExhaustsRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	client.maxRetries = 2

	_, err := client.FetchDeviceBreakdown(context.Background(), testCredential(), "2025-07-01", "2025-07-31")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Errorf("error = %v, want rate limit exhaustion", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3 (initial + 2 retries)", got)
	}
}

func TestFetchBatchJoinsReports(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req runReportRequest
		_ = json.Unmarshal(body, &req)

		switch {
		case len(req.Dimensions) == 0:
			_, _ = w.Write(rowsResponse([]Row{
				{MetricValues: []Value{{"1500"}, {"1200"}, {"0.42"}, {"95.5"}, {"2.4"}, {"1.25"}}},
			}))
		case req.Dimensions[0].Name == dimensionChannel:
			_, _ = w.Write(rowsResponse([]Row{
				{DimensionValues: []Value{{"Direct"}}, MetricValues: []Value{{"900"}}},
				{DimensionValues: []Value{{"Organic Search"}}, MetricValues: []Value{{"600"}}},
			}))
		case req.Dimensions[0].Name == dimensionDevice:
			_, _ = w.Write(rowsResponse([]Row{
				{DimensionValues: []Value{{"desktop"}}, MetricValues: []Value{{"1000"}}},
				{DimensionValues: []Value{{"mobile"}}, MetricValues: []Value{{"500"}}},
			}))
		default:
			t.Errorf("unexpected dimension %q", req.Dimensions[0].Name)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	batch, err := client.FetchBatch(context.Background(), testCredential(), "2025-07-01", "2025-07-31")
	if err != nil {
		t.Fatalf("FetchBatch failed: %v", err)
	}

	if len(batch.Main) != 1 {
		t.Errorf("main rows = %d, want 1", len(batch.Main))
	}
	if len(batch.Traffic) != 2 {
		t.Errorf("traffic rows = %d, want 2", len(batch.Traffic))
	}
	if len(batch.Device) != 2 {
		t.Errorf("device rows = %d, want 2", len(batch.Device))
	}
}

func TestFetchBatchPropagatesFirstFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req runReportRequest
		_ = json.Unmarshal(body, &req)

		if len(req.Dimensions) == 1 && req.Dimensions[0].Name == dimensionDevice {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("backend error"))
			return
		}
		_, _ = w.Write(rowsResponse(nil))
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	_, err := client.FetchBatch(context.Background(), testCredential(), "2025-07-01", "2025-07-31")
	if err == nil {
		t.Fatal("expected batch to fail when one report fails")
	}

	var apiErr *models.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *models.APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", apiErr.Status)
	}
}

func TestValidateAccess(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"reachable property", http.StatusOK, true},
		{"permission denied", http.StatusForbidden, false},
		{"property missing", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				if tt.status == http.StatusOK {
					_, _ = w.Write(rowsResponse(nil))
				}
			}))
			defer srv.Close()

			client := testClient(t, srv.URL)
			if got := client.ValidateAccess(context.Background(), testCredential()); got != tt.want {
				t.Errorf("ValidateAccess = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCircuitBreakerOpensOnSustainedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cbClient := NewCircuitBreakerClient(testClient(t, srv.URL))

	// Drive enough failures to cross the 60%-of-10 threshold.
	for i := 0; i < 12; i++ {
		_, _ = cbClient.FetchMainMetrics(context.Background(), testCredential(), "2025-07-01", "2025-07-31")
	}

	_, err := cbClient.FetchMainMetrics(context.Background(), testCredential(), "2025-07-01", "2025-07-31")
	if err == nil {
		t.Fatal("expected rejection once circuit is open")
	}
	if !strings.Contains(err.Error(), "unavailable") {
		t.Errorf("error = %v, want open-circuit rejection", err)
	}
}

func TestCircuitBreakerPassesThroughSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(rowsResponse([]Row{
			{DimensionValues: []Value{{"desktop"}}, MetricValues: []Value{{"1000"}}},
		}))
	}))
	defer srv.Close()

	cbClient := NewCircuitBreakerClient(testClient(t, srv.URL))
	rows, err := cbClient.FetchDeviceBreakdown(context.Background(), testCredential(), "2025-07-01", "2025-07-31")
	if err != nil {
		t.Fatalf("FetchDeviceBreakdown failed: %v", err)
	}
	if len(rows) != 1 || rows[0].DimensionValues[0].Value != "desktop" {
		t.Errorf("unexpected rows: %+v", rows)
	}
}
