// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/models"
)

func testAccount() *models.ServiceAccount {
	return &models.ServiceAccount{
		ID:           "sa-1",
		ClientKey:    "client-key",
		ClientSecret: "client-secret",
		RefreshToken: "refresh-token",
	}
}

func TestTokenClientRefresh(t *testing.T) {
	var gotContentType string
	var gotForm map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		gotForm = map[string]string{
			"client_id":     r.PostFormValue("client_id"),
			"client_secret": r.PostFormValue("client_secret"),
			"refresh_token": r.PostFormValue("refresh_token"),
			"grant_type":    r.PostFormValue("grant_type"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-token","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	client := NewTokenClient(&config.OAuthConfig{TokenURL: srv.URL, Timeout: 5 * time.Second})

	before := time.Now()
	token, expiry, err := client.Refresh(context.Background(), testAccount())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if gotContentType != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	want := map[string]string{
		"client_id":     "client-key",
		"client_secret": "client-secret",
		"refresh_token": "refresh-token",
		"grant_type":    "refresh_token",
	}
	for k, v := range want {
		if gotForm[k] != v {
			t.Errorf("form[%s] = %q, want %q", k, gotForm[k], v)
		}
	}

	if token != "new-token" {
		t.Errorf("token = %q, want new-token", token)
	}
	wantExpiry := before.Add(time.Hour)
	if expiry.Before(wantExpiry.Add(-time.Minute)) || expiry.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("expiry = %v, want roughly one hour out", expiry)
	}
}

func TestTokenClientRefreshError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	client := NewTokenClient(&config.OAuthConfig{TokenURL: srv.URL, Timeout: 5 * time.Second})
	_, _, err := client.Refresh(context.Background(), testAccount())

	var apiErr *models.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *models.APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", apiErr.Status)
	}
}

func TestTokenClientRefreshMissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"expires_in":3600}`))
	}))
	defer srv.Close()

	client := NewTokenClient(&config.OAuthConfig{TokenURL: srv.URL, Timeout: 5 * time.Second})
	if _, _, err := client.Refresh(context.Background(), testAccount()); err == nil {
		t.Fatal("expected error for response without access_token")
	}
}
