// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package models

import "time"

// PropertyAccess links a client to an external reporting property and the
// service account authorized against it. Verified is set by the onboarding
// flow once the property grant has been confirmed.
type PropertyAccess struct {
	ClientID         string    `json:"client_id"`
	PropertyID       string    `json:"property_id"`
	ServiceAccountID string    `json:"service_account_id"`
	Verified         bool      `json:"verified"`
	CreatedAt        time.Time `json:"created_at"`
}

// ServiceAccount holds the OAuth credential state for one service account.
// Token fields are mutated only by the authentication coordinator after a
// successful refresh, and written back immediately.
type ServiceAccount struct {
	ID           string    `json:"id"`
	ClientKey    string    `json:"client_key"`
	ClientSecret string    `json:"-"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenExpiry  time.Time `json:"token_expiry"`
}

// Expired reports whether the access token has passed its expiry at time now.
// A zero expiry is treated as expired so never-refreshed accounts refresh on
// first use.
func (s *ServiceAccount) Expired(now time.Time) bool {
	return !s.TokenExpiry.After(now)
}

// PropertyCredential is the resolved, ready-to-use credential returned by the
// authentication coordinator: a valid access token bound to a property.
type PropertyCredential struct {
	ClientID         string    `json:"client_id"`
	PropertyID       string    `json:"property_id"`
	ServiceAccountID string    `json:"service_account_id"`
	AccessToken      string    `json:"-"`
	TokenExpiry      time.Time `json:"token_expiry"`
}
