// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/metricus/internal/models"
)

// ErrNotFound is returned when a credential row does not exist.
var ErrNotFound = errors.New("not found")

// GetPropertyAccessByClient loads a client's property access grant.
// Returns ErrNotFound when the client has no grant.
func (db *DB) GetPropertyAccessByClient(ctx context.Context, clientID string) (*models.PropertyAccess, error) {
	var pa models.PropertyAccess
	err := db.conn.QueryRowContext(ctx,
		`SELECT client_id, property_id, service_account_id, verified, created_at
		 FROM property_access WHERE client_id = ?`, clientID).
		Scan(&pa.ClientID, &pa.PropertyID, &pa.ServiceAccountID, &pa.Verified, &pa.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("property access for client %s: %w", clientID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load property access for client %s: %w", clientID, err)
	}
	return &pa, nil
}

// UpsertPropertyAccess stores a property access grant. Used by onboarding.
func (db *DB) UpsertPropertyAccess(ctx context.Context, pa *models.PropertyAccess) error {
	if pa.CreatedAt.IsZero() {
		pa.CreatedAt = time.Now()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO property_access (client_id, property_id, service_account_id, verified, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (client_id) DO UPDATE SET
			property_id = excluded.property_id,
			service_account_id = excluded.service_account_id,
			verified = excluded.verified`,
		pa.ClientID, pa.PropertyID, pa.ServiceAccountID, pa.Verified, pa.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert property access for client %s: %w", pa.ClientID, err)
	}
	return nil
}

// GetServiceAccount loads one service account's credential state.
// Returns ErrNotFound when absent.
func (db *DB) GetServiceAccount(ctx context.Context, id string) (*models.ServiceAccount, error) {
	var sa models.ServiceAccount
	var accessToken, refreshToken sql.NullString
	var expiry sql.NullTime

	err := db.conn.QueryRowContext(ctx,
		`SELECT id, client_key, client_secret, access_token, refresh_token, token_expiry
		 FROM service_accounts WHERE id = ?`, id).
		Scan(&sa.ID, &sa.ClientKey, &sa.ClientSecret, &accessToken, &refreshToken, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("service account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load service account %s: %w", id, err)
	}

	sa.AccessToken = accessToken.String
	sa.RefreshToken = refreshToken.String
	if expiry.Valid {
		sa.TokenExpiry = expiry.Time
	}
	return &sa, nil
}

// UpsertServiceAccount stores a service account. Used by onboarding.
func (db *DB) UpsertServiceAccount(ctx context.Context, sa *models.ServiceAccount) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO service_accounts (id, client_key, client_secret, access_token, refresh_token, token_expiry)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			client_key = excluded.client_key,
			client_secret = excluded.client_secret,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expiry = excluded.token_expiry`,
		sa.ID, sa.ClientKey, sa.ClientSecret, sa.AccessToken, sa.RefreshToken, nullableTime(sa.TokenExpiry))
	if err != nil {
		return fmt.Errorf("failed to upsert service account %s: %w", sa.ID, err)
	}
	return nil
}

// UpdateServiceAccountTokens persists a refreshed access token and its
// absolute expiry. Called by the auth coordinator immediately after a
// successful refresh.
func (db *DB) UpdateServiceAccountTokens(ctx context.Context, id, accessToken string, expiry time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE service_accounts SET access_token = ?, token_expiry = ? WHERE id = ?`,
		accessToken, expiry, id)
	if err != nil {
		return fmt.Errorf("failed to update tokens for service account %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("service account %s: %w", id, ErrNotFound)
	}
	return nil
}

// nullableTime maps a zero time to NULL.
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
