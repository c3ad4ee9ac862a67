// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

/*
coordinator.go - Credential Resolution and Single-Flight Refresh

Resolves a client ID to a ready-to-use property credential: loads the
client's property access and service account, refreshes the access token
when expired, and returns the bound credential.

Refresh is single-flight keyed by service account ID. When many sync
operations hit the same expired credential at once, exactly one outbound
token call is made; every waiter shares its outcome, success or failure.
The in-flight entry is dropped once the call settles so a later burst gets
a fresh attempt.

Stored tokens are optionally encrypted at rest; the coordinator decrypts on
load and encrypts before persisting a refreshed token.
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/metricus/internal/database"
	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/metrics"
	"github.com/tomtom215/metricus/internal/models"
)

// expiryMargin renews tokens slightly early so a credential handed to a
// multi-period sync run does not expire mid-run.
const expiryMargin = 2 * time.Minute

// CredentialStore is the persistence surface the coordinator needs.
// *database.DB implements it.
type CredentialStore interface {
	GetPropertyAccessByClient(ctx context.Context, clientID string) (*models.PropertyAccess, error)
	GetServiceAccount(ctx context.Context, id string) (*models.ServiceAccount, error)
	UpdateServiceAccountTokens(ctx context.Context, id, accessToken string, expiry time.Time) error
}

// TokenRefresher exchanges a refresh token for a new access token.
// Implemented by *TokenClient.
type TokenRefresher interface {
	Refresh(ctx context.Context, account *models.ServiceAccount) (string, time.Time, error)
}

// Coordinator resolves client credentials.
type Coordinator struct {
	store     CredentialStore
	refresher TokenRefresher
	encryptor *TokenEncryptor
	group     singleflight.Group
	now       func() time.Time
}

// NewCoordinator builds a coordinator. encryptor may be nil (encryption at
// rest disabled).
func NewCoordinator(store CredentialStore, refresher TokenRefresher, encryptor *TokenEncryptor) *Coordinator {
	return &Coordinator{
		store:     store,
		refresher: refresher,
		encryptor: encryptor,
		now:       time.Now,
	}
}

// refreshOutcome is the shared result of one single-flight refresh.
type refreshOutcome struct {
	accessToken string
	expiry      time.Time
}

// GetCredential resolves the client's property credential, refreshing the
// access token if it has expired (or is about to).
func (c *Coordinator) GetCredential(ctx context.Context, clientID string) (*models.PropertyCredential, error) {
	access, err := c.store.GetPropertyAccessByClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, &models.AuthenticationError{ClientID: clientID, Reason: "no property access configured"}
		}
		return nil, &models.AuthenticationError{ClientID: clientID, Reason: "failed to load property access", Err: err}
	}
	if !access.Verified {
		return nil, &models.AuthenticationError{ClientID: clientID, Reason: "property access not verified"}
	}

	account, err := c.store.GetServiceAccount(ctx, access.ServiceAccountID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, &models.AuthenticationError{ClientID: clientID, Reason: "service account " + access.ServiceAccountID + " not found"}
		}
		return nil, &models.AuthenticationError{ClientID: clientID, Reason: "failed to load service account", Err: err}
	}

	if err := c.decryptTokens(account); err != nil {
		return nil, &models.AuthenticationError{ClientID: clientID, Reason: "failed to decrypt stored tokens", Err: err}
	}

	if account.Expired(c.now().Add(expiryMargin)) {
		outcome, err := c.refreshShared(ctx, clientID, account)
		if err != nil {
			return nil, err
		}
		account.AccessToken = outcome.accessToken
		account.TokenExpiry = outcome.expiry
	}

	return &models.PropertyCredential{
		ClientID:         clientID,
		PropertyID:       access.PropertyID,
		ServiceAccountID: account.ID,
		AccessToken:      account.AccessToken,
		TokenExpiry:      account.TokenExpiry,
	}, nil
}

// refreshShared funnels concurrent refreshes for one service account into a
// single outbound token call.
func (c *Coordinator) refreshShared(ctx context.Context, clientID string, account *models.ServiceAccount) (*refreshOutcome, error) {
	if account.RefreshToken == "" {
		return nil, &models.AuthenticationError{ClientID: clientID, Reason: "access token expired and no refresh token is stored"}
	}

	result, err, shared := c.group.Do(account.ID, func() (interface{}, error) {
		return c.doRefresh(ctx, account)
	})
	// Arrange for the next expired-token burst to trigger a fresh attempt.
	c.group.Forget(account.ID)

	if shared {
		metrics.TokenRefreshesShared.Inc()
	}
	if err != nil {
		// doRefresh already logged; waiters just propagate.
		return nil, &models.AuthenticationError{ClientID: clientID, Reason: "token refresh failed", Err: err}
	}
	return result.(*refreshOutcome), nil
}

// doRefresh is the single in-flight refresh body: one token call, one
// persistence write, one log line.
func (c *Coordinator) doRefresh(ctx context.Context, account *models.ServiceAccount) (interface{}, error) {
	accessToken, expiry, err := c.refresher.Refresh(ctx, account)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		logging.Error().
			Err(err).
			Str("service_account_id", account.ID).
			Msg("Token refresh failed")
		return nil, err
	}

	stored := accessToken
	if c.encryptor.IsEnabled() {
		stored, err = c.encryptor.Encrypt(accessToken)
		if err != nil {
			metrics.TokenRefreshes.WithLabelValues("failure").Inc()
			return nil, fmt.Errorf("encrypt refreshed token: %w", err)
		}
	}
	if err := c.store.UpdateServiceAccountTokens(ctx, account.ID, stored, expiry); err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	logging.Info().
		Str("service_account_id", account.ID).
		Time("expiry", expiry).
		Msg("Refreshed access token")
	return &refreshOutcome{accessToken: accessToken, expiry: expiry}, nil
}

// decryptTokens reverses at-rest encryption on a loaded service account.
func (c *Coordinator) decryptTokens(account *models.ServiceAccount) error {
	if !c.encryptor.IsEnabled() {
		return nil
	}
	var err error
	if account.AccessToken, err = c.encryptor.Decrypt(account.AccessToken); err != nil {
		return fmt.Errorf("access token: %w", err)
	}
	if account.RefreshToken, err = c.encryptor.Decrypt(account.RefreshToken); err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	if account.ClientSecret, err = c.encryptor.Decrypt(account.ClientSecret); err != nil {
		return fmt.Errorf("client secret: %w", err)
	}
	return nil
}

// readBodyForError reads a bounded error body for diagnostics.
func readBodyForError(r io.Reader) []byte {
	const limit = 16 * 1024
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	return body
}
