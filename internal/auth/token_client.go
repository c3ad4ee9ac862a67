// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/models"
)

// tokenResponse is the OAuth token endpoint's refresh grant response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// TokenClient exchanges refresh tokens for access tokens against the
// configured OAuth token endpoint.
type TokenClient struct {
	tokenURL   string
	httpClient *http.Client
}

// NewTokenClient builds a token client from configuration.
func NewTokenClient(cfg *config.OAuthConfig) *TokenClient {
	return &TokenClient{
		tokenURL:   cfg.TokenURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Refresh performs the refresh_token grant and returns the new access token
// with its absolute expiry.
func (c *TokenClient) Refresh(ctx context.Context, account *models.ServiceAccount) (accessToken string, expiry time.Time, err error) {
	form := url.Values{
		"client_id":     {account.ClientKey},
		"client_secret": {account.ClientSecret},
		"refresh_token": {account.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", time.Time{}, &models.APIError{
			Status: resp.StatusCode,
			Body:   string(readBodyForError(resp.Body)),
		}
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", time.Time{}, err
	}
	if tok.AccessToken == "" {
		return "", time.Time{}, &models.APIError{Status: resp.StatusCode, Body: "token response missing access_token"}
	}

	// expires_in is relative seconds; anchor it to when the request started
	// so clock slop works against us, not for us.
	return tok.AccessToken, start.Add(time.Duration(tok.ExpiresIn) * time.Second), nil
}
