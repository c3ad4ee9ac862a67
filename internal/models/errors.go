// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package models

import "fmt"

// AuthenticationError covers missing or unverified property access and token
// refresh failures. A refresh failure is delivered to every concurrent waiter
// of the shared refresh but logged only once.
type AuthenticationError struct {
	ClientID string
	Reason   string
	Err      error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed for client %s: %s: %v", e.ClientID, e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed for client %s: %s", e.ClientID, e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// APIError is a non-2xx response from the reporting or token endpoint.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reporting API returned status %d: %s", e.Status, e.Body)
}

// ProcessingError indicates a malformed API response. It is distinct from the
// zero-rows case, which yields a nil bundle and no error.
type ProcessingError struct {
	Stage  string
	Detail string
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing %s: %s", e.Stage, e.Detail)
}

// StorageError covers invalid client IDs and metric write failures.
type StorageError struct {
	ClientID string
	Op       string
	Err      error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage %s for client %s: %v", e.Op, e.ClientID, e.Err)
	}
	return fmt.Sprintf("storage %s for client %s", e.Op, e.ClientID)
}

func (e *StorageError) Unwrap() error { return e.Err }
