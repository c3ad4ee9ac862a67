// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

// Package models defines the shared domain types for Metricus: metric records
// and their period-key scheme, fetch planning periods, processed metric bundles
// with typed traffic/device distributions, property credentials, fetch status
// tracking, and the error taxonomy used across the sync pipeline.
package models
