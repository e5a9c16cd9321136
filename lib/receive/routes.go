// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package receive

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bureau-foundation/intake/lib/filestore"
	"github.com/bureau-foundation/intake/lib/version"
)

// StatsSource reports store totals. Satisfied by *filestore.Store.
type StatsSource interface {
	Stats(ctx context.Context) (filestore.Stats, error)
}

// Readiness reports whether a dependency is usable. Satisfied by
// *policy.CachedChecker.
type Readiness interface {
	Ready() error
}

// StatusConfig configures the /status endpoint.
type StatusConfig struct {
	Store StatsSource

	// KeyCount reports the loaded data-feed keys. Optional.
	KeyCount func() int

	// Policy reports whether policy rules have loaded. Optional.
	Policy Readiness

	Logger *slog.Logger
}

// StatusReport is the JSON body of GET /status.
type StatusReport struct {
	Version      string           `json:"version"`
	Healthy      bool             `json:"healthy"`
	Store        *filestore.Stats `json:"store,omitempty"`
	StoreError   string           `json:"store_error,omitempty"`
	DataFeedKeys *int             `json:"data_feed_keys,omitempty"`
	PolicyError  string           `json:"policy_error,omitempty"`
}

// StatusHandler serves GET /status: 200 when the store answers and
// policy rules are loaded, 503 otherwise.
func StatusHandler(config StatusConfig) http.Handler {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		report := StatusReport{Version: version.Info(), Healthy: true}
		if config.Store != nil {
			stats, err := config.Store.Stats(request.Context())
			if err != nil {
				report.Healthy = false
				report.StoreError = err.Error()
			} else {
				report.Store = &stats
			}
		}
		if config.KeyCount != nil {
			count := config.KeyCount()
			report.DataFeedKeys = &count
		}
		if config.Policy != nil {
			if err := config.Policy.Ready(); err != nil {
				report.Healthy = false
				report.PolicyError = err.Error()
			}
		}

		code := http.StatusOK
		if !report.Healthy {
			code = http.StatusServiceUnavailable
		}
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(code)
		if err := json.NewEncoder(writer).Encode(report); err != nil {
			logger.Debug("writing status report", "error", err)
		}
	})
}

// RoutesConfig lists the handlers NewServeMux mounts.
type RoutesConfig struct {
	Receive http.Handler
	Status  http.Handler

	// Metrics is mounted at MetricsPath when both are set.
	Metrics     http.Handler
	MetricsPath string
}

// NewServeMux mounts the receipt endpoints:
//
//	POST /datafeed
//	POST /datafeed/direct
//	GET  /status
//	GET  <MetricsPath>
func NewServeMux(config RoutesConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /datafeed", config.Receive)
	mux.Handle("POST /datafeed/direct", config.Receive)
	if config.Status != nil {
		mux.Handle("GET /status", config.Status)
	}
	if config.Metrics != nil && config.MetricsPath != "" {
		mux.Handle("GET "+config.MetricsPath, config.Metrics)
	}
	return mux
}
