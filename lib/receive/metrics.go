// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package receive

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/intake/lib/demux"
	"github.com/bureau-foundation/intake/lib/status"
)

// Request outcomes, used as the "outcome" metric label.
const (
	outcomeReceived = "received"
	outcomeDropped  = "dropped"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
	outcomeAborted  = "aborted"
)

// MetricsConfig configures NewMetrics.
type MetricsConfig struct {
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// KeyCount, when set, backs the intake_data_feed_keys gauge.
	KeyCount func() int
}

// Metrics records receipt outcomes. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    prometheus.Counter
	records  *prometheus.CounterVec
	inFlight prometheus.Gauge
}

// NewMetrics creates and registers the receipt metrics. Collectors
// already registered under the same names are reused.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	registerer := config.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	metrics := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "requests_total",
			Help:      "Receipt requests by outcome and status code.",
		}, []string{"outcome", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "intake",
			Name:      "request_duration_seconds",
			Help:      "Time from request start to response, by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9),
		}, []string{"outcome"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "received_bytes_total",
			Help:      "Decompressed data bytes written to committed targets.",
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "records_total",
			Help:      "Records demultiplexed from received requests.",
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "intake",
			Name:      "requests_in_flight",
			Help:      "Receipt requests currently being processed.",
		}),
	}

	if err := register(registerer, &metrics.requests); err != nil {
		return nil, err
	}
	if err := register(registerer, &metrics.duration); err != nil {
		return nil, err
	}
	if err := register(registerer, &metrics.bytes); err != nil {
		return nil, err
	}
	if err := register(registerer, &metrics.records); err != nil {
		return nil, err
	}
	if err := register(registerer, &metrics.inFlight); err != nil {
		return nil, err
	}
	if config.KeyCount != nil {
		keys := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "intake",
			Name:      "data_feed_keys",
			Help:      "Data feed keys currently loaded.",
		}, func() float64 { return float64(config.KeyCount()) })
		var collector prometheus.Collector = keys
		if err := register(registerer, &collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

// register registers *collector, replacing it with the existing
// collector when one is already registered under the same name.
func register[C prometheus.Collector](registerer prometheus.Registerer, collector *C) error {
	err := registerer.Register(*collector)
	if err == nil {
		return nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			*collector = existing
			return nil
		}
	}
	return fmt.Errorf("registering receipt metric: %w", err)
}

func (m *Metrics) started() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

func (m *Metrics) observe(outcome string, err *status.Error, summary demux.Summary, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := status.OK
	if err != nil {
		code = err.Code
	}
	m.requests.WithLabelValues(outcome, code.String()).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if outcome != outcomeReceived {
		return
	}
	m.bytes.Add(float64(summary.Bytes))
	m.records.WithLabelValues(outcomeReceived).Add(float64(summary.Records))
	if summary.Dropped > 0 {
		m.records.WithLabelValues(outcomeDropped).Add(float64(summary.Dropped))
	}
}
