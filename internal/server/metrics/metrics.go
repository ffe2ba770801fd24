// Package metrics exposes gatekeeper's Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks authentication and provisioning outcomes.
//
// All metrics use the "gatekeeper_" prefix. Methods handle a nil receiver
// gracefully, so a nil *Metrics acts as a no-op.
type Metrics struct {
	// AuthAttempts counts password logins by result.
	// Labels: result=[success, rejected, unavailable]
	AuthAttempts *prometheus.CounterVec

	// SecondFactor counts TOTP verifications by result.
	// Labels: result=[success, invalid_code, not_enrolled]
	SecondFactor *prometheus.CounterVec

	// Provisioning counts create/delete operations by outcome.
	// Labels: operation=[create, delete], result=[success, <error kind>]
	Provisioning *prometheus.CounterVec

	// Compensations counts rollbacks of a committed store write.
	// Labels: result=[success, failure]
	Compensations *prometheus.CounterVec

	// Warnings counts downstream failures that did not fail the operation.
	// Labels: backend=[directory, export]
	Warnings *prometheus.CounterVec

	// BackendDuration tracks calls to the store, directory and export sink.
	// Labels: backend, operation
	BackendDuration *prometheus.HistogramVec
}

// New creates and registers the metrics. If registerer is nil,
// prometheus.DefaultRegisterer is used.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		AuthAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_auth_attempts_total",
				Help: "Total password authentication attempts by result",
			},
			[]string{"result"},
		),
		SecondFactor: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_second_factor_verifications_total",
				Help: "Total TOTP verifications by result",
			},
			[]string{"result"},
		),
		Provisioning: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_provisioning_operations_total",
				Help: "Total identity create/delete operations by result",
			},
			[]string{"operation", "result"},
		),
		Compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_compensations_total",
				Help: "Total compensating deletes of credential store rows",
			},
			[]string{"result"},
		),
		Warnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_sync_warnings_total",
				Help: "Downstream failures reported as warnings",
			},
			[]string{"backend"},
		),
		BackendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_backend_duration_seconds",
				Help:    "Backend call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "operation"},
		),
	}

	registerer.MustRegister(
		m.AuthAttempts,
		m.SecondFactor,
		m.Provisioning,
		m.Compensations,
		m.Warnings,
		m.BackendDuration,
	)
	return m
}

func (m *Metrics) RecordAuth(result string) {
	if m == nil {
		return
	}
	m.AuthAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSecondFactor(result string) {
	if m == nil {
		return
	}
	m.SecondFactor.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordProvisioning(operation, result string) {
	if m == nil {
		return
	}
	m.Provisioning.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) RecordCompensation(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.Compensations.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordWarning(backend string) {
	if m == nil {
		return
	}
	m.Warnings.WithLabelValues(backend).Inc()
}

// ObserveBackend records the time since start.
//
//	defer m.ObserveBackend("directory", "add", time.Now())
func (m *Metrics) ObserveBackend(backend, operation string, start time.Time) {
	if m == nil {
		return
	}
	m.BackendDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}
