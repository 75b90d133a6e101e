// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exposes the operational Prometheus metrics required
// by spec.md §6: resize counters, per-tick gauges, and two info blocks
// (release, settings). Grounded on internal/metrics/metrics.go in the
// teacher, reusing its NewCounterVec/registry pattern for the registry
// setup, but the counters themselves are plain (unlabeled), matching
// the Python original's prometheus_client.Counter/Gauge definitions
// exactly — unlike the teacher's per-namespace/claim-labeled vectors,
// spec.md §4.F increments these once per tick or per resize attempt,
// never per PVC. Uses a dedicated prometheus.NewRegistry() instead of
// controller-runtime's global ctrlmetrics.Registry since this program
// has no manager.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace is the namespace component of every metric name this
// package registers.
const Namespace = "volume_autoscaler"

// settingsLabels is the fixed set of label names backing the settings
// info block, matching the keys produced by config.Config.SettingsForMetrics.
var settingsLabels = []string{
	"interval_time",
	"scale_above_percent",
	"scale_after_intervals",
	"scale_up_percent",
	"scale_up_min_increment",
	"scale_up_max_increment",
	"scale_up_max_size",
	"scale_cooldown_time",
	"gcp_project_id",
	"dry_run",
}

// Metrics holds the registered collectors and the registry they live
// in, so the HTTP handler and the collectors can be wired together
// without relying on a package-level global.
type Metrics struct {
	registry *prometheus.Registry

	ResizeEvaluated  prometheus.Counter
	ResizeAttempted  prometheus.Counter
	ResizeSuccessful prometheus.Counter
	ResizeFailure    prometheus.Counter

	NumValidPVCs          prometheus.Gauge
	NumPVCsAboveThreshold prometheus.Gauge
	NumPVCsBelowThreshold prometheus.Gauge

	Release  *prometheus.GaugeVec
	Settings *prometheus.GaugeVec
}

// New creates a Metrics instance and registers every collector on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ResizeEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "resize_evaluated",
			Help:      "Counter which is increased every time we evaluate resizing PVCs",
		}),

		ResizeAttempted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "resize_attempted",
			Help:      "Counter which is increased every time we attempt to resize",
		}),

		ResizeSuccessful: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "resize_successful",
			Help:      "Counter which is increased every time we successfully resize",
		}),

		ResizeFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "resize_failure",
			Help:      "Counter which is increased every time we fail to resize",
		}),

		NumValidPVCs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "num_valid_pvcs",
			Help:      "Gauge with the number of valid PVCs detected which we found to consider for scaling",
		}),

		NumPVCsAboveThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "num_pvcs_above_threshold",
			Help:      "Gauge with the number of PVCs detected above the desired percentage threshold",
		}),

		NumPVCsBelowThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "num_pvcs_below_threshold",
			Help:      "Gauge with the number of PVCs detected below the desired percentage threshold",
		}),

		Release: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "release",
			Help:      "Release/version information about this volume autoscaler service, value is always 1",
		}, []string{"version"}),

		Settings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "settings",
			Help:      "Settings currently used in this service, value is always 1",
		}, settingsLabels),
	}

	m.registry.MustRegister(
		m.ResizeEvaluated,
		m.ResizeAttempted,
		m.ResizeSuccessful,
		m.ResizeFailure,
		m.NumValidPVCs,
		m.NumPVCsAboveThreshold,
		m.NumPVCsBelowThreshold,
		m.Release,
		m.Settings,
	)

	return m
}

// SetRelease publishes the volume_autoscaler_release info block.
func (m *Metrics) SetRelease(version string) {
	m.Release.Reset()
	m.Release.WithLabelValues(version).Set(1)
}

// SetSettings publishes the volume_autoscaler_settings info block as a
// single series carrying the resolved configuration as labels, mirroring
// prometheus_client's Info metric type in the Python original (which
// client_golang has no direct equivalent of). settings must carry a
// value for every key in settingsLabels; a missing key publishes an
// empty label value.
func (m *Metrics) SetSettings(settings map[string]string) {
	values := make([]string, len(settingsLabels))
	for i, name := range settingsLabels {
		values[i] = settings[name]
	}
	m.Settings.Reset()
	m.Settings.WithLabelValues(values...).Set(1)
}

// Handler returns the HTTP handler to serve the registry's metrics on,
// conventionally at port 8000 per spec.md §6.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
