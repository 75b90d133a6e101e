// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package reconciler implements the periodic reconciliation loop
// (component F): it joins the PVC inventory (component D) with metric
// observations (component E), advances the per-PVC alert-streak state
// machine, enforces cooldown/debounce/dry-run, and dispatches resizes
// together with their event/metric/Slack side effects. Grounded on the
// ticker-loop shape of internal/periodic/periodic.go in the teacher and
// the per-PVC decision logic of the main loop in main.py.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"

	"github.com/Executioner1939/gke-volume-autoscaler/internal/cache"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/inventory"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/metricsource"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/notify"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/quantity"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/scale"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/telemetry"
)

// debounceSuffix marks the post-resize debounce entry for a PVC key in
// the TTL cache.
const debounceSuffix = "-has-been-resized"

// shutdownPollInterval is the cadence at which the run loop re-checks
// elapsed time and context cancellation, satisfying spec.md §5's "the
// latch must be checked at least once per second" requirement.
const shutdownPollInterval = time.Second

// ErrNoInventory is returned when the Runner is configured without a
// PVC inventory.
var ErrNoInventory = errors.New("no inventory provided")

// ErrNoCache is returned when the Runner is configured without a TTL
// cache.
var ErrNoCache = errors.New("no cache provided")

// ErrNoTelemetry is returned when the Runner is configured without a
// metrics recorder.
var ErrNoTelemetry = errors.New("no telemetry provided")

// ErrNoMetricsSource is returned when the Runner is configured without
// a metrics source.
var ErrNoMetricsSource = errors.New("no metrics source provided")

// Runner is the periodic reconciler.
type Runner struct {
	inventory inventory.Inventory
	metrics   metricsource.Source
	cache     *cache.Cache
	telemetry *telemetry.Metrics
	notifier  notify.Notifier

	interval   time.Duration
	labelMatch string
	dryRun     bool
	verbose    bool

	log logr.Logger
}

// Option configures a Runner.
type Option func(r *Runner)

// WithInventory configures the PVC inventory adapter.
func WithInventory(inv inventory.Inventory) Option {
	return func(r *Runner) { r.inventory = inv }
}

// WithMetricsSource configures the metrics source adapter.
func WithMetricsSource(src metricsource.Source) Option {
	return func(r *Runner) { r.metrics = src }
}

// WithCache configures the TTL cache used for alert streaks and the
// post-resize debounce flag.
func WithCache(c *cache.Cache) Option {
	return func(r *Runner) { r.cache = c }
}

// WithTelemetry configures the Prometheus metrics recorder.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.telemetry = m }
}

// WithNotifier configures the optional Slack notifier. Without this
// option, or with a nil notifier, Slack notifications are disabled.
func WithNotifier(n notify.Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithInterval configures the scan interval between ticks.
func WithInterval(d time.Duration) Option {
	return func(r *Runner) { r.interval = d }
}

// WithLabelMatch configures the raw PromQL label selector injected into
// both metric queries.
func WithLabelMatch(labelMatch string) Option {
	return func(r *Runner) { r.labelMatch = labelMatch }
}

// WithDryRun configures whether resizes are only logged, never applied.
func WithDryRun(dryRun bool) Option {
	return func(r *Runner) { r.dryRun = dryRun }
}

// WithVerbose enables the per-volume diagnostic snapshot log line on
// every tick.
func WithVerbose(verbose bool) Option {
	return func(r *Runner) { r.verbose = verbose }
}

// WithLogger configures the logger.
func WithLogger(log logr.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// noopNotifier discards every message; used when no Slack webhook is
// configured.
type noopNotifier struct{}

func (noopNotifier) Info(string) error  { return nil }
func (noopNotifier) Error(string) error { return nil }

// New creates a Runner and configures it with the given options.
func New(opts ...Option) (*Runner, error) {
	r := &Runner{
		interval: time.Minute,
		notifier: noopNotifier{},
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.inventory == nil {
		return nil, ErrNoInventory
	}
	if r.metrics == nil {
		return nil, ErrNoMetricsSource
	}
	if r.cache == nil {
		return nil, ErrNoCache
	}
	if r.telemetry == nil {
		return nil, ErrNoTelemetry
	}
	if r.notifier == nil {
		r.notifier = noopNotifier{}
	}

	return r, nil
}

// Run blocks, ticking every second to check whether the interval has
// elapsed and whether ctx has been cancelled, running one full
// reconciliation pass each time the interval elapses. Mirrors the
// original's MAIN_LOOP_TIME=1 polling granularity, which lets a
// shutdown signal observed mid-sleep terminate within about a second
// rather than waiting out the full scan interval.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()

	var lastRun time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if !lastRun.IsZero() && now.Sub(lastRun) < r.interval {
				continue
			}
			lastRun = now
			r.Tick(ctx)
		}
	}
}

// Tick runs exactly one reconciliation pass: §4.F steps 1-5. Exported
// so tests can drive individual passes directly instead of waiting on
// Run's real-time ticker.
func (r *Runner) Tick(ctx context.Context) {
	r.telemetry.ResizeEvaluated.Inc()

	inv, err := r.inventory.ListAll(ctx)
	if err != nil {
		r.log.Error(err, "failed to list persistentvolumeclaims, skipping tick")
		return
	}

	observations, err := r.metrics.Query(ctx, r.labelMatch)
	if err != nil {
		r.log.Error(err, "failed to query metrics, skipping tick")
		return
	}
	r.log.Info("found valid pvcs to assess", "count", len(observations))
	r.telemetry.NumValidPVCs.Set(float64(len(observations)))
	r.telemetry.NumPVCsAboveThreshold.Set(0)
	r.telemetry.NumPVCsBelowThreshold.Set(0)

	for _, o := range observations {
		r.processObservation(ctx, inv, o)
	}
}

// processObservation handles a single observation against the current
// inventory, guarding against a panic in one PVC's processing aborting
// the rest of the tick (§4.F: "exceptions within a key's processing
// must not abort the tick").
func (r *Runner) processObservation(ctx context.Context, inv map[string]*inventory.Record, o metricsource.Observation) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Info("recovered from panic while processing observation", "key", o.Key(), "panic", v)
		}
	}()

	key := o.Key()
	rec, ok := inv[key]
	if !ok {
		// §4.F step 5a / invariant 4: expected jitter window right after
		// deletion, or a stale scrape. Not an error.
		r.log.Info("observation has no matching inventory entry, skipping", "key", key)
		return
	}

	rec.DiskUsedPercent = o.DiskPercent
	rec.InodeUsedPercent = o.InodePercent

	if r.verbose {
		r.logVolumeSnapshot(rec)
	}

	r.processRecord(ctx, key, rec)
}

// processRecord advances the per-PVC alert state machine and, if all
// preconditions clear, dispatches a resize. Implements §4.F steps 5c-5l.
func (r *Runner) processRecord(ctx context.Context, key string, rec *inventory.Record) {
	log := r.log.WithValues("pvc", key)
	threshold := float64(rec.Policy.ScaleAbovePercent)

	if rec.DiskUsedPercent < threshold && rec.InodeUsedPercent < threshold {
		r.telemetry.NumPVCsBelowThreshold.Inc()
		r.cache.Unset(key)
		log.Info("below threshold", "threshold", rec.Policy.ScaleAbovePercent)
		return
	}
	r.telemetry.NumPVCsAboveThreshold.Inc()

	streak := r.cache.GetInt(key) + 1
	r.cache.Set(key, streak)

	reason := "inode"
	if rec.DiskUsedPercent >= threshold {
		reason = "disk"
	}
	log.Info("above threshold", "reason", reason, "streak", streak, "scaleAfterIntervals", rec.Policy.ScaleAfterIntervals)

	if streak < rec.Policy.ScaleAfterIntervals {
		log.Info("still arming, waiting for more intervals in alert")
		return
	}

	now := time.Now().Unix()
	if rec.Policy.LastResizedAt+int64(rec.Policy.ScaleCooldownTime.Seconds()) > now {
		log.Info("cooldown active, skipping resize")
		return
	}

	target, ok := scale.Calculate(
		rec.ObservedBytes,
		rec.Policy.ScaleUpPercent,
		rec.Policy.ScaleUpMinIncrement,
		rec.Policy.ScaleUpMaxIncrement,
		rec.Policy.ScaleUpMaxSize,
	)
	if !ok {
		log.Info("no scale possible, check the per-pvc scale annotations")
		return
	}
	if target < rec.ObservedBytes {
		log.Info("calculated target is smaller than current size, likely a misconfigured scale-up-max-size", "target", target, "current", rec.ObservedBytes)
		return
	}
	if target == rec.ObservedBytes {
		log.Info("already at the maximum configured size", "size", target)
		return
	}

	if rec.Policy.Ignore {
		log.Info("ignoring, the ignore annotation is set")
		return
	}

	if _, debounced := r.cache.Get(key + debounceSuffix); debounced {
		log.Info("debouncing, resized within recent intervals")
		return
	}

	alertDuration := time.Duration(streak) * r.interval
	message := fmt.Sprintf(
		"to scale up `%s` by `%d%%` from `%s` to `%s`, it was using more than `%d%%` %s space over the last `%s`",
		key, rec.Policy.ScaleUpPercent, quantity.Render(rec.ObservedBytes), quantity.Render(target),
		rec.Policy.ScaleAbovePercent, reason, alertDuration,
	)

	if r.dryRun {
		log.Info("dry run, not resizing", "action", message)
		return
	}

	r.telemetry.ResizeAttempted.Inc()
	log.Info("resizing disk", "from", quantity.Render(rec.ObservedBytes), "to", quantity.Render(target))

	r.inventory.EmitEvent(ctx, rec, "VolumeResizeRequested", "Requesting "+message, corev1.EventTypeNormal)

	if _, err := r.inventory.PatchSize(ctx, rec.Namespace, rec.Name, target); err != nil {
		r.telemetry.ResizeFailure.Inc()
		failMessage := "FAILED requesting " + message
		log.Error(err, "failed to resize pvc")
		r.inventory.EmitEvent(ctx, rec, "VolumeResizeRequestFailed", failMessage, corev1.EventTypeWarning)
		if notifyErr := r.notifier.Error(failMessage); notifyErr != nil {
			log.Error(notifyErr, "failed to send slack notification")
		}
		return
	}

	r.telemetry.ResizeSuccessful.Inc()
	r.cache.Set(key+debounceSuffix, true)
	successMessage := "Successfully requested " + message
	log.Info(successMessage)
	if notifyErr := r.notifier.Info(successMessage); notifyErr != nil {
		log.Error(notifyErr, "failed to send slack notification")
	}
}

// logVolumeSnapshot logs a structured per-PVC diagnostic line under
// VERBOSE=true, reproducing print_human_readable_volume_dict from the
// Python original: sizes rendered human-readable, cooldown as a
// duration, last-resized-at as a timestamp.
func (r *Runner) logVolumeSnapshot(rec *inventory.Record) {
	lastResized := "never"
	if rec.Policy.LastResizedAt != 0 {
		lastResized = time.Unix(rec.Policy.LastResizedAt, 0).UTC().Format(time.RFC3339)
	}

	r.log.Info("volume snapshot",
		"pvc", rec.Key(),
		"declared", quantity.Render(rec.DeclaredBytes),
		"observed", quantity.Render(rec.ObservedBytes),
		"diskUsedPercent", rec.DiskUsedPercent,
		"inodeUsedPercent", rec.InodeUsedPercent,
		"scaleAbovePercent", rec.Policy.ScaleAbovePercent,
		"scaleAfterIntervals", rec.Policy.ScaleAfterIntervals,
		"scaleUpPercent", rec.Policy.ScaleUpPercent,
		"scaleUpMinIncrement", quantity.Render(rec.Policy.ScaleUpMinIncrement),
		"scaleUpMaxIncrement", quantity.Render(rec.Policy.ScaleUpMaxIncrement),
		"scaleUpMaxSize", quantity.Render(rec.Policy.ScaleUpMaxSize),
		"scaleCooldownTime", rec.Policy.ScaleCooldownTime,
		"lastResizedAt", lastResized,
		"ignore", rec.Policy.Ignore,
	)
}
