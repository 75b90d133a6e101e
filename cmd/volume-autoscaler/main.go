// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	clientgoscheme "k8s.io/client-go/kubernetes/scheme"

	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/Executioner1939/gke-volume-autoscaler/internal/cache"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/common"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/config"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/inventory"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/metricsource/gmp"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/notify"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/reconciler"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/telemetry"
)

// release is set at build time via -ldflags, matching the teacher's
// version-stamping convention.
var release = "dev"

const metricsAddr = ":8000"

func main() {
	zapLog, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "unable to construct logger:", err)
		os.Exit(1)
	}
	defer func() { _ = zapLog.Sync() }()

	log := zapr.NewLogger(zapLog).WithName("volume-autoscaler")
	ctrl.SetLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error(err, "fatal error during startup")
		os.Exit(1)
	}
}

func run(ctx context.Context, log logr.Logger) error {
	cfg, err := config.Load(ctx, nil)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg.LogSummary(log)

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return fmt.Errorf("resolving kubernetes credentials: %w", err)
	}

	crClient, err := client.New(restConfig, client.Options{Scheme: clientgoscheme.Scheme})
	if err != nil {
		return fmt.Errorf("constructing controller-runtime client: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("constructing typed kubernetes clientset: %w", err)
	}

	inv, err := inventory.New(
		inventory.WithClient(crClient),
		inventory.WithClientset(clientset),
		inventory.WithTimeout(cfg.HTTPTimeout),
		inventory.WithLogger(log.WithName("inventory")),
		inventory.WithDefaults(inventory.Defaults{
			ScaleAbovePercent:   cfg.ScaleAbovePercent,
			ScaleAfterIntervals: cfg.ScaleAfterIntervals,
			ScaleUpPercent:      cfg.ScaleUpPercent,
			ScaleUpMinIncrement: cfg.ScaleUpMinIncrement,
			ScaleUpMaxIncrement: cfg.ScaleUpMaxIncrement,
			ScaleUpMaxSize:      cfg.ScaleUpMaxSize,
			ScaleCooldownTime:   cfg.ScaleCooldownTime,
		}),
	)
	if err != nil {
		return fmt.Errorf("constructing pvc inventory: %w", err)
	}

	metricsSource, err := gmp.New(ctx, cfg.GCPProjectID)
	if err != nil {
		return fmt.Errorf("constructing google managed prometheus source: %w", err)
	}
	if err := metricsSource.Ping(ctx); err != nil {
		return fmt.Errorf("google managed prometheus is unreachable: %w", err)
	}

	tel := telemetry.New()
	tel.SetRelease(release)
	tel.SetSettings(map[string]string{
		"interval_time":          cfg.IntervalTime.String(),
		"scale_above_percent":    fmt.Sprintf("%d", cfg.ScaleAbovePercent),
		"scale_after_intervals":  fmt.Sprintf("%d", cfg.ScaleAfterIntervals),
		"scale_up_percent":       fmt.Sprintf("%d", cfg.ScaleUpPercent),
		"scale_up_min_increment": fmt.Sprintf("%d", cfg.ScaleUpMinIncrement),
		"scale_up_max_increment": fmt.Sprintf("%d", cfg.ScaleUpMaxIncrement),
		"scale_up_max_size":      fmt.Sprintf("%d", cfg.ScaleUpMaxSize),
		"scale_cooldown_time":    cfg.ScaleCooldownTime.String(),
		"gcp_project_id":         cfg.GCPProjectID,
		"dry_run":                fmt.Sprintf("%t", cfg.DryRun),
	})

	notifier := notify.New(
		cfg.SlackWebhookURL,
		notify.WithChannel(cfg.SlackChannel),
		notify.WithMessagePrefix(cfg.SlackMessagePrefix),
		notify.WithMessageSuffix(cfg.SlackMessageSuffix),
	)

	runner, err := reconciler.New(
		reconciler.WithInventory(inv),
		reconciler.WithMetricsSource(metricsSource),
		reconciler.WithCache(cache.New(10*cfg.IntervalTime)),
		reconciler.WithTelemetry(tel),
		reconciler.WithNotifier(notifier),
		reconciler.WithInterval(cfg.IntervalTime),
		reconciler.WithLabelMatch(cfg.GMPLabelMatch),
		reconciler.WithDryRun(cfg.DryRun),
		reconciler.WithVerbose(cfg.Verbose),
		reconciler.WithLogger(log.WithName(common.ControllerName)),
	)
	if err != nil {
		return fmt.Errorf("constructing reconciler: %w", err)
	}

	server := &http.Server{
		Addr:              metricsAddr,
		Handler:           tel.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("starting metrics server", "address", metricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "metrics server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("starting volume autoscaler", "release", release, "interval", cfg.IntervalTime, "dryRun", cfg.DryRun)
	return runner.Run(ctx)
}
