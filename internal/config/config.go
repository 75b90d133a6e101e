// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package config resolves the environment-driven configuration surface
// (component I) into an immutable Config value, loaded once at startup.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/kelseyhightower/envconfig"
)

// ErrNoProjectID is returned by Load when GCP_PROJECT_ID is unset and
// auto-detection against the node metadata server also fails.
var ErrNoProjectID = errors.New("config: no GCP project id configured or detectable")

const metadataProjectIDURL = "http://metadata.google.internal/computeMetadata/v1/project/project-id"

// env mirrors the table in spec.md §6 for envconfig struct-tag decoding.
// Each field's envconfig tag names its environment variable.
type env struct {
	IntervalTime        int    `envconfig:"INTERVAL_TIME" default:"60"`
	ScaleAbovePercent   int    `envconfig:"SCALE_ABOVE_PERCENT" default:"80"`
	ScaleAfterIntervals int    `envconfig:"SCALE_AFTER_INTERVALS" default:"5"`
	ScaleUpPercent      int    `envconfig:"SCALE_UP_PERCENT" default:"20"`
	ScaleUpMinIncrement int64  `envconfig:"SCALE_UP_MIN_INCREMENT" default:"1000000000"`
	ScaleUpMaxIncrement int64  `envconfig:"SCALE_UP_MAX_INCREMENT" default:"16000000000000"`
	ScaleUpMaxSize      int64  `envconfig:"SCALE_UP_MAX_SIZE" default:"16000000000000"`
	ScaleCooldownTime   int    `envconfig:"SCALE_COOLDOWN_TIME" default:"22200"`
	GCPProjectID        string `envconfig:"GCP_PROJECT_ID"`
	GMPLabelMatch       string `envconfig:"GMP_LABEL_MATCH"`
	HTTPTimeout         int    `envconfig:"HTTP_TIMEOUT" default:"15"`
	DryRun              bool   `envconfig:"DRY_RUN" default:"false"`
	Verbose             bool   `envconfig:"VERBOSE" default:"false"`

	SlackWebhookURL    string `envconfig:"SLACK_WEBHOOK_URL"`
	SlackChannel       string `envconfig:"SLACK_CHANNEL"`
	SlackMessagePrefix string `envconfig:"SLACK_MESSAGE_PREFIX"`
	SlackMessageSuffix string `envconfig:"SLACK_MESSAGE_SUFFIX"`
}

// Config is the fully resolved, immutable configuration threaded into
// the reconciler and its adapters. It is loaded once at startup.
type Config struct {
	IntervalTime        time.Duration
	ScaleAbovePercent   int
	ScaleAfterIntervals int
	ScaleUpPercent      int
	ScaleUpMinIncrement int64
	ScaleUpMaxIncrement int64
	ScaleUpMaxSize      int64
	ScaleCooldownTime   time.Duration
	GCPProjectID        string
	GMPLabelMatch       string
	HTTPTimeout         time.Duration
	DryRun              bool
	Verbose             bool

	SlackWebhookURL    string
	SlackChannel       string
	SlackMessagePrefix string
	SlackMessageSuffix string
}

// ProjectIDDetector resolves a GCP project id when GCP_PROJECT_ID is not
// set in the environment. It exists so tests can substitute a fake
// metadata server without performing a real HTTP round trip.
type ProjectIDDetector func(ctx context.Context) (string, error)

// Load decodes the environment into a Config. When GCP_PROJECT_ID is
// unset, it falls back to detect, which defaults to querying the GCE/GKE
// metadata server (DetectProjectIDFromMetadata) when detect is nil.
// Returns ErrNoProjectID if neither source yields a project id.
func Load(ctx context.Context, detect ProjectIDDetector) (*Config, error) {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	projectID := e.GCPProjectID
	if projectID == "" {
		if detect == nil {
			detect = DetectProjectIDFromMetadata
		}
		detected, err := detect(ctx)
		if err != nil || detected == "" {
			return nil, ErrNoProjectID
		}
		projectID = detected
	}

	return &Config{
		IntervalTime:        time.Duration(e.IntervalTime) * time.Second,
		ScaleAbovePercent:   e.ScaleAbovePercent,
		ScaleAfterIntervals: e.ScaleAfterIntervals,
		ScaleUpPercent:      e.ScaleUpPercent,
		ScaleUpMinIncrement: e.ScaleUpMinIncrement,
		ScaleUpMaxIncrement: e.ScaleUpMaxIncrement,
		ScaleUpMaxSize:      e.ScaleUpMaxSize,
		ScaleCooldownTime:   time.Duration(e.ScaleCooldownTime) * time.Second,
		GCPProjectID:        projectID,
		GMPLabelMatch:       e.GMPLabelMatch,
		HTTPTimeout:         time.Duration(e.HTTPTimeout) * time.Second,
		DryRun:              e.DryRun,
		Verbose:             e.Verbose,
		SlackWebhookURL:     e.SlackWebhookURL,
		SlackChannel:        e.SlackChannel,
		SlackMessagePrefix:  e.SlackMessagePrefix,
		SlackMessageSuffix:  e.SlackMessageSuffix,
	}, nil
}

// DetectProjectIDFromMetadata queries the GCE/GKE metadata server for the
// project id of the node the process is running on.
func DetectProjectIDFromMetadata(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataProjectIDURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("config: metadata server returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// SettingsForMetrics returns the resolved configuration as string
// key/value pairs suitable for the volume_autoscaler_settings info
// metric (component G).
func (c *Config) SettingsForMetrics() map[string]string {
	return map[string]string{
		"interval_time":          c.IntervalTime.String(),
		"scale_above_percent":    fmt.Sprintf("%d", c.ScaleAbovePercent),
		"scale_after_intervals":  fmt.Sprintf("%d", c.ScaleAfterIntervals),
		"scale_up_percent":       fmt.Sprintf("%d", c.ScaleUpPercent),
		"scale_up_min_increment": fmt.Sprintf("%d", c.ScaleUpMinIncrement),
		"scale_up_max_increment": fmt.Sprintf("%d", c.ScaleUpMaxIncrement),
		"scale_up_max_size":      fmt.Sprintf("%d", c.ScaleUpMaxSize),
		"scale_cooldown_time":    c.ScaleCooldownTime.String(),
		"gcp_project_id":         c.GCPProjectID,
		"dry_run":                fmt.Sprintf("%t", c.DryRun),
	}
}

// LogSummary logs the fully resolved configuration once at startup,
// reproducing the reference implementation's printHeaderAndConfiguration
// banner.
func (c *Config) LogSummary(log logr.Logger) {
	slackEnabled := c.SlackWebhookURL != ""
	log.Info("volume autoscaler configuration",
		"intervalTime", c.IntervalTime,
		"scaleAbovePercent", c.ScaleAbovePercent,
		"scaleAfterIntervals", c.ScaleAfterIntervals,
		"scaleUpPercent", c.ScaleUpPercent,
		"scaleUpMinIncrement", c.ScaleUpMinIncrement,
		"scaleUpMaxIncrement", c.ScaleUpMaxIncrement,
		"scaleUpMaxSize", c.ScaleUpMaxSize,
		"scaleCooldownTime", c.ScaleCooldownTime,
		"gcpProjectID", c.GCPProjectID,
		"httpTimeout", c.HTTPTimeout,
		"dryRun", c.DryRun,
		"verbose", c.Verbose,
		"slackEnabled", slackEnabled,
		"slackChannel", c.SlackChannel,
	)
}

