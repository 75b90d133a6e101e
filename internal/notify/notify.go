// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package notify sends optional Slack notifications on resize success
// and failure (component G, Slack half). Grounded on slack.send(...) in
// helpers.py/main.py in the Python original, reimplemented with
// github.com/slack-go/slack's PostWebhook, the dependency named for
// exactly this purpose in the pack's wisbric-nightowl manifest.
package notify

import (
	"github.com/slack-go/slack"
)

// Notifier sends a message to Slack, or does nothing when disabled.
type Notifier interface {
	Info(message string) error
	Error(message string) error
}

// Webhook is a Notifier backed by a Slack incoming webhook. When
// webhookURL is empty it is a no-op, matching the Python original's
// `if slack.SLACK_WEBHOOK_URL and len(...) > 0` guard.
type Webhook struct {
	webhookURL string
	channel    string
	prefix     string
	suffix     string
	post       func(webhookURL string, msg *slack.WebhookMessage) error
}

// Option configures a Webhook.
type Option func(w *Webhook)

// WithChannel overrides the channel the webhook posts to.
func WithChannel(channel string) Option {
	return func(w *Webhook) { w.channel = channel }
}

// WithMessagePrefix prepends a fixed string to every message.
func WithMessagePrefix(prefix string) Option {
	return func(w *Webhook) { w.prefix = prefix }
}

// WithMessageSuffix appends a fixed string to every message.
func WithMessageSuffix(suffix string) Option {
	return func(w *Webhook) { w.suffix = suffix }
}

// WithPostFunc overrides the function used to deliver the webhook
// payload. Used by tests to avoid a real network call to Slack.
func WithPostFunc(post func(webhookURL string, msg *slack.WebhookMessage) error) Option {
	return func(w *Webhook) { w.post = post }
}

// New creates a Webhook notifier. An empty webhookURL produces a
// notifier whose Info/Error calls are no-ops.
func New(webhookURL string, opts ...Option) *Webhook {
	w := &Webhook{
		webhookURL: webhookURL,
		post:       slack.PostWebhook,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enabled reports whether this notifier will actually deliver
// messages, i.e. whether a webhook URL was configured.
func (w *Webhook) Enabled() bool {
	return w.webhookURL != ""
}

// Info sends an informational message, used on successful resize.
func (w *Webhook) Info(message string) error {
	return w.send(message, "good")
}

// Error sends an error-toned message, used on failed resize.
func (w *Webhook) Error(message string) error {
	return w.send(message, "danger")
}

func (w *Webhook) send(message, color string) error {
	if !w.Enabled() {
		return nil
	}

	text := w.prefix + message + w.suffix

	msg := &slack.WebhookMessage{
		Channel: w.channel,
		Attachments: []slack.Attachment{
			{
				Color: color,
				Text:  text,
			},
		},
	}

	return w.post(w.webhookURL, msg)
}
