// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package annotation holds the PVC annotation keys recognized by the
// volume autoscaler as per-claim overrides of the global policy defaults.
package annotation

const (
	// Prefix is the prefix used by all annotations recognized on PVCs.
	Prefix = "volume.autoscaler.kubernetes.io/"

	// LastResizedAt records the epoch seconds of the last successful
	// resize performed by the controller for this claim.
	LastResizedAt = Prefix + "last-resized-at"

	// ScaleAbovePercent overrides the alert threshold (1-100) at or above
	// which the claim is considered under pressure.
	ScaleAbovePercent = Prefix + "scale-above-percent"

	// ScaleAfterIntervals overrides the number of consecutive
	// above-threshold ticks required before a resize is attempted.
	ScaleAfterIntervals = Prefix + "scale-after-intervals"

	// ScaleUpPercent overrides the growth percentage applied to the
	// current size when computing the target size.
	ScaleUpPercent = Prefix + "scale-up-percent"

	// ScaleUpMinIncrement overrides the minimum increment, in bytes,
	// applied to a resize.
	ScaleUpMinIncrement = Prefix + "scale-up-min-increment"

	// ScaleUpMaxIncrement overrides the maximum increment, in bytes,
	// applied to a resize.
	ScaleUpMaxIncrement = Prefix + "scale-up-max-increment"

	// ScaleUpMaxSize overrides the absolute maximum size, in bytes, the
	// claim may be grown to.
	ScaleUpMaxSize = Prefix + "scale-up-max-size"

	// ScaleCooldownTime overrides the minimum number of seconds between
	// two resizes of the same claim.
	ScaleCooldownTime = Prefix + "scale-cooldown-time"

	// Ignore, when set to "true" (case-insensitively), suppresses all
	// resize attempts for the claim regardless of alert state.
	Ignore = Prefix + "ignore"
)
