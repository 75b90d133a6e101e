// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package scale computes the target size for a PersistentVolumeClaim
// resize given its current size and policy. It is a pure function with
// no I/O and no dependency on any other package in this module.
package scale

// Calculate computes the target size in bytes for a resize, given the
// current size and policy parameters. The ordering of the clamping steps
// is significant: minIncrement and maxIncrement bound the delta from
// original before maxSize bounds the absolute result.
//
// Returns the target size and true, or (0, false) when no resize should
// be performed (the clamped target equals the original size, or the
// inputs are nonsensical).
func Calculate(original int64, scaleUpPercent int, minIncrement, maxIncrement, maxSize int64) (int64, bool) {
	if original < 0 || scaleUpPercent < 0 || minIncrement < 0 || maxIncrement < 0 || maxSize < 0 {
		return 0, false
	}

	target := original + (original*int64(scaleUpPercent))/100

	if target-original < minIncrement {
		target = original + minIncrement
	}
	if target-original > maxIncrement {
		target = original + maxIncrement
	}
	if target > maxSize {
		target = maxSize
	}
	if target == original {
		return 0, false
	}

	return target, true
}
