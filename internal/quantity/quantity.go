// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package quantity converts between Kubernetes-style storage quantity
// strings (e.g. "10Gi", "512M", "1e9") and their byte counts.
//
// Parsing follows the BinarySI/decimalSI suffix tables used throughout
// Kubernetes; rendering picks the first unit, in the order T, G, M, Ti,
// Gi, Mi, that round-trips the byte count within a 10% tolerance,
// matching the human-readable output the
// reference implementation produced.
package quantity

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrBadFormat is returned when a quantity string has no recognizable
// numeric prefix.
var ErrBadFormat = errors.New("quantity: bad format")

var binarySuffixes = map[string]float64{
	"Ki": 1 << 10,
	"Mi": 1 << 20,
	"Gi": 1 << 30,
	"Ti": 1 << 40,
	"Pi": 1 << 50,
	"Ei": 1 << 60,
}

var decimalSuffixes = map[string]float64{
	"k": 1e3,
	"K": 1e3,
	"m": 1e6,
	"M": 1e6,
	"G": 1e9,
	"T": 1e12,
	"P": 1e15,
	"E": 1e18,
}

// renderUnits are tried in order; base-10 units first, then base-2.
// Mirrors helpers.py's convert_bytes_to_storage trial order.
var renderUnits = []struct {
	suffix     string
	multiplier float64
}{
	{"T", 1e12},
	{"G", 1e9},
	{"M", 1e6},
	{"Ti", 1 << 40},
	{"Gi", 1 << 30},
	{"Mi", 1 << 20},
}

// Parse converts a Kubernetes quantity string to a byte count. Binary
// suffixes (Ki, Mi, Gi, Ti, Pi, Ei) are powers of 1024; decimal suffixes
// (k, K, m, M, G, T, P, E) are powers of 10. A bare "e"/"E" between digits
// is treated as a floating-point decimal exponent rather than a suffix.
// A plain integer is interpreted as bytes. Returns ErrBadFormat if the
// leading numeric portion cannot be parsed.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrBadFormat)
	}

	// Two-character binary suffixes take priority over single-character
	// decimal suffixes (e.g. "Gi" must not be mistaken for "G" + "i").
	for suffix, mult := range binarySuffixes {
		if strings.HasSuffix(s, suffix) {
			numPart := strings.TrimSuffix(s, suffix)
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("%w: %q: %v", ErrBadFormat, s, err)
			}
			return int64(n * mult), nil
		}
	}

	for suffix, mult := range decimalSuffixes {
		if strings.HasSuffix(s, suffix) {
			numPart := strings.TrimSuffix(s, suffix)
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("%w: %q: %v", ErrBadFormat, s, err)
			}
			return int64(n * mult), nil
		}
	}

	if hasDecimalExponent(s) {
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrBadFormat, s, err)
		}
		return int64(n), nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrBadFormat, s, err)
	}
	return n, nil
}

// hasDecimalExponent reports whether s looks like "1.5e9"/"2E3" rather
// than a plain integer or suffixed quantity: an 'e'/'E' with digits on
// both sides.
func hasDecimalExponent(s string) bool {
	idx := strings.IndexAny(s, "eE")
	if idx <= 0 || idx >= len(s)-1 {
		return false
	}
	before := s[idx-1]
	after := s[idx+1]
	digitOrSign := func(b byte) bool {
		return (b >= '0' && b <= '9') || b == '+' || b == '-'
	}
	return (before >= '0' && before <= '9') && digitOrSign(after)
}

// Render converts a byte count to a human-readable quantity string,
// using the first unit (checked T, G, M, then Ti, Gi, Mi) whose rendered
// value round-trips within 10% of bytes; a later, larger unit such as Ti
// is not preferred over an earlier one that qualifies. Falls back to the
// raw integer when no unit qualifies.
func Render(bytes int64) string {
	if bytes < 0 {
		return strconv.FormatInt(bytes, 10)
	}
	for _, u := range renderUnits {
		if s, ok := tryNumericFormat(bytes, u.multiplier, u.suffix, 0.1); ok {
			return s
		}
	}
	return strconv.FormatInt(bytes, 10)
}

// tryNumericFormat renders bytes as a count of the given unit, accepting
// the candidate only if it round-trips within the given tolerance and
// bytes is at least 90% of one unit. Mirrors helpers.py's
// try_numeric_format.
func tryNumericFormat(bytes int64, multiplier float64, suffix string, tolerance float64) (string, bool) {
	if float64(bytes) < (1-tolerance)*multiplier {
		return "", false
	}
	candidate := math.Round(float64(bytes) / multiplier)
	if candidate <= 0 {
		return "", false
	}
	reconstructed := candidate * multiplier
	if math.Abs(reconstructed-float64(bytes)) >= tolerance*float64(bytes) {
		return "", false
	}
	return fmt.Sprintf("%d%s", int64(candidate), suffix), true
}
