// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package metricsource defines the metrics source adapter interface
// (component E): a PromQL-speaking backend that yields per-PVC disk and
// inode utilization percentages. Concrete implementations live in the
// gmp and fake subpackages.
package metricsource

import "context"

// Observation is one (namespace, claim) utilization sample. InodePercent
// is -1 when the inode query failed or returned no sample for this
// claim; the reconciler treats -1 as "never exceeds a threshold".
type Observation struct {
	Namespace    string
	Claim        string
	DiskPercent  float64
	InodePercent float64
}

// Key returns the namespace.claim join key used to correlate an
// observation with an inventory record.
func (o Observation) Key() string {
	return o.Namespace + "." + o.Claim
}

// Source executes the two PromQL templates (disk %, inode %) described
// in spec.md §4.E against a backend and returns the joined per-claim
// observations. labelMatch is substituted verbatim into the `{LABELS}`
// placeholder of both templates; an empty string yields no label
// constraints.
type Source interface {
	Query(ctx context.Context, labelMatch string) ([]Observation, error)
}
