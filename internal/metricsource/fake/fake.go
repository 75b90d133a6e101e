// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package fake provides in-memory [metricsource.Source] implementations
// for tests: a deterministic Fake source whose observations are set
// directly, and an AlwaysFailing source for exercising the reconciler's
// transient-failure handling.
package fake

import (
	"context"
	"errors"
	"sync"

	"github.com/Executioner1939/gke-volume-autoscaler/internal/metricsource"
)

// ErrAlwaysFails is returned by every call to AlwaysFailing.Query.
var ErrAlwaysFails = errors.New("fake: metrics source always fails")

// AlwaysFailing is a [metricsource.Source] that always returns an error,
// exercising the reconciler's "skip tick" path (spec.md §4.F step 3).
type AlwaysFailing struct{}

var _ metricsource.Source = AlwaysFailing{}

// Query implements [metricsource.Source].
func (AlwaysFailing) Query(_ context.Context, _ string) ([]metricsource.Observation, error) {
	return nil, ErrAlwaysFails
}

// Fake is a [metricsource.Source] whose observations are set directly by
// the test via Set, rather than derived from a ticking consumption
// model. It is safe for concurrent use.
type Fake struct {
	mu           sync.Mutex
	observations []metricsource.Observation
	err          error
}

var _ metricsource.Source = &Fake{}

// New creates an empty Fake source.
func New() *Fake {
	return &Fake{}
}

// Set replaces the observations returned by subsequent calls to Query.
func (f *Fake) Set(observations ...metricsource.Observation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observations = observations
	f.err = nil
}

// Fail makes subsequent calls to Query return err.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Query implements [metricsource.Source].
func (f *Fake) Query(_ context.Context, _ string) ([]metricsource.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	result := make([]metricsource.Observation, len(f.observations))
	copy(result, f.observations)
	return result, nil
}
