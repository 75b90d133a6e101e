// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package reconciler_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	corev1 "k8s.io/api/core/v1"

	cachepkg "github.com/Executioner1939/gke-volume-autoscaler/internal/cache"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/inventory"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/metricsource"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/metricsource/fake"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/reconciler"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/telemetry"
)

type eventCall struct {
	reason    string
	message   string
	eventType string
}

// fakeInventory is a minimal in-memory Inventory used to drive the
// reconciler's state machine without a real or fake Kubernetes client,
// following spec.md §9's "tests inject an in-memory fake exercising all
// state-machine branches without a real cluster".
type fakeInventory struct {
	mu       sync.Mutex
	records  map[string]*inventory.Record
	patches  int
	patchErr error
	events   []eventCall
}

func newFakeInventory(records ...*inventory.Record) *fakeInventory {
	f := &fakeInventory{records: map[string]*inventory.Record{}}
	for _, r := range records {
		f.records[r.Key()] = r
	}
	return f
}

func (f *fakeInventory) ListAll(context.Context) (map[string]*inventory.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]*inventory.Record, len(f.records))
	for k, v := range f.records {
		cp := *v
		out[k] = &cp
	}
	return out, nil
}

func (f *fakeInventory) PatchSize(_ context.Context, namespace, name string, newBytes int64) (*inventory.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.patches++
	if f.patchErr != nil {
		return nil, f.patchErr
	}

	key := namespace + "." + name
	rec, ok := f.records[key]
	if !ok {
		return nil, errors.New("not found")
	}
	rec.ObservedBytes = newBytes
	rec.Policy.LastResizedAt = time.Now().Unix()
	cp := *rec
	return &cp, nil
}

func (f *fakeInventory) EmitEvent(_ context.Context, _ *inventory.Record, reason, message, eventType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventCall{reason: reason, message: message, eventType: eventType})
}

func (f *fakeInventory) patchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patches
}

func (f *fakeInventory) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newRecord(namespace, name string, observedBytes int64) *inventory.Record {
	return &inventory.Record{
		Namespace:     namespace,
		Name:          name,
		DeclaredBytes: observedBytes,
		ObservedBytes: observedBytes,
		Policy: inventory.Policy{
			ScaleAbovePercent:   80,
			ScaleAfterIntervals: 5,
			ScaleUpPercent:      20,
			ScaleUpMinIncrement: 1_000_000_000,
			ScaleUpMaxIncrement: 16_000_000_000_000,
			ScaleUpMaxSize:      16_000_000_000_000,
			ScaleCooldownTime:   22200 * time.Second,
		},
	}
}

var _ = Describe("Runner", func() {
	var (
		ctx       context.Context
		inv       *fakeInventory
		metrics   *fake.Fake
		cache     *cachepkg.Cache
		tel       *telemetry.Metrics
		r         *reconciler.Runner
	)

	BeforeEach(func() {
		ctx = context.Background()
		metrics = fake.New()
		cache = cachepkg.New(10 * time.Minute)
		tel = telemetry.New()
	})

	buildRunner := func(dryRun bool) {
		var err error
		r, err = reconciler.New(
			reconciler.WithInventory(inv),
			reconciler.WithMetricsSource(metrics),
			reconciler.WithCache(cache),
			reconciler.WithTelemetry(tel),
			reconciler.WithInterval(60*time.Second),
			reconciler.WithDryRun(dryRun),
		)
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("New", func() {
		It("should return an error when no inventory is provided", func() {
			_, err := reconciler.New(
				reconciler.WithMetricsSource(fake.New()),
				reconciler.WithCache(cachepkg.New(time.Minute)),
				reconciler.WithTelemetry(telemetry.New()),
			)
			Expect(err).To(Equal(reconciler.ErrNoInventory))
		})
	})

	Describe("scenario: sustained alert, first-ever resize", func() {
		It("should patch exactly once after reaching the streak threshold", func() {
			rec := newRecord("app", "data", 10_000_000_000)
			inv = newFakeInventory(rec)
			buildRunner(false)

			for i := 0; i < 5; i++ {
				metrics.Set(metricsource.Observation{Namespace: "app", Claim: "data", DiskPercent: 90, InodePercent: -1})
				r.Tick(ctx)
			}

			Expect(inv.patchCount()).To(Equal(1))
			Expect(inv.eventCount()).To(Equal(1))
			Expect(inv.events[0].reason).To(Equal("VolumeResizeRequested"))
			Expect(inv.events[0].eventType).To(Equal(corev1.EventTypeNormal))

			updated := inv.records["app.data"]
			Expect(updated.ObservedBytes).To(Equal(int64(12_000_000_000)))
		})

		It("should not patch before the streak threshold is reached", func() {
			rec := newRecord("app", "data", 10_000_000_000)
			inv = newFakeInventory(rec)
			buildRunner(false)

			for i := 0; i < 4; i++ {
				metrics.Set(metricsource.Observation{Namespace: "app", Claim: "data", DiskPercent: 90, InodePercent: -1})
				r.Tick(ctx)
			}

			Expect(inv.patchCount()).To(Equal(0))
		})
	})

	Describe("scenario: clamped by max_size", func() {
		It("should clamp the target to max_size and then report no further scale", func() {
			rec := newRecord("app", "data", 15_900_000_000_000)
			rec.Policy.ScaleUpPercent = 50
			rec.Policy.ScaleUpMaxSize = 16_000_000_000_000
			rec.Policy.ScaleAfterIntervals = 1
			// no cooldown, so the second tick reaches the calculator
			rec.Policy.ScaleCooldownTime = 0
			inv = newFakeInventory(rec)
			buildRunner(false)

			metrics.Set(metricsource.Observation{Namespace: "app", Claim: "data", DiskPercent: 90, InodePercent: -1})
			r.Tick(ctx)

			Expect(inv.patchCount()).To(Equal(1))
			updated := inv.records["app.data"]
			Expect(updated.ObservedBytes).To(Equal(int64(16_000_000_000_000)))

			// a subsequent tick at the now-max size yields "no scale" and no
			// further patch, even though the observation is still above
			// threshold (streak requirement of 1 is already satisfied).
			metrics.Set(metricsource.Observation{Namespace: "app", Claim: "data", DiskPercent: 90, InodePercent: -1})
			r.Tick(ctx)

			Expect(inv.patchCount()).To(Equal(1))
		})
	})

	Describe("scenario: ignore annotation set", func() {
		It("should never patch or emit events regardless of streak", func() {
			rec := newRecord("app", "data", 10_000_000_000)
			rec.Policy.Ignore = true
			inv = newFakeInventory(rec)
			buildRunner(false)

			for i := 0; i < 10; i++ {
				metrics.Set(metricsource.Observation{Namespace: "app", Claim: "data", DiskPercent: 95, InodePercent: -1})
				r.Tick(ctx)
			}

			Expect(inv.patchCount()).To(Equal(0))
			Expect(inv.eventCount()).To(Equal(0))
		})
	})

	Describe("scenario: cooldown active", func() {
		It("should withhold the resize until the cooldown elapses", func() {
			rec := newRecord("app", "data", 10_000_000_000)
			rec.Policy.ScaleAfterIntervals = 1
			rec.Policy.ScaleCooldownTime = 22200 * time.Second
			rec.Policy.LastResizedAt = time.Now().Add(-100 * time.Second).Unix()
			inv = newFakeInventory(rec)
			buildRunner(false)

			metrics.Set(metricsource.Observation{Namespace: "app", Claim: "data", DiskPercent: 90, InodePercent: -1})
			r.Tick(ctx)
			Expect(inv.patchCount()).To(Equal(0))

			inv.records["app.data"].Policy.LastResizedAt = time.Now().Add(-22201 * time.Second).Unix()
			metrics.Set(metricsource.Observation{Namespace: "app", Claim: "data", DiskPercent: 90, InodePercent: -1})
			r.Tick(ctx)
			Expect(inv.patchCount()).To(Equal(1))
		})
	})

	Describe("scenario: inode-only pressure", func() {
		It("should trigger a resize and attribute the reason to inodes", func() {
			rec := newRecord("app", "data", 10_000_000_000)
			rec.Policy.ScaleAfterIntervals = 1
			inv = newFakeInventory(rec)
			buildRunner(false)

			metrics.Set(metricsource.Observation{Namespace: "app", Claim: "data", DiskPercent: 10, InodePercent: 95})
			r.Tick(ctx)

			Expect(inv.patchCount()).To(Equal(1))
			Expect(inv.events[0].message).To(ContainSubstring("inode"))
		})
	})

	Describe("scenario: observation without inventory", func() {
		It("should log and skip without touching any state", func() {
			inv = newFakeInventory()
			buildRunner(false)

			metrics.Set(metricsource.Observation{Namespace: "app", Claim: "ghost", DiskPercent: 95, InodePercent: -1})
			r.Tick(ctx)

			Expect(inv.patchCount()).To(Equal(0))
			Expect(inv.eventCount()).To(Equal(0))
		})
	})

	Describe("dry run", func() {
		It("should not patch but should still arm the streak", func() {
			rec := newRecord("app", "data", 10_000_000_000)
			rec.Policy.ScaleAfterIntervals = 1
			inv = newFakeInventory(rec)
			buildRunner(true)

			metrics.Set(metricsource.Observation{Namespace: "app", Claim: "data", DiskPercent: 90, InodePercent: -1})
			r.Tick(ctx)

			Expect(inv.patchCount()).To(Equal(0))
			Expect(cache.GetInt("app.data")).To(Equal(1))
		})
	})

	Describe("streak reset", func() {
		It("should reset the streak to zero after a single below-threshold observation", func() {
			rec := newRecord("app", "data", 10_000_000_000)
			inv = newFakeInventory(rec)
			buildRunner(false)

			for i := 0; i < 4; i++ {
				metrics.Set(metricsource.Observation{Namespace: "app", Claim: "data", DiskPercent: 90, InodePercent: -1})
				r.Tick(ctx)
			}
			metrics.Set(metricsource.Observation{Namespace: "app", Claim: "data", DiskPercent: 10, InodePercent: -1})
			r.Tick(ctx)

			for i := 0; i < 4; i++ {
				metrics.Set(metricsource.Observation{Namespace: "app", Claim: "data", DiskPercent: 90, InodePercent: -1})
				r.Tick(ctx)
			}

			Expect(inv.patchCount()).To(Equal(0))
		})
	})

	Describe("post-resize debounce", func() {
		It("should not resize again immediately even if the streak is still satisfied", func() {
			rec := newRecord("app", "data", 10_000_000_000)
			rec.Policy.ScaleAfterIntervals = 1
			rec.Policy.ScaleCooldownTime = 0
			inv = newFakeInventory(rec)
			buildRunner(false)

			metrics.Set(metricsource.Observation{Namespace: "app", Claim: "data", DiskPercent: 90, InodePercent: -1})
			r.Tick(ctx)
			Expect(inv.patchCount()).To(Equal(1))

			metrics.Set(metricsource.Observation{Namespace: "app", Claim: "data", DiskPercent: 90, InodePercent: -1})
			r.Tick(ctx)
			Expect(inv.patchCount()).To(Equal(1))
		})
	})
})
