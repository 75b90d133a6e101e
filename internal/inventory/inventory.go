// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package inventory implements the PVC inventory adapter (component D):
// listing PVCs cluster-wide, flattening each into a Record that merges
// global policy defaults with per-claim annotation overrides, patching a
// claim's requested storage, and emitting Kubernetes Events.
package inventory

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/Executioner1939/gke-volume-autoscaler/internal/annotation"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/common"
	"github.com/Executioner1939/gke-volume-autoscaler/internal/quantity"
)

// Policy is the set of per-PVC tunables, each defaulted globally and
// overridable by an annotation (spec.md §3/§6).
type Policy struct {
	ScaleAbovePercent   int
	ScaleAfterIntervals int
	ScaleUpPercent      int
	ScaleUpMinIncrement int64
	ScaleUpMaxIncrement int64
	ScaleUpMaxSize      int64
	ScaleCooldownTime   time.Duration
	LastResizedAt       int64 // epoch seconds, 0 = never
	Ignore              bool
}

// Record is one flattened PVC: identity, declared/observed size, and
// resolved policy. DiskUsedPercent/InodeUsedPercent are populated by the
// reconciler after joining against a metrics observation; -1 means
// unknown.
type Record struct {
	Namespace       string
	Name            string
	ResourceVersion string
	UID             types.UID
	DeclaredBytes   int64
	ObservedBytes   int64
	StorageClass    string
	Policy          Policy

	DiskUsedPercent  float64
	InodeUsedPercent float64
}

// Key returns the namespace.name join key used throughout the
// reconciler and the TTL cache.
func (r *Record) Key() string {
	return r.Namespace + "." + r.Name
}

// Inventory is the Kubernetes-backed PVC inventory adapter interface
// (component D + the Event half of component G).
type Inventory interface {
	ListAll(ctx context.Context) (map[string]*Record, error)
	PatchSize(ctx context.Context, namespace, name string, newBytes int64) (*Record, error)
	EmitEvent(ctx context.Context, rec *Record, reason, message, eventType string)
}

// Defaults carries the global policy defaults (from config) that seed
// every record before annotation overrides are applied.
type Defaults struct {
	ScaleAbovePercent   int
	ScaleAfterIntervals int
	ScaleUpPercent      int
	ScaleUpMinIncrement int64
	ScaleUpMaxIncrement int64
	ScaleUpMaxSize      int64
	ScaleCooldownTime   time.Duration
}

// Client is the controller-runtime/client-go backed implementation of
// Inventory.
type Client struct {
	client    client.Client
	clientset kubernetes.Interface
	defaults  Defaults
	timeout   time.Duration
	log       logr.Logger
}

var _ Inventory = &Client{}

// Option configures a Client.
type Option func(c *Client)

// WithClient configures the generic controller-runtime client used for
// listing and patching PVCs.
func WithClient(cl client.Client) Option {
	return func(c *Client) { c.client = cl }
}

// WithClientset configures the typed client-go clientset used for event
// creation.
func WithClientset(cs kubernetes.Interface) Option {
	return func(c *Client) { c.clientset = cs }
}

// WithTimeout configures the per-request timeout applied to list/patch
// calls (spec.md §5).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger configures the logger used for per-record warnings (bad
// annotation values) and swallowed event-emission failures.
func WithLogger(log logr.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithDefaults configures the global policy defaults new records are
// seeded with before annotation overrides are applied.
func WithDefaults(d Defaults) Option {
	return func(c *Client) { c.defaults = d }
}

// New creates a Client and configures it with the given options.
func New(opts ...Option) (*Client, error) {
	c := &Client{timeout: 15 * time.Second, log: logr.Discard()}
	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		return nil, common.ErrNoClient
	}
	if c.clientset == nil {
		return nil, common.ErrNoClient
	}

	return c, nil
}

// ListAll lists every PersistentVolumeClaim cluster-wide and flattens
// each to a Record, applying annotation overrides on top of the
// configured defaults. Matches spec.md §4.D.
func (c *Client) ListAll(ctx context.Context) (map[string]*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var list corev1.PersistentVolumeClaimList
	if err := c.client.List(ctx, &list); err != nil {
		return nil, fmt.Errorf("inventory: listing PVCs: %w", err)
	}

	records := make(map[string]*Record, len(list.Items))
	for i := range list.Items {
		rec := c.flatten(&list.Items[i])
		records[rec.Key()] = rec
	}
	return records, nil
}

func (c *Client) flatten(pvc *corev1.PersistentVolumeClaim) *Record {
	rec := &Record{
		Namespace:       pvc.Namespace,
		Name:            pvc.Name,
		ResourceVersion: pvc.ResourceVersion,
		UID:             pvc.UID,
		StorageClass:    ptr.Deref(pvc.Spec.StorageClassName, ""),
		Policy: Policy{
			ScaleAbovePercent:   c.defaults.ScaleAbovePercent,
			ScaleAfterIntervals: c.defaults.ScaleAfterIntervals,
			ScaleUpPercent:      c.defaults.ScaleUpPercent,
			ScaleUpMinIncrement: c.defaults.ScaleUpMinIncrement,
			ScaleUpMaxIncrement: c.defaults.ScaleUpMaxIncrement,
			ScaleUpMaxSize:      c.defaults.ScaleUpMaxSize,
			ScaleCooldownTime:   c.defaults.ScaleCooldownTime,
		},
		DiskUsedPercent:  -1,
		InodeUsedPercent: -1,
	}

	if q, ok := pvc.Spec.Resources.Requests[corev1.ResourceStorage]; ok {
		rec.DeclaredBytes = c.parseQuantity(rec, q)
	}
	if q, ok := pvc.Status.Capacity[corev1.ResourceStorage]; ok {
		rec.ObservedBytes = c.parseQuantity(rec, q)
	}

	c.applyAnnotationOverrides(rec, pvc.Annotations)
	return rec
}

// parseQuantity converts a resource.Quantity to a byte count via
// quantity.Parse (component A), reusing the same BinarySI/decimalSI
// suffix handling the reconciler's Render side exercises, per spec.md
// §2's data flow (A feeds both B/D). Falls back to q.Value() if the
// quantity's canonical string form is somehow unparseable, which
// apimachinery's own Quantity construction should never produce.
func (c *Client) parseQuantity(rec *Record, q resource.Quantity) int64 {
	n, err := quantity.Parse(q.String())
	if err != nil {
		c.log.Info("falling back to apimachinery's own quantity value", "pvc", rec.Key(), "quantity", q.String(), "error", err.Error())
		return q.Value()
	}
	return n
}

// applyAnnotationOverrides parses each recognized annotation on top of
// the policy defaults. Per spec.md §9, a parse failure keeps the
// default and logs a warning; it is never fatal. Grounded on
// convert_pvc_to_simpler_dict in helpers.py, which wraps each field's
// parse in its own try/except.
func (c *Client) applyAnnotationOverrides(rec *Record, annotations map[string]string) {
	key := rec.Key()

	parseInt := func(name string, dst *int) {
		v, ok := annotations[name]
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			c.log.Info("ignoring unparseable annotation", "pvc", key, "annotation", name, "value", v)
			return
		}
		*dst = n
	}

	parseInt64 := func(name string, dst *int64) {
		v, ok := annotations[name]
		if !ok {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.log.Info("ignoring unparseable annotation", "pvc", key, "annotation", name, "value", v)
			return
		}
		*dst = n
	}

	parseInt(annotation.ScaleAbovePercent, &rec.Policy.ScaleAbovePercent)
	parseInt(annotation.ScaleAfterIntervals, &rec.Policy.ScaleAfterIntervals)
	parseInt(annotation.ScaleUpPercent, &rec.Policy.ScaleUpPercent)
	parseInt64(annotation.ScaleUpMinIncrement, &rec.Policy.ScaleUpMinIncrement)
	parseInt64(annotation.ScaleUpMaxIncrement, &rec.Policy.ScaleUpMaxIncrement)
	parseInt64(annotation.ScaleUpMaxSize, &rec.Policy.ScaleUpMaxSize)

	if v, ok := annotations[annotation.LastResizedAt]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			rec.Policy.LastResizedAt = n
		} else {
			c.log.Info("ignoring unparseable annotation", "pvc", key, "annotation", annotation.LastResizedAt, "value", v)
		}
	}

	if v, ok := annotations[annotation.ScaleCooldownTime]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			rec.Policy.ScaleCooldownTime = time.Duration(n) * time.Second
		} else {
			c.log.Info("ignoring unparseable annotation", "pvc", key, "annotation", annotation.ScaleCooldownTime, "value", v)
		}
	}

	if v, ok := annotations[annotation.Ignore]; ok {
		rec.Policy.Ignore = strings.EqualFold(v, "true")
	}
}

// PatchSize patches spec.resources.requests.storage to newBytes and
// stamps the last-resized-at annotation with the current time, then
// verifies the echoed size is within 10% of what was requested
// (spec.md §4.D). Matches scale_up_pvc in the Python original.
func (c *Client) PatchSize(ctx context.Context, namespace, name string, newBytes int64) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var pvc corev1.PersistentVolumeClaim
	if err := c.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, &pvc); err != nil {
		return nil, fmt.Errorf("inventory: fetching %s/%s before patch: %w", namespace, name, err)
	}

	patch := client.MergeFrom(pvc.DeepCopy())
	if pvc.Spec.Resources.Requests == nil {
		pvc.Spec.Resources.Requests = corev1.ResourceList{}
	}
	pvc.Spec.Resources.Requests[corev1.ResourceStorage] = *resource.NewQuantity(newBytes, resource.BinarySI)
	if pvc.Annotations == nil {
		pvc.Annotations = map[string]string{}
	}
	pvc.Annotations[annotation.LastResizedAt] = strconv.FormatInt(time.Now().Unix(), 10)

	if err := c.client.Patch(ctx, &pvc, patch); err != nil {
		return nil, fmt.Errorf("inventory: patching %s/%s: %w", namespace, name, err)
	}

	requested := pvc.Spec.Resources.Requests[corev1.ResourceStorage]
	actual := requested.Value()
	if diff := math.Abs(float64(actual - newBytes)); diff >= 0.1*float64(newBytes) {
		return nil, fmt.Errorf("inventory: patched size %d for %s/%s diverges from requested %d by more than 10%%",
			actual, namespace, name, newBytes)
	}

	return c.flatten(&pvc), nil
}

// EmitEvent creates a Kubernetes Event whose involved object is the PVC
// described by rec, with source component common.ControllerName and a
// metadata name built from the claim name plus a random 16-character hex
// suffix. Failures are logged and swallowed: event emission is never
// fatal to the reconciler (spec.md §4.D/§7). Grounded on
// send_kubernetes_event in helpers.py, translated to the typed
// client-go Event API.
func (c *Client) EmitEvent(ctx context.Context, rec *Record, reason, message, eventType string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	now := metav1.Now()
	ev := &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{
			Name:      rec.Name + "-" + randomHexSuffix(),
			Namespace: rec.Namespace,
		},
		InvolvedObject: corev1.ObjectReference{
			Kind:            "PersistentVolumeClaim",
			APIVersion:      "v1",
			Namespace:       rec.Namespace,
			Name:            rec.Name,
			UID:             rec.UID,
			ResourceVersion: rec.ResourceVersion,
		},
		Reason:         reason,
		Message:        message,
		Type:           eventType,
		FirstTimestamp: now,
		LastTimestamp:  now,
		Source: corev1.EventSource{
			Component: common.ControllerName,
		},
	}

	if _, err := c.clientset.CoreV1().Events(rec.Namespace).Create(ctx, ev, metav1.CreateOptions{}); err != nil {
		c.log.Info("failed to emit event", "pvc", rec.Key(), "reason", reason, "error", err.Error())
	}
}

// randomHexSuffix returns a 16-character hex string for use as an Event
// name suffix, uniquely identifying events for the same involved object.
func randomHexSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
