// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package common holds sentinel errors and constants shared across the
// volume autoscaler's packages.
package common

import "errors"

// ErrNoClient is returned when a component is constructed without a
// Kubernetes client that it requires.
var ErrNoClient = errors.New("no client provided")

// ControllerName is the name used as the source component on emitted
// Kubernetes Events and as the reconciler's logger name.
const ControllerName = "volume-autoscaler"
