// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package metricsource_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Executioner1939/gke-volume-autoscaler/internal/metricsource"
)

var _ = Describe("Observation", func() {
	Context("# Key", func() {
		It("should join namespace and claim with a dot", func() {
			o := metricsource.Observation{Namespace: "app", Claim: "data"}
			Expect(o.Key()).To(Equal("app.data"))
		})
	})
})
