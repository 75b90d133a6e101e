// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package scale_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Executioner1939/gke-volume-autoscaler/internal/scale"
)

var _ = Describe("Scale", func() {
	Context("# Calculate", func() {
		It("should grow by the percentage when above min increment", func() {
			target, ok := scale.Calculate(10_000_000_000, 20, 1_000_000_000, 16_000_000_000_000, 16_000_000_000_000)
			Expect(ok).To(BeTrue())
			Expect(target).To(Equal(int64(12_000_000_000)))
		})

		It("should clamp to the minimum increment", func() {
			target, ok := scale.Calculate(1_000_000_000, 1, 1_000_000_000, 16_000_000_000_000, 16_000_000_000_000)
			Expect(ok).To(BeTrue())
			Expect(target).To(Equal(int64(2_000_000_000)))
		})

		It("should clamp to the maximum increment", func() {
			target, ok := scale.Calculate(1_000_000_000, 10_000, 1_000_000_000, 5_000_000_000, 1_000_000_000_000)
			Expect(ok).To(BeTrue())
			Expect(target).To(Equal(int64(6_000_000_000)))
		})

		It("should clamp to the maximum size", func() {
			target, ok := scale.Calculate(15_900_000_000_000, 50, 1_000_000_000, 16_000_000_000_000, 16_000_000_000_000)
			Expect(ok).To(BeTrue())
			Expect(target).To(Equal(int64(16_000_000_000_000)))
		})

		It("should report no scale when already at the clamped maximum", func() {
			_, ok := scale.Calculate(16_000_000_000_000, 50, 1_000_000_000, 16_000_000_000_000, 16_000_000_000_000)
			Expect(ok).To(BeFalse())
		})

		It("should report no scale for negative inputs", func() {
			_, ok := scale.Calculate(-1, 20, 0, 0, 0)
			Expect(ok).To(BeFalse())
		})

		It("should never decrease the target when original increases, other inputs held constant", func() {
			prevTarget := int64(0)
			for _, original := range []int64{1_000_000_000, 2_000_000_000, 5_000_000_000, 9_000_000_000} {
				target, ok := scale.Calculate(original, 20, 1_000_000_000, 16_000_000_000_000, 16_000_000_000_000)
				Expect(ok).To(BeTrue())
				Expect(target).To(BeNumerically(">=", prevTarget))
				prevTarget = target
			}
		})
	})
})
