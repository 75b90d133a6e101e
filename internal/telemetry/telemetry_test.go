// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package telemetry_test

import (
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Executioner1939/gke-volume-autoscaler/internal/telemetry"
)

var _ = Describe("Metrics", func() {
	var m *telemetry.Metrics

	BeforeEach(func() {
		m = telemetry.New()
	})

	scrape := func() string {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		m.Handler().ServeHTTP(rec, req)
		return rec.Body.String()
	}

	It("should expose the resize counters with their exact names", func() {
		m.ResizeEvaluated.Inc()
		m.ResizeAttempted.Inc()
		m.ResizeSuccessful.Inc()

		body := scrape()
		Expect(body).To(ContainSubstring("volume_autoscaler_resize_evaluated 1"))
		Expect(body).To(ContainSubstring("volume_autoscaler_resize_attempted 1"))
		Expect(body).To(ContainSubstring("volume_autoscaler_resize_successful 1"))
		Expect(body).To(ContainSubstring("volume_autoscaler_resize_failure 0"))
	})

	It("should expose the per-tick gauges", func() {
		m.NumValidPVCs.Set(3)
		m.NumPVCsAboveThreshold.Set(1)
		m.NumPVCsBelowThreshold.Set(2)

		body := scrape()
		Expect(body).To(ContainSubstring("volume_autoscaler_num_valid_pvcs 3"))
		Expect(body).To(ContainSubstring("volume_autoscaler_num_pvcs_above_threshold 1"))
		Expect(body).To(ContainSubstring("volume_autoscaler_num_pvcs_below_threshold 2"))
	})

	It("should publish the release info block", func() {
		m.SetRelease("v1.2.3")

		body := scrape()
		Expect(body).To(ContainSubstring(`volume_autoscaler_release{version="v1.2.3"} 1`))
	})

	It("should publish the settings info block as a single series", func() {
		m.SetSettings(map[string]string{
			"scale_above_percent": "80",
			"dry_run":             "false",
		})

		body := scrape()
		Expect(body).To(ContainSubstring(`scale_above_percent="80"`))
		Expect(body).To(ContainSubstring(`dry_run="false"`))
	})

	It("should reset settings on each call rather than accumulate", func() {
		m.SetSettings(map[string]string{"scale_above_percent": "70"})
		m.SetSettings(map[string]string{"scale_above_percent": "90"})

		body := scrape()
		Expect(body).To(ContainSubstring(`scale_above_percent="90"`))
		Expect(body).NotTo(ContainSubstring(`scale_above_percent="70"`))
	})
})
