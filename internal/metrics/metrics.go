package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TouchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_touches_total",
			Help: "Dispatched touches by outcome and kind",
		},
		[]string{"outcome", "kind"}, // delivered|suppressed|invalid_recipient|rate_limited|transient , first|second
	)

	EnrollmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_enrollments_total",
			Help: "Processed pending enrollments by result",
		},
		[]string{"result"}, // scheduled|duplicate|failed
	)

	BanTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_ban_transitions_total",
			Help: "Provider ban state transitions",
		},
		[]string{"transition"}, // enter|extend|exit|expire
	)

	ProviderBanned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outreach_provider_banned",
			Help: "1 while the provider identity is banned",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		TouchesTotal,
		EnrollmentsTotal,
		BanTransitionsTotal,
		ProviderBanned,
	)
}

// SetBanned mirrors the provider state onto the gauge.
func SetBanned(banned bool) {
	if banned {
		ProviderBanned.Set(1)
		return
	}
	ProviderBanned.Set(0)
}
