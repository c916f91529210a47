package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScanValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devicetrust_scan_validations_total",
		Help: "Scan validation decisions by result and rejection reason.",
	}, []string{"result", "reason"})

	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devicetrust_registrations_total",
		Help: "Device registration outcomes.",
	}, []string{"outcome"})

	Revocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devicetrust_revocations_total",
		Help: "Administrative revocations and resets.",
	}, []string{"kind"})
)
