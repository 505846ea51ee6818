package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ScanOutcomes counts scan attempts by outcome.
var ScanOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "qrattend",
	Name:      "scan_attempts_total",
	Help:      "Scan attempts by outcome.",
}, []string{"outcome"})

// QRRefreshBatches counts bulk QR refresh batches by result.
var QRRefreshBatches = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "qrattend",
	Name:      "qr_refresh_batches_total",
	Help:      "Bulk QR refresh batches by result.",
}, []string{"result"})
