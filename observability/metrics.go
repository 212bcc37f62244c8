package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// FlashLoanMetrics aggregates the Prometheus collectors for the flash-loan
// protocol surface.
type FlashLoanMetrics struct {
	SessionsSettled *prometheus.CounterVec
	SessionsAborted *prometheus.CounterVec
	FeesAccrued     *prometheus.CounterVec
	BadgesMinted    prometheus.Counter
	RPCRequests     *prometheus.CounterVec
}

var (
	flashLoanOnce sync.Once
	flashLoanReg  *FlashLoanMetrics
)

// Metrics returns the lazily-initialised collector set registered against the
// default registry.
func Metrics() *FlashLoanMetrics {
	flashLoanOnce.Do(func() {
		flashLoanReg = &FlashLoanMetrics{
			SessionsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flashloan",
				Subsystem: "executor",
				Name:      "sessions_settled_total",
				Help:      "Total settled loan sessions segmented by asset.",
			}, []string{"asset"}),
			SessionsAborted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flashloan",
				Subsystem: "executor",
				Name:      "sessions_aborted_total",
				Help:      "Total aborted loan sessions segmented by asset and abort reason.",
			}, []string{"asset", "reason"}),
			FeesAccrued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flashloan",
				Subsystem: "pool",
				Name:      "fees_accrued_total",
				Help:      "Total fee units collected by the pool segmented by asset.",
			}, []string{"asset"}),
			BadgesMinted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "flashloan",
				Subsystem: "achievements",
				Name:      "badges_minted_total",
				Help:      "Total first-success badges issued.",
			}),
			RPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flashloan",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
		}
		prometheus.MustRegister(
			flashLoanReg.SessionsSettled,
			flashLoanReg.SessionsAborted,
			flashLoanReg.FeesAccrued,
			flashLoanReg.BadgesMinted,
			flashLoanReg.RPCRequests,
		)
	})
	return flashLoanReg
}
