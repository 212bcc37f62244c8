package observability

import (
	"log/slog"
	"math/big"

	"github.com/agehcx/flashloan-playground/core/events"
	"github.com/agehcx/flashloan-playground/core/types"
)

// EventSink satisfies events.Emitter by logging every protocol event and
// feeding the relevant Prometheus collectors.
type EventSink struct {
	logger  *slog.Logger
	metrics *FlashLoanMetrics
}

// NewEventSink constructs a sink writing to the supplied logger.
func NewEventSink(logger *slog.Logger) *EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSink{logger: logger, metrics: Metrics()}
}

// Emit implements the events.Emitter interface.
func (s *EventSink) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	if payload, ok := evt.(interface{ Event() *types.Event }); ok {
		converted := payload.Event()
		s.logger.Info("protocol event",
			slog.String("type", converted.Type),
			slog.Any("attributes", converted.Attributes),
		)
	} else {
		s.logger.Info("protocol event", slog.String("type", evt.EventType()))
	}

	switch e := evt.(type) {
	case events.FlashLoanExecuted:
		s.metrics.SessionsSettled.WithLabelValues(e.Asset).Inc()
		s.metrics.FeesAccrued.WithLabelValues(e.Asset).Add(bigFloat(e.Fee))
	case events.BadgeMinted:
		s.metrics.BadgesMinted.Inc()
	}
}

func bigFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
