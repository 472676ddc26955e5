package service

import (
	"context"

	"FuseGate/internal/domain/models"
)

// SignalAdvisor turns a fused snapshot plus indicator state into a trade
// signal candidate. Implementations perform no side effects beyond the
// outbound call.
type SignalAdvisor interface {
	Advise(ctx context.Context, snapshot models.MarketSnapshot, indicators models.IndicatorSet, trend models.MacroTrend) (*models.Signal, error)
}
