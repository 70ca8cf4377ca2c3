// Package strategycontract defines the user strategy adapter boundary:
// the SignalDTO a strategy returns from getSignal, and the validator
// SignalMachine runs before ever touching RiskGate. Validate applies the
// field, price-ordering, distance and lifetime checks listed on it; no
// other rules are enforced.
package strategycontract

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solstice-quant/signalengine/internal/domain"
)

// Adapter is user strategy code. GetSignal may return (nil, nil) to mean
// "no signal this tick".
type Adapter interface {
	GetSignal(ctx context.Context, symbol string, when time.Time) (*SignalDTO, error)
}

// SignalDTO is what a strategy hands back: either an immediate-entry signal
// (PriceOpen nil) or a scheduled one waiting for the market to reach
// PriceOpen.
type SignalDTO struct {
	Direction           domain.Direction
	PriceOpen           *decimal.Decimal
	PriceTakeProfit     decimal.Decimal
	PriceStopLoss       decimal.Decimal
	MinuteEstimatedTime int
	Note                string
	ID                  string
}

// AdapterFunc adapts a plain function to Adapter.
type AdapterFunc func(ctx context.Context, symbol string, when time.Time) (*SignalDTO, error)

// GetSignal implements Adapter.
func (f AdapterFunc) GetSignal(ctx context.Context, symbol string, when time.Time) (*SignalDTO, error) {
	return f(ctx, symbol, when)
}
