package signalmachine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solstice-quant/signalengine/internal/domain"
	"github.com/solstice-quant/signalengine/internal/exchange"
)

// vwap computes the volume-weighted average typical price over the last N
// 1-minute candles strictly before or at when, N = CC_AVG_PRICE_CANDLES_COUNT.
func (m *Machine) vwap(ctx context.Context, exch exchange.Adapter, when time.Time) (decimal.Decimal, error) {
	n := m.cfg.AvgPriceCandlesCount
	candles, err := exch.GetCandles(ctx, m.ctx.Symbol, "1m", when, n, m.backtest)
	if err != nil {
		return decimal.Zero, fmt.Errorf("signalmachine: fetch VWAP candles: %w", err)
	}
	if len(candles) == 0 {
		return decimal.Zero, fmt.Errorf("signalmachine: no candles available for VWAP at %s", when)
	}
	return vwapOf(candles), nil
}

// vwapOf computes volume-weighted typical price over a candle slice. When
// every candle has zero volume (illiquid or synthetic data), it falls back
// to a simple average so a flat-volume backtest fixture doesn't divide by
// zero.
func vwapOf(candles []domain.Candle) decimal.Decimal {
	totalVolume := decimal.Zero
	weighted := decimal.Zero
	for _, c := range candles {
		weighted = weighted.Add(c.TypicalPrice().Mul(c.Volume))
		totalVolume = totalVolume.Add(c.Volume)
	}
	if totalVolume.IsZero() {
		sum := decimal.Zero
		for _, c := range candles {
			sum = sum.Add(c.TypicalPrice())
		}
		return sum.Div(decimal.NewFromInt(int64(len(candles))))
	}
	return weighted.Div(totalVolume)
}
