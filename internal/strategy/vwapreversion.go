// Package strategy holds example strategycontract.Adapter implementations a
// deployment can register under internal/registry. VWAPReversion signals a
// reversion trade when price deviates from a mean ± stdDevMult standard
// deviations of typical price, both referenced to a running VWAP, and
// reports the candidate through SignalDTO/Validate.
package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/solstice-quant/signalengine/internal/domain"
	"github.com/solstice-quant/signalengine/internal/exchange"
	"github.com/solstice-quant/signalengine/internal/sizing"
	"github.com/solstice-quant/signalengine/internal/strategycontract"
)

// VWAPReversion fires a scheduled entry back toward VWAP whenever price
// strays stdDevMult standard deviations from it.
type VWAPReversion struct {
	exch           exchange.Adapter
	logger         *zap.Logger
	lookback       int
	stdDevMult     decimal.Decimal
	stopPct        decimal.Decimal
	minutes        int
	sizer          *sizing.Sizer
	portfolioValue decimal.Decimal
}

// NewVWAPReversion builds a VWAPReversion strategy reading candles from exch.
// portfolioValue and riskPerTradePct feed the fixed-fractional sizer used to
// annotate each candidate signal with a recommended unit size; this engine
// never enforces that size, it's advisory for whatever places the order.
func NewVWAPReversion(exch exchange.Adapter, logger *zap.Logger, portfolioValue, riskPerTradePct decimal.Decimal) *VWAPReversion {
	return &VWAPReversion{
		exch:           exch,
		logger:         logger.Named("strategy.vwap_reversion"),
		lookback:       30,
		stdDevMult:     decimal.NewFromFloat(2.0),
		stopPct:        decimal.NewFromFloat(0.03),
		minutes:        60,
		sizer:          sizing.New(riskPerTradePct),
		portfolioValue: portfolioValue,
	}
}

var _ strategycontract.Adapter = (*VWAPReversion)(nil)

// GetSignal implements strategycontract.Adapter.
func (s *VWAPReversion) GetSignal(ctx context.Context, symbol string, when time.Time) (*strategycontract.SignalDTO, error) {
	candles, err := s.exch.GetCandles(ctx, symbol, "1m", when, s.lookback, false)
	if err != nil {
		return nil, err
	}
	if len(candles) < 10 {
		return nil, nil
	}

	cumVolPrice, cumVolume := decimal.Zero, decimal.Zero
	for _, c := range candles {
		cumVolPrice = cumVolPrice.Add(c.TypicalPrice().Mul(c.Volume))
		cumVolume = cumVolume.Add(c.Volume)
	}
	if cumVolume.IsZero() {
		return nil, nil
	}
	vwap := cumVolPrice.Div(cumVolume)

	variance := decimal.Zero
	for _, c := range candles {
		diff := c.TypicalPrice().Sub(vwap)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(decimal.NewFromInt(int64(len(candles))))
	stdDev := decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))

	current := candles[len(candles)-1].Close
	upperBand := vwap.Add(stdDev.Mul(s.stdDevMult))
	lowerBand := vwap.Sub(stdDev.Mul(s.stdDevMult))

	switch {
	case current.LessThan(lowerBand):
		open := current
		stopLoss := current.Mul(decimal.NewFromInt(1).Sub(s.stopPct))
		return &strategycontract.SignalDTO{
			Direction:           domain.Long,
			PriceOpen:           &open,
			PriceTakeProfit:     vwap,
			PriceStopLoss:       stopLoss,
			MinuteEstimatedTime: s.minutes,
			Note:                s.annotatedNote("price below VWAP lower band", open, stopLoss),
		}, nil
	case current.GreaterThan(upperBand):
		open := current
		stopLoss := current.Mul(decimal.NewFromInt(1).Add(s.stopPct))
		return &strategycontract.SignalDTO{
			Direction:           domain.Short,
			PriceOpen:           &open,
			PriceTakeProfit:     vwap,
			PriceStopLoss:       stopLoss,
			MinuteEstimatedTime: s.minutes,
			Note:                s.annotatedNote("price above VWAP upper band", open, stopLoss),
		}, nil
	default:
		return nil, nil
	}
}

// annotatedNote appends the sizer's recommended unit size for this
// candidate's entry/stop distance to a human-readable reason string.
func (s *VWAPReversion) annotatedNote(reason string, entry, stopLoss decimal.Decimal) string {
	sized := s.sizer.Size(s.portfolioValue, entry, stopLoss)
	return fmt.Sprintf("%s; recommended size %s units (risking %s)", reason, sized.Units.StringFixed(8), sized.RiskAmount.StringFixed(2))
}
