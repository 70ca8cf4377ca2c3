package signalmachine

import (
	"github.com/shopspring/decimal"

	"github.com/solstice-quant/signalengine/internal/config"
	"github.com/solstice-quant/signalengine/internal/domain"
)

// legPnL computes one entry/exit leg's percent PnL, adjusted for slippage
// and fee on both sides.
func legPnL(dir domain.Direction, openPrice, closePrice decimal.Decimal, cfg *config.Config) decimal.Decimal {
	sign := dir.Sign()
	cost := cfg.PercentSlippage.Add(cfg.PercentFee).Div(decimal.NewFromInt(100))

	openAdj := openPrice.Mul(decimal.NewFromInt(1).Add(sign.Mul(cost)))
	closeAdj := closePrice.Mul(decimal.NewFromInt(1).Sub(sign.Mul(cost)))

	if openAdj.IsZero() {
		return decimal.Zero
	}
	return closeAdj.Sub(openAdj).Div(openAdj).Mul(decimal.NewFromInt(100)).Mul(sign)
}

// RealizedPnL computes the weighted realized PnL% for a signal closing at
// finalPrice: every partial-close slice contributes its own leg PnL at its
// own price, weighted by its percent; the remainder of the position
// (100 - totalClosed) is weighted at finalPrice.
func RealizedPnL(signal *domain.Signal, finalPrice decimal.Decimal, cfg *config.Config) decimal.Decimal {
	total := decimal.Zero
	for _, p := range signal.Partial {
		leg := legPnL(signal.Direction, signal.PriceOpen, p.Price, cfg)
		total = total.Add(leg.Mul(p.Percent))
	}
	remaining := signal.RemainingPercent()
	if remaining.IsPositive() {
		leg := legPnL(signal.Direction, signal.PriceOpen, finalPrice, cfg)
		total = total.Add(leg.Mul(remaining))
	}
	return total.Div(decimal.NewFromInt(100))
}

// UnrealizedPnL is RealizedPnL's counterpart for an Active tick: it treats
// currentPrice as a hypothetical close without mutating the signal.
func UnrealizedPnL(signal *domain.Signal, currentPrice decimal.Decimal, cfg *config.Config) decimal.Decimal {
	return RealizedPnL(signal, currentPrice, cfg)
}

// rawMovePercent is the unadjusted percent move from entry to price, signed
// by direction. PartialTracker's milestone buckets classify on this raw
// move rather than on the slippage/fee-adjusted PnL that
// RealizedPnL/UnrealizedPnL report.
func rawMovePercent(signal *domain.Signal, price decimal.Decimal) decimal.Decimal {
	if signal.PriceOpen.IsZero() {
		return decimal.Zero
	}
	return price.Sub(signal.PriceOpen).Div(signal.PriceOpen).Mul(decimal.NewFromInt(100)).Mul(signal.Direction.Sign())
}
