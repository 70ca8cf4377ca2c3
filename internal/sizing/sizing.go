// Package sizing provides a fixed-fractional position sizer a strategy
// adapter can consult when building a candidate signal. It is never called
// from internal/signalmachine: position sizing is entirely a strategy-side
// concern, the core only ever sees entry/SL/TP prices.
package sizing

import "github.com/shopspring/decimal"

// Sizer computes a position size that risks a fixed fraction of portfolio
// value on the distance between entry and stop loss.
type Sizer struct {
	riskPerTradePct decimal.Decimal
}

// New builds a Sizer that risks riskPerTradePct of portfolio value per
// trade (e.g. 0.01 for 1%).
func New(riskPerTradePct decimal.Decimal) *Sizer {
	return &Sizer{riskPerTradePct: riskPerTradePct}
}

// Result is the sized position plus the dollar risk it represents.
type Result struct {
	Units      decimal.Decimal
	RiskAmount decimal.Decimal
}

// Size returns the unit quantity whose loss at stopLoss equals the sizer's
// risk fraction of portfolioValue. A zero or negative entry/stop distance
// sizes to zero rather than dividing by zero.
func (s *Sizer) Size(portfolioValue, entry, stopLoss decimal.Decimal) Result {
	distance := entry.Sub(stopLoss).Abs()
	if distance.IsZero() || portfolioValue.IsZero() {
		return Result{}
	}

	riskAmount := portfolioValue.Mul(s.riskPerTradePct)
	return Result{
		Units:      riskAmount.Div(distance),
		RiskAmount: riskAmount,
	}
}
