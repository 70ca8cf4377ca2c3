package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/solstice-quant/signalengine/internal/signalmachine"
	"github.com/solstice-quant/signalengine/pkg/utils"
)

// PerformanceSummary aggregates the closed-signal PnL series from one Run
// into the headline backtest statistics.
type PerformanceSummary struct {
	Trades       int
	WinRate      decimal.Decimal
	ProfitFactor decimal.Decimal
	SharpeRatio  decimal.Decimal
	MaxDrawdown  decimal.Decimal
	TotalPnLPct  decimal.Decimal
}

// Summarize drains a slice of already-collected Results (a caller typically
// builds this by ranging over Run's channel and appending Closed outcomes)
// into a PerformanceSummary. periodsPerYear annualizes the Sharpe ratio;
// pass the number of signals a full year of this frame's interval would
// produce.
func Summarize(results []Result, periodsPerYear int) PerformanceSummary {
	var pnls []decimal.Decimal
	equity := []decimal.Decimal{decimal.Zero}
	running := decimal.Zero

	for _, r := range results {
		if r.Tick == nil || r.Tick.Action != signalmachine.ActionClosed {
			continue
		}
		pnls = append(pnls, r.Tick.PnLPct)
		running = running.Add(r.Tick.PnLPct)
		equity = append(equity, running)
	}

	returns := utils.CalculateReturns(equity)
	return PerformanceSummary{
		Trades:       len(pnls),
		WinRate:      utils.CalculateWinRate(pnls),
		ProfitFactor: utils.CalculateProfitFactor(pnls),
		SharpeRatio:  utils.CalculateSharpeRatio(returns, decimal.Zero, periodsPerYear),
		MaxDrawdown:  utils.CalculateMaxDrawdown(equity),
		TotalPnLPct:  running,
	}
}
