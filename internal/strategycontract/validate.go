package strategycontract

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/solstice-quant/signalengine/internal/config"
	"github.com/solstice-quant/signalengine/internal/domain"
)

// Validate checks a SignalDTO against the full field and bounds rule set
// before a candidate signal ever reaches RiskGate. seenIDs is the machine's
// recent-id history window, used for the uniqueness rule. Rules run
// sequentially and return on the first failure, so the caller always gets a
// single, specific rejection reason.
func Validate(dto *SignalDTO, cfg *config.Config, seenIDs map[string]struct{}) error {
	if dto == nil {
		return fmt.Errorf("strategycontract: nil signal")
	}

	if dto.Direction != domain.Long && dto.Direction != domain.Short {
		return fmt.Errorf("strategycontract: direction must be long or short, got %q", dto.Direction)
	}

	if !isFinitePositive(dto.PriceTakeProfit) {
		return fmt.Errorf("strategycontract: priceTakeProfit must be a positive finite number")
	}
	if !isFinitePositive(dto.PriceStopLoss) {
		return fmt.Errorf("strategycontract: priceStopLoss must be a positive finite number")
	}
	if dto.PriceOpen != nil && !isFinitePositive(*dto.PriceOpen) {
		return fmt.Errorf("strategycontract: priceOpen must be a positive finite number when present")
	}

	if dto.MinuteEstimatedTime <= 0 {
		return fmt.Errorf("strategycontract: minuteEstimatedTime must be > 0, got %d", dto.MinuteEstimatedTime)
	}
	if dto.MinuteEstimatedTime > cfg.MaxSignalLifetimeMin {
		return fmt.Errorf("strategycontract: minuteEstimatedTime %d exceeds CC_MAX_SIGNAL_LIFETIME_MINUTES %d",
			dto.MinuteEstimatedTime, cfg.MaxSignalLifetimeMin)
	}

	// Reference price: the entry hint if scheduled. An immediate entry has
	// no fill price yet (the machine derives it from live VWAP), so the
	// midpoint of TP and SL stands in for it, which is enough to check that
	// TP and SL straddle the eventual fill on the correct sides and clear
	// their minimum distances without knowing that fill price in advance.
	reference := dto.PriceTakeProfit.Add(dto.PriceStopLoss).Div(decimal.NewFromInt(2))
	if dto.PriceOpen != nil {
		reference = *dto.PriceOpen
	}

	if err := validateSide(dto.Direction, reference, dto.PriceOpen, dto.PriceTakeProfit, dto.PriceStopLoss); err != nil {
		return err
	}

	tpDistance := percentDistance(reference, dto.PriceTakeProfit)
	if tpDistance.LessThanOrEqual(cfg.MinTakeProfitDistPct) {
		return fmt.Errorf("strategycontract: take-profit distance %s%% does not exceed CC_MIN_TAKEPROFIT_DISTANCE_PERCENT %s%%",
			tpDistance, cfg.MinTakeProfitDistPct)
	}

	minViable := cfg.PercentSlippage.Add(cfg.PercentFee).Mul(decimal.NewFromInt(2))
	if tpDistance.LessThanOrEqual(minViable) {
		return fmt.Errorf("strategycontract: take-profit distance %s%% does not clear round-trip slippage+fee cost %s%%",
			tpDistance, minViable)
	}

	slDistance := percentDistance(reference, dto.PriceStopLoss)
	if slDistance.LessThan(cfg.MinStopLossDistPct) {
		return fmt.Errorf("strategycontract: stop-loss distance %s%% is below CC_MIN_STOPLOSS_DISTANCE_PERCENT %s%%",
			slDistance, cfg.MinStopLossDistPct)
	}
	if slDistance.GreaterThan(cfg.MaxStopLossDistPct) {
		return fmt.Errorf("strategycontract: stop-loss distance %s%% exceeds CC_MAX_STOPLOSS_DISTANCE_PERCENT %s%%",
			slDistance, cfg.MaxStopLossDistPct)
	}

	if dto.ID != "" {
		if _, seen := seenIDs[dto.ID]; seen {
			return fmt.Errorf("strategycontract: signal id %q was already used in this machine's history window", dto.ID)
		}
	}

	return nil
}

// validateSide enforces TP/SL fall on the correct side of entry for the
// signal's direction.
func validateSide(dir domain.Direction, entry decimal.Decimal, open *decimal.Decimal, tp, sl decimal.Decimal) error {
	switch dir {
	case domain.Long:
		if tp.LessThanOrEqual(entry) {
			return fmt.Errorf("strategycontract: take-profit must be above entry for a long signal")
		}
		if sl.GreaterThanOrEqual(entry) {
			return fmt.Errorf("strategycontract: stop-loss must be below entry for a long signal")
		}
	case domain.Short:
		if tp.GreaterThanOrEqual(entry) {
			return fmt.Errorf("strategycontract: take-profit must be below entry for a short signal")
		}
		if sl.LessThanOrEqual(entry) {
			return fmt.Errorf("strategycontract: stop-loss must be above entry for a short signal")
		}
	}
	if open != nil && open.IsZero() {
		return fmt.Errorf("strategycontract: priceOpen must not be zero when present")
	}
	return nil
}

func percentDistance(from, to decimal.Decimal) decimal.Decimal {
	if from.IsZero() {
		return decimal.Zero
	}
	return to.Sub(from).Abs().Div(from).Mul(decimal.NewFromInt(100))
}

func isFinitePositive(d decimal.Decimal) bool {
	return d.IsPositive()
}
