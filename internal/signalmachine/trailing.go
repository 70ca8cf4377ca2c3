package signalmachine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/solstice-quant/signalengine/internal/domain"
)

// newDistance computes the candidate entry-to-level distance for a trailing
// call: the original distance is first expressed as a percent of entry
// price, percentShift is added directly (negative shifts tighten, positive
// shifts loosen), and the result is converted back to an absolute distance.
// Always derived from the *original* SL/TP distance rather than the current
// trailing value, so repeated small shifts can't compound drift.
func newDistance(entry, original decimal.Decimal, percentShift decimal.Decimal) decimal.Decimal {
	originalDistance := original.Sub(entry).Abs()
	originalPercent := originalDistance.Div(entry).Mul(decimal.NewFromInt(100))
	newPercent := originalPercent.Add(percentShift)
	return newPercent.Div(decimal.NewFromInt(100)).Mul(entry)
}

func validateShift(percentShift decimal.Decimal) error {
	if percentShift.IsZero() || percentShift.LessThan(decimal.NewFromInt(-100)) || percentShift.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("signalmachine: percentShift must be in [-100, 100] and non-zero, got %s", percentShift)
	}
	return nil
}

// TrailStopLoss attempts to tighten the signal's effective stop loss by
// percentShift, a signed percent-of-entry-price delta applied to the
// original entry-to-SL distance. Only a candidate that protects strictly
// more profit than the current effective SL is accepted.
func TrailStopLoss(signal *domain.Signal, percentShift decimal.Decimal, currentPrice decimal.Decimal) (bool, error) {
	if err := validateShift(percentShift); err != nil {
		return false, err
	}

	dist := newDistance(signal.PriceOpen, signal.OriginalStopLoss, percentShift)

	var candidate decimal.Decimal
	if signal.Direction == domain.Long {
		candidate = signal.PriceOpen.Sub(dist)
	} else {
		candidate = signal.PriceOpen.Add(dist)
	}

	if signal.TrailingStopLoss != nil {
		current := signal.EffectiveStopLoss()
		improves := false
		if signal.Direction == domain.Long {
			improves = candidate.GreaterThan(current)
		} else {
			improves = candidate.LessThan(current)
		}
		if !improves {
			return false, nil
		}
	}

	// Intrusion check: candidate must not cross currentPrice in the adverse
	// direction, and must not cross entry (breakeven has its own API).
	if signal.Direction == domain.Long {
		if candidate.GreaterThanOrEqual(currentPrice) || candidate.GreaterThanOrEqual(signal.PriceOpen) {
			return false, nil
		}
	} else {
		if candidate.LessThanOrEqual(currentPrice) || candidate.LessThanOrEqual(signal.PriceOpen) {
			return false, nil
		}
	}

	signal.TrailingStopLoss = &candidate
	return true, nil
}

// TrailTakeProfit is TrailStopLoss's mirror for the take-profit side: a
// candidate is accepted only if it is strictly more conservative (closer to
// entry) than the current effective TP.
func TrailTakeProfit(signal *domain.Signal, percentShift decimal.Decimal, currentPrice decimal.Decimal) (bool, error) {
	if err := validateShift(percentShift); err != nil {
		return false, err
	}

	dist := newDistance(signal.PriceOpen, signal.OriginalTakeProfit, percentShift)

	var candidate decimal.Decimal
	if signal.Direction == domain.Long {
		candidate = signal.PriceOpen.Add(dist)
	} else {
		candidate = signal.PriceOpen.Sub(dist)
	}

	if signal.TrailingTakeProfit != nil {
		current := signal.EffectiveTakeProfit()
		improves := false
		if signal.Direction == domain.Long {
			improves = candidate.LessThan(current)
		} else {
			improves = candidate.GreaterThan(current)
		}
		if !improves {
			return false, nil
		}
	}

	if signal.Direction == domain.Long {
		if candidate.LessThanOrEqual(currentPrice) {
			return false, nil
		}
	} else {
		if candidate.GreaterThanOrEqual(currentPrice) {
			return false, nil
		}
	}

	signal.TrailingTakeProfit = &candidate
	return true, nil
}
