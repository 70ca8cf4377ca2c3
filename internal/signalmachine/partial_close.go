package signalmachine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/solstice-quant/signalengine/internal/domain"
)

// PartialProfit records an explicit, caller-initiated partial close taken
// at a profit. It rejects if there is no pending signal, if the signal is
// still scheduled, if percent is outside (0, 100], or if it would push
// total closed past 100; it also requires price to sit on the profitable
// side of entry. Returns (true, nil) on success.
func (m *Machine) PartialProfit(percent, price decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partialClose(domain.PartialProfit, percent, price)
}

// PartialLoss is PartialProfit's mirror for a loss-cutting partial close.
func (m *Machine) PartialLoss(percent, price decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partialClose(domain.PartialLoss, percent, price)
}

func (m *Machine) partialClose(kind domain.PartialType, percent, price decimal.Decimal) (bool, error) {
	if m.pending == nil {
		return false, fmt.Errorf("signalmachine: no pending signal to partially close")
	}

	signal := m.pending
	if percent.LessThanOrEqual(decimal.Zero) || percent.GreaterThan(decimal.NewFromInt(100)) {
		return false, fmt.Errorf("signalmachine: percent must be in (0, 100], got %s", percent)
	}
	if signal.TotalClosed().Add(percent).GreaterThan(decimal.NewFromInt(100)) {
		return false, fmt.Errorf("signalmachine: closing %s%% would push total closed past 100%%", percent)
	}

	favorable := price.Sub(signal.PriceOpen).Mul(signal.Direction.Sign())
	switch kind {
	case domain.PartialProfit:
		if !favorable.IsPositive() {
			return false, fmt.Errorf("signalmachine: partial-profit price %s is not beyond entry in the position's favor", price)
		}
	case domain.PartialLoss:
		if !favorable.IsNegative() {
			return false, fmt.Errorf("signalmachine: partial-loss price %s is not against the position", price)
		}
	}

	signal.AppendPartial(kind, percent, price)
	m.persistPending(signal)
	return true, nil
}

// TrailStopLoss and TrailTakeProfit expose the absorption-rule trailing
// operations from trailing.go as Machine methods so callers never mutate
// the pending signal directly.
func (m *Machine) TrailStopLoss(percentShift, currentPrice decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return false, fmt.Errorf("signalmachine: no pending signal to trail")
	}
	accepted, err := TrailStopLoss(m.pending, percentShift, currentPrice)
	if accepted {
		m.persistPending(m.pending)
	}
	return accepted, err
}

func (m *Machine) TrailTakeProfit(percentShift, currentPrice decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return false, fmt.Errorf("signalmachine: no pending signal to trail")
	}
	accepted, err := TrailTakeProfit(m.pending, percentShift, currentPrice)
	if accepted {
		m.persistPending(m.pending)
	}
	return accepted, err
}
