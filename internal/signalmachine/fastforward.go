package signalmachine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solstice-quant/signalengine/internal/domain"
)

// FastForward replays candles through the state machine without re-entering
// the orchestrator's outer tick loop. It must be called
// immediately after a Tick that returned Opened or Scheduled, and it never
// yields Active: it returns the first Closed or Cancelled result, or — if
// the candle array exhausts first — a synthetic terminal result at the last
// candle's timestamp (Closed{time_expired} if a pending signal was being
// monitored, Cancelled{timeout} in the unexpected case a scheduled signal
// never resolved within the span the orchestrator fetched for it).
func (m *Machine) FastForward(candles []domain.Candle) (*TickResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil && m.scheduled == nil {
		return nil, fmt.Errorf("signalmachine: FastForward called with neither a pending nor scheduled signal")
	}

	buffer := m.cfg.AvgPriceCandlesCount - 1
	if buffer < 0 {
		buffer = 0
	}
	if len(candles) <= buffer {
		return nil, fmt.Errorf("signalmachine: FastForward needs more than %d candles, got %d", buffer, len(candles))
	}

	start := buffer
	if m.scheduled != nil {
		result, resolvedIdx, err := m.fastForwardScheduled(candles, buffer)
		if err != nil || result != nil {
			return result, err
		}
		start = resolvedIdx + 1
	}

	if m.pending == nil {
		// Scheduled exhausted the array without activating or cancelling;
		// treat as a timeout at the last candle, since that's the only
		// scheduled terminal state fast-forward can reach here.
		last := candles[len(candles)-1]
		return m.cancelSignal(m.scheduled, domain.CancelTimeout, last.Timestamp)
	}

	return m.fastForwardPending(candles, buffer, start)
}

// fastForwardScheduled monitors the scheduled signal from index buffer
// onward. It returns a non-nil result if a terminal cancellation occurred;
// otherwise it returns the index at which the signal activated (promoted to
// pending) so the caller can continue the pending-phase scan from the next
// candle, or -1 (with m.scheduled still set) if the whole window elapsed
// with no resolution.
func (m *Machine) fastForwardScheduled(candles []domain.Candle, buffer int) (*TickResult, int, error) {
	for i := buffer; i < len(candles); i++ {
		price := vwapOf(window(candles, i, buffer))
		when := candles[i].Timestamp
		signal := m.scheduled

		if crossesAdverseStopLoss(signal, price) {
			result, err := m.cancelSignal(signal, domain.CancelPriceReject, when)
			return result, i, err
		}
		if when.Sub(signal.ScheduledAt) >= time.Duration(m.cfg.ScheduleAwaitMinutes)*time.Minute {
			result, err := m.cancelSignal(signal, domain.CancelTimeout, when)
			return result, i, err
		}
		if reachedEntry(signal, price) {
			result, err := m.promote(signal, price, when)
			if err != nil {
				return result, i, err
			}
			if result.Action == ActionOpened {
				return nil, i, nil
			}
			// Risk-rejected at promotion: stays scheduled, keep scanning.
		}
	}
	return nil, -1, nil
}

func (m *Machine) fastForwardPending(candles []domain.Candle, buffer, start int) (*TickResult, error) {
	var lastPrice decimal.Decimal
	var lastWhen time.Time

	for i := start; i < len(candles); i++ {
		price := vwapOf(window(candles, i, buffer))
		when := candles[i].Timestamp
		lastPrice, lastWhen = price, when
		signal := m.pending

		switch {
		case signal.HasCrossedTakeProfit(price):
			return m.closeSignal(signal, domain.CloseTakeProfit, price, when)
		case signal.HasCrossedStopLoss(price):
			return m.closeSignal(signal, domain.CloseStopLoss, price, when)
		case when.Sub(signal.PendingAt) >= time.Duration(signal.MinuteEstimatedTime)*time.Minute:
			return m.closeSignal(signal, domain.CloseTimeExpired, price, when)
		default:
			rawPct := rawMovePercent(signal, price)
			switch {
			case rawPct.IsPositive():
				m.partialTracker.Profit(price, rawPct, when)
			case rawPct.IsNegative():
				m.partialTracker.Loss(price, rawPct.Abs(), when)
			}
			m.breakevenTracker.Check(signal, price, when)
		}
	}

	return m.closeSignal(m.pending, domain.CloseTimeExpired, lastPrice, lastWhen)
}

// window returns candles[max(0,i-buffer) : i+1], the rolling VWAP window
// ending at index i.
func window(candles []domain.Candle, i, buffer int) []domain.Candle {
	lo := i - buffer
	if lo < 0 {
		lo = 0
	}
	return candles[lo : i+1]
}
