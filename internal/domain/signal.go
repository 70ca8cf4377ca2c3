package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Context identifies the (symbol, strategy, exchange, frame) a signal
// belongs to.
type Context struct {
	Symbol   string `json:"symbol"`
	Strategy string `json:"strategy"`
	Exchange string `json:"exchange"`
	Frame    string `json:"frame"`
}

// PartialEntry is one row of a signal's partial-close log.
type PartialEntry struct {
	Type    PartialType     `json:"type"`
	Percent decimal.Decimal `json:"percent"`
	Price   decimal.Decimal `json:"price"`
}

// Signal is the central entity: a proposed or active trade.
type Signal struct {
	ID        string    `json:"id"`
	Context   Context   `json:"context"`
	Direction Direction `json:"direction"`

	PriceOpen       decimal.Decimal `json:"priceOpen"`
	PriceTakeProfit decimal.Decimal `json:"priceTakeProfit"`
	PriceStopLoss   decimal.Decimal `json:"priceStopLoss"`

	// Original values, preserved for reporting after trailing mutates the
	// effective levels.
	OriginalTakeProfit decimal.Decimal `json:"originalTakeProfit"`
	OriginalStopLoss   decimal.Decimal `json:"originalStopLoss"`

	MinuteEstimatedTime int `json:"minuteEstimatedTime"`

	ScheduledAt time.Time `json:"scheduledAt"`
	PendingAt   time.Time `json:"pendingAt"`

	TrailingStopLoss   *decimal.Decimal `json:"trailingStopLoss,omitempty"`
	TrailingTakeProfit *decimal.Decimal `json:"trailingTakeProfit,omitempty"`

	Partial []PartialEntry `json:"partial"`

	Scheduled bool `json:"scheduled"`
}

// NewSignal builds a Signal with original TP/SL snapshotted from the
// requested levels.
func NewSignal(id string, ctx Context, dir Direction, open, tp, sl decimal.Decimal, minutes int, scheduled bool, when time.Time) *Signal {
	s := &Signal{
		ID:                  id,
		Context:             ctx,
		Direction:           dir,
		PriceOpen:           open,
		PriceTakeProfit:     tp,
		PriceStopLoss:       sl,
		OriginalTakeProfit:  tp,
		OriginalStopLoss:    sl,
		MinuteEstimatedTime: minutes,
		ScheduledAt:         when,
		Scheduled:           scheduled,
		Partial:             make([]PartialEntry, 0),
	}
	if !scheduled {
		s.PendingAt = when
	}
	return s
}

// EffectiveStopLoss returns the trailing SL if one has been set, else the
// original SL.
func (s *Signal) EffectiveStopLoss() decimal.Decimal {
	if s.TrailingStopLoss != nil {
		return *s.TrailingStopLoss
	}
	return s.PriceStopLoss
}

// EffectiveTakeProfit returns the trailing TP if one has been set, else the
// original TP.
func (s *Signal) EffectiveTakeProfit() decimal.Decimal {
	if s.TrailingTakeProfit != nil {
		return *s.TrailingTakeProfit
	}
	return s.PriceTakeProfit
}

// tpClosed is the sum of percent closed at profit.
func (s *Signal) tpClosed() decimal.Decimal {
	return s.sumPartial(PartialProfit)
}

// slClosed is the sum of percent closed at loss.
func (s *Signal) slClosed() decimal.Decimal {
	return s.sumPartial(PartialLoss)
}

func (s *Signal) sumPartial(t PartialType) decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Partial {
		if p.Type == t {
			total = total.Add(p.Percent)
		}
	}
	return total
}

// TotalClosed is the sum of all partial percentages closed so far, derived
// from the partial log (the log is the source of truth; this is always
// rebuilt from it, never stored independently).
func (s *Signal) TotalClosed() decimal.Decimal {
	return s.tpClosed().Add(s.slClosed())
}

// TotalExecuted is the public name for TotalClosed.
func (s *Signal) TotalExecuted() decimal.Decimal {
	return s.TotalClosed()
}

// RemainingPercent is the fraction of the position not yet partially
// closed.
func (s *Signal) RemainingPercent() decimal.Decimal {
	return decimal.NewFromInt(100).Sub(s.TotalClosed())
}

// AppendPartial records a partial close entry. Callers must have already
// validated the percent and direction; this only appends and recomputes
// nothing else, since the derived totals are computed on demand from the
// log.
func (s *Signal) AppendPartial(t PartialType, percent, price decimal.Decimal) {
	s.Partial = append(s.Partial, PartialEntry{Type: t, Percent: percent, Price: price})
}

// hasCrossedUpward reports whether price has reached or passed level when
// moving up (used for long TP and short SL checks).
func hasCrossedUpward(price, level decimal.Decimal) bool {
	return price.GreaterThanOrEqual(level)
}

// hasCrossedDownward reports whether price has reached or passed level when
// moving down (used for short TP and long SL checks).
func hasCrossedDownward(price, level decimal.Decimal) bool {
	return price.LessThanOrEqual(level)
}

// HasCrossedTakeProfit reports whether vwap has crossed the effective TP in
// the profitable direction.
func (s *Signal) HasCrossedTakeProfit(vwap decimal.Decimal) bool {
	tp := s.EffectiveTakeProfit()
	if s.Direction == Long {
		return hasCrossedUpward(vwap, tp)
	}
	return hasCrossedDownward(vwap, tp)
}

// HasCrossedStopLoss reports whether vwap has crossed the effective SL in
// the adverse direction.
func (s *Signal) HasCrossedStopLoss(vwap decimal.Decimal) bool {
	sl := s.EffectiveStopLoss()
	if s.Direction == Long {
		return hasCrossedDownward(vwap, sl)
	}
	return hasCrossedUpward(vwap, sl)
}

// Clone returns a deep-enough copy safe to mutate independently (partial
// log and trailing pointers are copied, not shared).
func (s *Signal) Clone() *Signal {
	cp := *s
	cp.Partial = make([]PartialEntry, len(s.Partial))
	copy(cp.Partial, s.Partial)
	if s.TrailingStopLoss != nil {
		v := *s.TrailingStopLoss
		cp.TrailingStopLoss = &v
	}
	if s.TrailingTakeProfit != nil {
		v := *s.TrailingTakeProfit
		cp.TrailingTakeProfit = &v
	}
	return &cp
}
