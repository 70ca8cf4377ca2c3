// Package domain holds the core trading entities shared by the signal
// machine, the orchestrators, and the risk gate.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a signal or position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Sign returns +1 for Long and -1 for Short, used throughout PnL math.
func (d Direction) Sign() decimal.Decimal {
	if d == Short {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// SignalState is the lifecycle stage of a Signal.
type SignalState string

const (
	StateScheduled SignalState = "scheduled"
	StatePending   SignalState = "pending"
	StateClosed    SignalState = "closed"
	StateCancelled SignalState = "cancelled"
)

// CloseReason explains why a pending signal closed.
type CloseReason string

const (
	CloseTakeProfit  CloseReason = "take_profit"
	CloseStopLoss    CloseReason = "stop_loss"
	CloseTimeExpired CloseReason = "time_expired"
)

// CancelReason explains why a scheduled signal was cancelled.
type CancelReason string

const (
	CancelTimeout     CancelReason = "timeout"
	CancelPriceReject CancelReason = "price_reject"
	CancelUser        CancelReason = "user"
)

// PartialType distinguishes a profit-taking partial close from a
// loss-cutting one.
type PartialType string

const (
	PartialProfit PartialType = "profit"
	PartialLoss   PartialType = "loss"
)

// Candle is one OHLCV bar. Timestamp marks the bar open.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// TypicalPrice is (high+low+close)/3, used by the anomaly guard and by VWAP.
func (c Candle) TypicalPrice() decimal.Decimal {
	return c.High.Add(c.Low).Add(c.Close).Div(decimal.NewFromInt(3))
}
