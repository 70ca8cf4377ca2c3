package signalmachine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/solstice-quant/signalengine/internal/domain"
)

// Action is the discriminated outcome of one tick: a Go enum plus a result
// struct carrying only the fields relevant to that action.
type Action string

const (
	ActionIdle      Action = "idle"
	ActionScheduled Action = "scheduled"
	ActionOpened    Action = "opened"
	ActionActive    Action = "active"
	ActionClosed    Action = "closed"
	ActionCancelled Action = "cancelled"
)

// TickResult is the single return value of Machine.Tick.
type TickResult struct {
	Action Action
	Signal *domain.Signal
	When   time.Time

	Close  *domain.CloseReason
	Cancel *domain.CancelReason

	PnLPct decimal.Decimal

	// ProgressPercent and UnrealizedPnLPct are only meaningful on Active.
	ProgressPercent  decimal.Decimal
	UnrealizedPnLPct decimal.Decimal
}
