package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/solstice-quant/signalengine/internal/domain"
)

// SignalEvent carries one tick outcome for a signal. Action distinguishes
// Scheduled/Opened/Active/Closed/Cancelled.
type SignalEvent struct {
	Base
	Action    string              `json:"action"`
	Signal    *domain.Signal      `json:"signal"`
	Close     *domain.CloseReason `json:"closeReason,omitempty"`
	Cancel    *domain.CancelReason `json:"cancelReason,omitempty"`
	PnLPct    decimal.Decimal     `json:"pnlPercentage,omitempty"`
	Backtest  bool                `json:"backtest"`
}

// NewSignalEvent builds a SignalEvent on both the unified topic and the
// live/backtest-specific topic.
func NewSignalEvent(action string, sig *domain.Signal, at time.Time, backtest bool) *SignalEvent {
	return &SignalEvent{Base: NewBase(TopicSignal, at), Action: action, Signal: sig, Backtest: backtest}
}

// modeTopic returns the live/backtest-specific topic; PublishSignal publishes
// this event twice, once on Base.Topic and once on this topic.
func (e *SignalEvent) modeTopic() Topic {
	if e.Backtest {
		return TopicSignalBacktest
	}
	return TopicSignalLive
}

// PartialEvent carries one milestone emission.
type PartialEvent struct {
	Base
	SignalID string          `json:"signalId"`
	Level    int             `json:"level"`
	Price    decimal.Decimal `json:"price"`
}

// NewPartialEvent builds a partial-profit or partial-loss event.
func NewPartialEvent(t domain.PartialType, signalID string, level int, price decimal.Decimal, at time.Time) *PartialEvent {
	topic := TopicPartialProfit
	if t == domain.PartialLoss {
		topic = TopicPartialLoss
	}
	return &PartialEvent{Base: NewBase(topic, at), SignalID: signalID, Level: level, Price: price}
}

// BreakevenEvent fires the single time a signal's SL is moved to entry.
type BreakevenEvent struct {
	Base
	SignalID string          `json:"signalId"`
	Price    decimal.Decimal `json:"price"`
}

// NewBreakevenEvent builds a breakeven event.
func NewBreakevenEvent(signalID string, price decimal.Decimal, at time.Time) *BreakevenEvent {
	return &BreakevenEvent{Base: NewBase(TopicBreakeven, at), SignalID: signalID, Price: price}
}

// RiskRejectionEvent carries the note from the validation function that
// rejected a candidate signal.
type RiskRejectionEvent struct {
	Base
	Context domain.Context `json:"context"`
	Note    string         `json:"note"`
}

// NewRiskRejectionEvent builds a risk-rejection event.
func NewRiskRejectionEvent(ctx domain.Context, note string, at time.Time) *RiskRejectionEvent {
	return &RiskRejectionEvent{Base: NewBase(TopicRiskRejection, at), Context: ctx, Note: note}
}

// ScheduledPingEvent fires once per minute while a signal waits to activate.
type ScheduledPingEvent struct {
	Base
	SignalID string `json:"signalId"`
}

// NewScheduledPingEvent builds a scheduled-ping event.
func NewScheduledPingEvent(signalID string, at time.Time) *ScheduledPingEvent {
	return &ScheduledPingEvent{Base: NewBase(TopicScheduledPing, at), SignalID: signalID}
}

// ProgressEvent reports backtest sweep progress, 0..1.
type ProgressEvent struct {
	Base
	Fraction float64 `json:"fraction"`
}

// NewProgressEvent builds a backtest-progress event.
func NewProgressEvent(fraction float64, at time.Time) *ProgressEvent {
	return &ProgressEvent{Base: NewBase(TopicBacktestProgress, at), Fraction: fraction}
}

// PerformanceEvent carries one named timing sample.
type PerformanceEvent struct {
	Base
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

// NewPerformanceEvent builds a performance event. name is one of
// "backtest_timeframe", "backtest_signal", "backtest_total", "live_tick".
func NewPerformanceEvent(name string, d time.Duration, at time.Time) *PerformanceEvent {
	return &PerformanceEvent{Base: NewBase(TopicPerformance, at), Name: name, Duration: d}
}

// ErrorEvent carries a recoverable error routed off the orchestrator hot
// path rather than returned synchronously.
type ErrorEvent struct {
	Base
	Context domain.Context `json:"context,omitempty"`
	Err     string         `json:"error"`
}

// NewErrorEvent builds a recoverable-error event.
func NewErrorEvent(ctx domain.Context, err error, at time.Time) *ErrorEvent {
	return &ErrorEvent{Base: NewBase(TopicError, at), Context: ctx, Err: err.Error()}
}

// FatalEvent carries an unrecoverable failure that terminates a background
// loop.
type FatalEvent struct {
	Base
	Err string `json:"error"`
}

// NewFatalEvent builds a fatal-error event.
func NewFatalEvent(err error, at time.Time) *FatalEvent {
	return &FatalEvent{Base: NewBase(TopicFatal, at), Err: err.Error()}
}

// ValidationEvent carries a signal-DTO or risk-validation rejection.
type ValidationEvent struct {
	Base
	Context domain.Context `json:"context"`
	Reason  string         `json:"reason"`
}

// NewValidationEvent builds a validation-rejection event.
func NewValidationEvent(ctx domain.Context, reason string, at time.Time) *ValidationEvent {
	return &ValidationEvent{Base: NewBase(TopicValidation, at), Context: ctx, Reason: reason}
}

// DoneEvent marks the end of a backtest or live run.
type DoneEvent struct {
	Base
	Backtest bool `json:"backtest"`
}

// NewDoneEvent builds a backtest-done or live-done event.
func NewDoneEvent(backtest bool, at time.Time) *DoneEvent {
	topic := TopicLiveDone
	if backtest {
		topic = TopicBacktestDone
	}
	return &DoneEvent{Base: NewBase(topic, at), Backtest: backtest}
}

// PublishSignal publishes a SignalEvent on both the unified signal topic and
// its live/backtest-specific topic.
func PublishSignal(bus *Bus, e *SignalEvent) {
	bus.Publish(e)
	modeEvent := *e
	modeEvent.Base = NewBase(e.modeTopic(), e.At)
	bus.Publish(&modeEvent)
}

// PublishRiskRejection builds and publishes a RiskRejectionEvent.
func PublishRiskRejection(bus *Bus, ctx domain.Context, note string, at time.Time) {
	bus.Publish(NewRiskRejectionEvent(ctx, note, at))
}
