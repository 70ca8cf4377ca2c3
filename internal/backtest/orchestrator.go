// Package backtest drives a SignalMachine across a fixed timeframe,
// yielding only the terminal outcomes (Closed, Cancelled) a backtest
// consumer cares about.
package backtest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/solstice-quant/signalengine/internal/config"
	"github.com/solstice-quant/signalengine/internal/domain"
	"github.com/solstice-quant/signalengine/internal/events"
	"github.com/solstice-quant/signalengine/internal/exchange"
	"github.com/solstice-quant/signalengine/internal/signalmachine"
)

// Result is one terminal outcome yielded by Run, paired with the close
// timestamp it resolved at so a caller correlating against the frame can do
// so without re-deriving it.
type Result struct {
	Tick *signalmachine.TickResult
	When time.Time
}

// Orchestrator replays a frame of timestamps through one SignalMachine.
type Orchestrator struct {
	ctx     domain.Context
	cfg     *config.Config
	logger  *zap.Logger
	bus     *events.Bus
	exch    exchange.Adapter
	machine *signalmachine.Machine
	frame   *domain.Frame
}

// New builds a backtest Orchestrator for one machine over one frame.
func New(ctx domain.Context, cfg *config.Config, logger *zap.Logger, bus *events.Bus, exch exchange.Adapter, machine *signalmachine.Machine, frame *domain.Frame) *Orchestrator {
	return &Orchestrator{
		ctx:     ctx,
		cfg:     cfg,
		logger:  logger.Named("backtest").With(zap.String("symbol", ctx.Symbol)),
		bus:     bus,
		exch:    exch,
		machine: machine,
		frame:   frame,
	}
}

// Run replays the frame on a dedicated goroutine, sending each terminal
// result onto the returned channel and closing it when the frame is
// exhausted or cancel fires. A consumer that stops draining the channel
// before it closes leaves the producer goroutine blocked on a send; call
// cancel in that case so the goroutine observes it at its next safe point
// and returns.
func (o *Orchestrator) Run(ctx context.Context, cancel <-chan struct{}) <-chan Result {
	out := make(chan Result)
	go o.run(ctx, cancel, out)
	return out
}

func (o *Orchestrator) run(ctx context.Context, cancel <-chan struct{}, out chan<- Result) {
	defer close(out)

	timeframes := o.frame.GetTimeframe()
	total := len(timeframes)
	if total == 0 {
		return
	}

	buffer := o.cfg.AvgPriceCandlesCount - 1
	if buffer < 0 {
		buffer = 0
	}

	start := time.Now()
	o.bus.Publish(events.NewProgressEvent(0, timeframes[0]))

	for i := 0; i < total; i++ {
		select {
		case <-cancel:
			return
		case <-ctx.Done():
			return
		default:
		}

		if o.machine.Stopped() {
			return
		}

		when := timeframes[i]
		tickStart := time.Now()
		result, err := o.machine.Tick(ctx, when)
		o.bus.Publish(events.NewPerformanceEvent("backtest_timeframe", time.Since(tickStart), when))
		if err != nil {
			o.bus.Publish(events.NewErrorEvent(o.ctx, err, when))
			o.emitProgress(i, total, when)
			continue
		}

		switch result.Action {
		case signalmachine.ActionIdle, signalmachine.ActionActive:
			o.emitProgress(i, total, when)
			continue
		}

		fetchSpan := o.fetchSpan(result, buffer)
		since := when.Add(-time.Duration(buffer) * time.Minute)
		candles, err := o.exch.GetNextCandles(ctx, o.ctx.Symbol, "1m", since, fetchSpan, true)
		if err != nil {
			o.bus.Publish(events.NewErrorEvent(o.ctx, err, when))
			o.emitProgress(i, total, when)
			continue
		}
		if len(candles) == 0 {
			o.emitProgress(i, total, when)
			continue
		}

		signalStart := time.Now()
		closed, err := o.machine.FastForward(candles)
		o.bus.Publish(events.NewPerformanceEvent("backtest_signal", time.Since(signalStart), when))
		if err != nil {
			o.bus.Publish(events.NewErrorEvent(o.ctx, err, when))
			o.emitProgress(i, total, when)
			continue
		}

		// Advance i to the first timeframe at or after the signal's close
		// time; the loop's own post-increment then skips past it too, so the
		// next tick starts on the timeframe after the one the signal closed
		// on rather than re-evaluating that same candle.
		closeAt := closed.When
		for i < total && timeframes[i].Before(closeAt) {
			i++
		}

		select {
		case out <- Result{Tick: closed, When: closeAt}:
		case <-cancel:
			return
		case <-ctx.Done():
			return
		}
	}

	o.bus.Publish(events.NewProgressEvent(1, timeframes[total-1]))
	o.bus.Publish(events.NewPerformanceEvent("backtest_total", time.Since(start), timeframes[total-1]))
	o.bus.Publish(events.NewDoneEvent(true, timeframes[total-1]))
}

func (o *Orchestrator) emitProgress(i, total int, when time.Time) {
	o.bus.Publish(events.NewProgressEvent(float64(i+1)/float64(total), when))
}

// fetchSpan computes how many 1-minute candles FastForward needs: a
// Scheduled signal must be watched through its await window plus its
// eventual pending lifetime, while an Opened one only needs its own
// lifetime, both padded by the VWAP buffer.
func (o *Orchestrator) fetchSpan(result *signalmachine.TickResult, buffer int) int {
	minutes := 0
	if result.Signal != nil {
		minutes = result.Signal.MinuteEstimatedTime
	}
	switch result.Action {
	case signalmachine.ActionScheduled:
		return buffer + o.cfg.ScheduleAwaitMinutes + minutes + 1
	default:
		return buffer + minutes
	}
}
