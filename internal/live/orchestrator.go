// Package live drives a SignalMachine forever on a fixed tick interval,
// yielding Opened and Closed outcomes for a consumer to act on.
package live

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/solstice-quant/signalengine/internal/config"
	"github.com/solstice-quant/signalengine/internal/domain"
	"github.com/solstice-quant/signalengine/internal/events"
	"github.com/solstice-quant/signalengine/internal/signalmachine"
)

// Orchestrator ticks one SignalMachine on a timer until cancelled.
type Orchestrator struct {
	ctx      domain.Context
	cfg      *config.Config
	logger   *zap.Logger
	bus      *events.Bus
	machine  *signalmachine.Machine
	interval time.Duration
}

// New builds a live Orchestrator. The tick interval is cfg.LiveTickInterval,
// or one minute when that is not positive.
func New(ctx domain.Context, cfg *config.Config, logger *zap.Logger, bus *events.Bus, machine *signalmachine.Machine) *Orchestrator {
	interval := cfg.LiveTickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Orchestrator{
		ctx:      ctx,
		cfg:      cfg,
		logger:   logger.Named("live").With(zap.String("symbol", ctx.Symbol)),
		bus:      bus,
		machine:  machine,
		interval: interval,
	}
}

// Run starts the infinite tick loop on a dedicated goroutine, sending each
// Opened/Closed result onto the returned channel. The loop never terminates
// on its own; cancel it via ctx or the cancel channel, both checked only
// between ticks so an in-flight tick always completes and persists before
// the loop exits.
func (o *Orchestrator) Run(ctx context.Context, cancel <-chan struct{}) <-chan *signalmachine.TickResult {
	out := make(chan *signalmachine.TickResult)
	go o.run(ctx, cancel, out)
	return out
}

func (o *Orchestrator) run(ctx context.Context, cancel <-chan struct{}, out chan<- *signalmachine.TickResult) {
	defer close(out)

	if err := o.machine.WaitForInit(); err != nil {
		o.bus.Publish(events.NewFatalEvent(err, time.Now().UTC()))
		return
	}

	var lastTick time.Time
	for {
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

		when := time.Now().UTC()
		if !lastTick.IsZero() {
			o.bus.Publish(events.NewPerformanceEvent("live_tick", when.Sub(lastTick), when))
		}
		lastTick = when

		result, err := o.machine.Tick(ctx, when)
		if err != nil {
			o.bus.Publish(events.NewErrorEvent(o.ctx, err, when))
		} else if result.Action == signalmachine.ActionOpened || result.Action == signalmachine.ActionClosed {
			select {
			case out <- result:
			case <-cancel:
				return
			case <-ctx.Done():
				return
			}
		}

		timer := time.NewTimer(o.interval)
		select {
		case <-timer.C:
		case <-cancel:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}
