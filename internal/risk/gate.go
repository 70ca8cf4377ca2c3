// Package risk implements the portfolio-wide position gate every
// SignalMachine consults before opening a new signal. One Gate instance is
// shared across every machine on a risk profile, holding shared exposure
// state behind a mutex and evaluating a pluggable, ordered validation
// pipeline rather than a fixed rule set.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/solstice-quant/signalengine/internal/domain"
	"github.com/solstice-quant/signalengine/internal/events"
	"github.com/solstice-quant/signalengine/internal/persistence"
)

// Rejection is the structured shape a ValidationFunc may return to reject a
// signal with a machine-readable id alongside the human note.
type Rejection struct {
	ID   string
	Note string
}

func (r *Rejection) Error() string { return r.Note }

// Args is what every ValidationFunc is invoked with.
type Args struct {
	Context             domain.Context
	Risk                string
	PendingSignal       *domain.Signal
	CurrentPrice        decimal.Decimal
	Timestamp           time.Time
	ActivePositionCount int
	ActivePositions     map[string]domain.ActivePosition
}

// ValidationFunc inspects a candidate signal against portfolio state. It
// returns nil on pass, a non-nil error (ordinarily *Rejection, but any
// error is accepted so a plain fmt.Errorf also rejects) on fail. A panic
// inside a ValidationFunc is recovered and converted into a rejection so one
// bad validator can't take down the whole pipeline.
type ValidationFunc func(Args) error

// Gate is one risk profile's shared active-position map plus its ordered
// validation pipeline.
type Gate struct {
	name       string
	logger     *zap.Logger
	bus        *events.Bus
	store      persistence.Store
	validators []ValidationFunc

	mu         sync.Mutex
	loaded     bool
	positions  map[string]domain.ActivePosition
	exchangeOf map[string]string // risk-profile is fixed per Gate; exchange varies per persisted bucket
}

// New builds a Gate named name (the risk-profile identifier) with the given
// ordered validators, evaluated in order on every CheckSignal call.
func New(name string, logger *zap.Logger, bus *events.Bus, store persistence.Store, validators ...ValidationFunc) *Gate {
	return &Gate{
		name:       name,
		logger:     logger.Named("risk." + name),
		bus:        bus,
		store:      store,
		validators: validators,
		positions:  make(map[string]domain.ActivePosition),
	}
}

// ensureLoaded lazy-loads the profile's persisted position map on first use.
// exchange selects which persisted bucket to pull from; in practice one
// Gate typically spans one exchange, but the load is keyed so a
// multi-exchange profile still works.
func (g *Gate) ensureLoaded(exchange string) {
	if g.loaded || g.store == nil {
		return
	}
	loaded, err := g.store.LoadPositions(g.name, exchange)
	if err != nil {
		g.logger.Warn("failed to load persisted positions", zap.Error(err))
	} else {
		for k, v := range loaded {
			g.positions[k] = v
		}
	}
	g.loaded = true
}

// CheckSignal runs the validation pipeline for a candidate signal. On
// rejection, it emits a risk-rejection event carrying the rejection's note
// and returns false. On acceptance, it returns true. backtest skips
// persistence entirely, matching AddSignal/RemoveSignal.
func (g *Gate) CheckSignal(args Args, backtest bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !backtest {
		g.ensureLoaded(args.Context.Exchange)
	}

	args.ActivePositionCount = len(g.positions)
	args.ActivePositions = g.positions

	for _, validate := range g.validators {
		if err := g.runValidator(validate, args); err != nil {
			note := err.Error()
			g.logger.Info("signal rejected by risk gate",
				zap.String("context", fmt.Sprintf("%+v", args.Context)), zap.String("note", note))
			events.PublishRiskRejection(g.bus, args.Context, note, args.Timestamp)
			return false
		}
	}
	return true
}

// runValidator invokes one ValidationFunc, converting a panic into a
// rejection so it can't escape the pipeline loop.
func (g *Gate) runValidator(validate ValidationFunc, args Args) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("risk: validator panicked: %v", r)
		}
	}()
	return validate(args)
}

// AddSignal records ctx's position in the shared map and persists it
// (unless backtest).
func (g *Gate) AddSignal(ctx domain.Context, position domain.ActivePosition, backtest bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !backtest {
		g.ensureLoaded(ctx.Exchange)
	}
	key := domain.PositionKey(ctx.Strategy, ctx.Exchange, ctx.Symbol)
	g.positions[key] = position
	if backtest || g.store == nil {
		return nil
	}
	return g.store.SavePositions(g.name, ctx.Exchange, g.positions)
}

// RemoveSignal deletes ctx's position from the shared map and persists the
// change (unless backtest).
func (g *Gate) RemoveSignal(ctx domain.Context, backtest bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !backtest {
		g.ensureLoaded(ctx.Exchange)
	}
	key := domain.PositionKey(ctx.Strategy, ctx.Exchange, ctx.Symbol)
	delete(g.positions, key)
	if backtest || g.store == nil {
		return nil
	}
	return g.store.SavePositions(g.name, ctx.Exchange, g.positions)
}

// ActivePositionCount reports the current shared map size.
func (g *Gate) ActivePositionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.positions)
}
