// Package signalmachine implements the per-(symbol, strategy, exchange,
// frame) signal lifecycle state machine: tick() evaluates a pending or
// scheduled signal, or solicits a new one from user strategy code.
package signalmachine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/solstice-quant/signalengine/internal/config"
	"github.com/solstice-quant/signalengine/internal/domain"
	"github.com/solstice-quant/signalengine/internal/events"
	"github.com/solstice-quant/signalengine/internal/exchange"
	"github.com/solstice-quant/signalengine/internal/persistence"
	"github.com/solstice-quant/signalengine/internal/risk"
	"github.com/solstice-quant/signalengine/internal/strategycontract"
)

const seenIDWindow = 1000

// Machine owns the pending and/or scheduled signal for one
// (symbol, strategy, exchange, frame) combination.
type Machine struct {
	ctx      domain.Context
	cfg      *config.Config
	logger   *zap.Logger
	bus      *events.Bus
	store    persistence.Store
	exch     exchange.Adapter
	strategy strategycontract.Adapter
	gate     *risk.Gate
	backtest bool

	mu sync.Mutex

	initOnce sync.Once
	initErr  error

	pending   *domain.Signal
	scheduled *domain.Signal

	partialTracker   *PartialTracker
	breakevenTracker *BreakevenTracker

	stopped          bool
	cancelRequested  bool
	lastGetSignalAt  time.Time
	getSignalThrottle time.Duration

	seenIDs   map[string]struct{}
	seenOrder []string
}

// New builds a Machine. backtest=true skips all persistence and the shared
// risk gate's persisted load/save, since a backtest run has nothing to
// recover across restarts.
func New(ctx domain.Context, cfg *config.Config, logger *zap.Logger, bus *events.Bus, store persistence.Store, exch exchange.Adapter, strategy strategycontract.Adapter, gate *risk.Gate, backtest bool) *Machine {
	return &Machine{
		ctx:      ctx,
		cfg:      cfg,
		logger:   logger.Named("signalmachine").With(zap.String("symbol", ctx.Symbol), zap.String("strategy", ctx.Strategy)),
		bus:      bus,
		store:    store,
		exch:     exch,
		strategy: strategy,
		gate:     gate,
		backtest: backtest,
		seenIDs:  make(map[string]struct{}),
	}
}

// Stop requests the machine idle on every subsequent tick's getSignal step.
// Already-pending or scheduled signals continue to be monitored to
// resolution.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

// RequestCancel marks the current scheduled signal, if any, for
// user-initiated cancellation on the next tick.
func (m *Machine) RequestCancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelRequested = true
}

// Stopped reports whether Stop has been called.
func (m *Machine) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// HasOpenSignal reports whether the machine currently holds a pending or
// scheduled signal.
func (m *Machine) HasOpenSignal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil || m.scheduled != nil
}

// WaitForInit loads any persisted pending/scheduled signal and their
// tracker state into memory. It is idempotent and a no-op in backtest mode.
// A corrupt JSON file is deleted by the persistence layer itself during
// this load, so a bad file never blocks startup.
func (m *Machine) WaitForInit() error {
	m.initOnce.Do(func() {
		m.initErr = m.init()
	})
	return m.initErr
}

func (m *Machine) init() error {
	if m.backtest || m.store == nil {
		return nil
	}

	pending, err := m.store.LoadPending(m.ctx)
	if err != nil {
		return fmt.Errorf("signalmachine: load pending: %w", err)
	}
	if pending != nil {
		m.pending = pending
		m.rehydrateTrackers(pending)
		return nil
	}

	scheduled, err := m.store.LoadScheduled(m.ctx)
	if err != nil {
		return fmt.Errorf("signalmachine: load scheduled: %w", err)
	}
	m.scheduled = scheduled
	return nil
}

// rehydrateTrackers rebuilds the partial and breakeven trackers for a
// freshly-loaded pending signal. Breakeven state isn't persisted as its own
// record; it's inferred from the loaded signal itself: a trailing SL
// exactly equal to the entry price can only have been set by
// BreakevenTracker.Check (trailing SL absorption never sets the trailing
// level to exactly priceOpen, since the intrusion check forbids crossing
// entry), so that equality is authoritative on reload.
func (m *Machine) rehydrateTrackers(pending *domain.Signal) {
	var partialSeed *domain.PartialState
	if m.store != nil {
		if state, ok, err := m.store.LoadPartial(m.ctx, pending.ID); err == nil && ok {
			partialSeed = &state
		}
	}
	m.partialTracker = NewPartialTracker(m.ctx, pending.ID, m.logger, m.bus, m.store, m.backtest, partialSeed)

	var breakevenSeed *domain.BreakevenState
	if pending.TrailingStopLoss != nil && pending.TrailingStopLoss.Equal(pending.PriceOpen) {
		breakevenSeed = &domain.BreakevenState{Reached: true}
	}
	m.breakevenTracker = NewBreakevenTracker(pending.ID, m.logger, m.bus, m.cfg, breakevenSeed)
}

// Tick evaluates the machine's state exactly once and returns the
// discriminated result. Tick calls never interleave on one Machine: a
// second concurrent call blocks on the first's mutex, so overlapping ticks
// queue rather than race.
func (m *Machine) Tick(ctx context.Context, when time.Time) (*TickResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.backtest {
		if err := m.WaitForInit(); err != nil {
			return nil, err
		}
	}

	switch {
	case m.pending != nil:
		return m.tickPending(ctx, when)
	case m.scheduled != nil:
		return m.tickScheduled(ctx, when)
	default:
		return m.tickIdle(ctx, when)
	}
}

func (m *Machine) tickPending(ctx context.Context, when time.Time) (*TickResult, error) {
	signal := m.pending

	price, err := m.vwap(ctx, m.exch, when)
	if err != nil {
		m.bus.Publish(events.NewErrorEvent(m.ctx, err, when))
		return &TickResult{Action: ActionIdle, When: when}, nil
	}

	switch {
	case signal.HasCrossedTakeProfit(price):
		reason := domain.CloseTakeProfit
		return m.closeSignal(signal, reason, price, when)

	case signal.HasCrossedStopLoss(price):
		reason := domain.CloseStopLoss
		return m.closeSignal(signal, reason, price, when)

	case when.Sub(signal.PendingAt) >= time.Duration(signal.MinuteEstimatedTime)*time.Minute:
		reason := domain.CloseTimeExpired
		return m.closeSignal(signal, reason, price, when)

	default:
		rawPct := rawMovePercent(signal, price)
		switch {
		case rawPct.IsPositive():
			m.partialTracker.Profit(price, rawPct, when)
		case rawPct.IsNegative():
			m.partialTracker.Loss(price, rawPct.Abs(), when)
		}
		if m.breakevenTracker.Check(signal, price, when) {
			m.persistPending(signal)
		}

		result := &TickResult{
			Action:           ActionActive,
			Signal:           signal.Clone(),
			When:             when,
			UnrealizedPnLPct: UnrealizedPnL(signal, price, m.cfg),
			ProgressPercent:  signal.TotalClosed(),
		}
		events.PublishSignal(m.bus, events.NewSignalEvent("active", result.Signal, when, m.backtest))
		return result, nil
	}
}

func (m *Machine) closeSignal(signal *domain.Signal, reason domain.CloseReason, price decimal.Decimal, when time.Time) (*TickResult, error) {
	pnl := RealizedPnL(signal, price, m.cfg)

	m.partialTracker.Clear()
	if !m.backtest && m.store != nil {
		if err := m.store.ClearPending(m.ctx); err != nil {
			m.logger.Warn("failed to clear persisted pending signal", zap.Error(err))
		}
	}
	if err := m.gate.RemoveSignal(m.ctx, m.backtest); err != nil {
		m.logger.Warn("failed to remove signal from risk gate", zap.Error(err))
	}

	m.pending = nil
	m.partialTracker = nil
	m.breakevenTracker = nil

	snapshot := signal.Clone()
	result := &TickResult{Action: ActionClosed, Signal: snapshot, Close: &reason, PnLPct: pnl, When: when}
	events.PublishSignal(m.bus, events.NewSignalEvent("closed", snapshot, when, m.backtest))
	return result, nil
}

func (m *Machine) tickScheduled(ctx context.Context, when time.Time) (*TickResult, error) {
	signal := m.scheduled

	if m.cancelRequested {
		m.cancelRequested = false
		reason := domain.CancelUser
		return m.cancelSignal(signal, reason, when)
	}

	price, err := m.vwap(ctx, m.exch, when)
	if err != nil {
		m.bus.Publish(events.NewErrorEvent(m.ctx, err, when))
		return &TickResult{Action: ActionIdle, When: when}, nil
	}

	// Pre-activation SL check uses the original SL price; trailing only
	// applies once a signal is active.
	if crossesAdverseStopLoss(signal, price) {
		reason := domain.CancelPriceReject
		return m.cancelSignal(signal, reason, when)
	}

	if when.Sub(signal.ScheduledAt) >= time.Duration(m.cfg.ScheduleAwaitMinutes)*time.Minute {
		reason := domain.CancelTimeout
		return m.cancelSignal(signal, reason, when)
	}

	if reachedEntry(signal, price) {
		return m.promote(signal, price, when)
	}

	snapshot := signal.Clone()
	result := &TickResult{Action: ActionScheduled, Signal: snapshot, When: when}
	events.PublishSignal(m.bus, events.NewSignalEvent("scheduled", snapshot, when, m.backtest))
	m.bus.Publish(events.NewScheduledPingEvent(signal.ID, when))
	return result, nil
}

func crossesAdverseStopLoss(signal *domain.Signal, price decimal.Decimal) bool {
	if signal.Direction == domain.Long {
		return price.LessThanOrEqual(signal.PriceStopLoss)
	}
	return price.GreaterThanOrEqual(signal.PriceStopLoss)
}

func reachedEntry(signal *domain.Signal, price decimal.Decimal) bool {
	if signal.Direction == domain.Long {
		return price.LessThanOrEqual(signal.PriceOpen)
	}
	return price.GreaterThanOrEqual(signal.PriceOpen)
}

func (m *Machine) cancelSignal(signal *domain.Signal, reason domain.CancelReason, when time.Time) (*TickResult, error) {
	if !m.backtest && m.store != nil {
		if err := m.store.ClearScheduled(m.ctx); err != nil {
			m.logger.Warn("failed to clear persisted scheduled signal", zap.Error(err))
		}
	}
	m.scheduled = nil

	snapshot := signal.Clone()
	result := &TickResult{Action: ActionCancelled, Signal: snapshot, Cancel: &reason, When: when}
	events.PublishSignal(m.bus, events.NewSignalEvent("cancelled", snapshot, when, m.backtest))
	return result, nil
}

func (m *Machine) promote(signal *domain.Signal, price decimal.Decimal, when time.Time) (*TickResult, error) {
	args := risk.Args{
		Context:       m.ctx,
		Risk:          m.ctx.Strategy,
		PendingSignal: signal,
		CurrentPrice:  price,
		Timestamp:     when,
	}
	if !m.gate.CheckSignal(args, m.backtest) {
		// Rejected at promotion: the scheduled slot survives so the next
		// tick retries once price conditions still hold.
		snapshot := signal.Clone()
		result := &TickResult{Action: ActionScheduled, Signal: snapshot, When: when}
		events.PublishSignal(m.bus, events.NewSignalEvent("scheduled", snapshot, when, m.backtest))
		return result, nil
	}

	signal.PendingAt = when
	m.scheduled = nil
	m.pending = signal

	if !m.backtest && m.store != nil {
		if err := m.store.ClearScheduled(m.ctx); err != nil {
			m.logger.Warn("failed to clear persisted scheduled signal", zap.Error(err))
		}
		m.persistPending(signal)
	}

	position := domain.ActivePosition{
		Strategy: m.ctx.Strategy, Exchange: m.ctx.Exchange, Frame: m.ctx.Frame, Symbol: m.ctx.Symbol,
		Direction: signal.Direction, PriceOpen: signal.PriceOpen, PriceStopLoss: signal.PriceStopLoss,
		PriceTakeProfit: signal.PriceTakeProfit, MinuteEstimatedTime: signal.MinuteEstimatedTime, OpenTimestamp: when,
	}
	if err := m.gate.AddSignal(m.ctx, position, m.backtest); err != nil {
		m.logger.Warn("failed to add signal to risk gate", zap.Error(err))
	}

	m.partialTracker = NewPartialTracker(m.ctx, signal.ID, m.logger, m.bus, m.store, m.backtest, nil)
	m.breakevenTracker = NewBreakevenTracker(signal.ID, m.logger, m.bus, m.cfg, nil)

	snapshot := signal.Clone()
	result := &TickResult{Action: ActionOpened, Signal: snapshot, When: when}
	events.PublishSignal(m.bus, events.NewSignalEvent("opened", snapshot, when, m.backtest))
	return result, nil
}

func (m *Machine) tickIdle(ctx context.Context, when time.Time) (*TickResult, error) {
	if m.stopped {
		return &TickResult{Action: ActionIdle, When: when}, nil
	}
	if m.getSignalThrottle > 0 && when.Sub(m.lastGetSignalAt) < m.getSignalThrottle {
		return &TickResult{Action: ActionIdle, When: when}, nil
	}
	m.lastGetSignalAt = when

	genCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.MaxSignalGenSeconds)*time.Second)
	dto, err := m.strategy.GetSignal(genCtx, m.ctx.Symbol, when)
	cancel()
	if err != nil {
		m.bus.Publish(events.NewErrorEvent(m.ctx, err, when))
		return &TickResult{Action: ActionIdle, When: when}, nil
	}
	if dto == nil {
		return &TickResult{Action: ActionIdle, When: when}, nil
	}

	if err := strategycontract.Validate(dto, m.cfg, m.seenIDs); err != nil {
		m.bus.Publish(events.NewValidationEvent(m.ctx, err.Error(), when))
		return &TickResult{Action: ActionIdle, When: when}, nil
	}
	m.rememberID(dto.ID)

	if dto.PriceOpen != nil {
		return m.openScheduled(dto, when)
	}
	return m.openImmediate(ctx, dto, when)
}

func (m *Machine) openScheduled(dto *strategycontract.SignalDTO, when time.Time) (*TickResult, error) {
	id := dto.ID
	if id == "" {
		id = uuid.NewString()
	}
	signal := domain.NewSignal(id, m.ctx, dto.Direction, *dto.PriceOpen, dto.PriceTakeProfit, dto.PriceStopLoss, dto.MinuteEstimatedTime, true, when)
	m.scheduled = signal

	if !m.backtest && m.store != nil {
		if err := m.store.SaveScheduled(m.ctx, signal); err != nil {
			m.logger.Warn("failed to persist scheduled signal", zap.Error(err))
		}
	}

	snapshot := signal.Clone()
	result := &TickResult{Action: ActionScheduled, Signal: snapshot, When: when}
	events.PublishSignal(m.bus, events.NewSignalEvent("scheduled", snapshot, when, m.backtest))
	return result, nil
}

func (m *Machine) openImmediate(ctx context.Context, dto *strategycontract.SignalDTO, when time.Time) (*TickResult, error) {
	price, err := m.vwap(ctx, m.exch, when)
	if err != nil {
		m.bus.Publish(events.NewErrorEvent(m.ctx, err, when))
		return &TickResult{Action: ActionIdle, When: when}, nil
	}

	id := dto.ID
	if id == "" {
		id = uuid.NewString()
	}
	candidate := domain.NewSignal(id, m.ctx, dto.Direction, price, dto.PriceTakeProfit, dto.PriceStopLoss, dto.MinuteEstimatedTime, false, when)

	args := risk.Args{Context: m.ctx, Risk: m.ctx.Strategy, PendingSignal: candidate, CurrentPrice: price, Timestamp: when}
	if !m.gate.CheckSignal(args, m.backtest) {
		return &TickResult{Action: ActionIdle, When: when}, nil
	}

	m.pending = candidate
	if !m.backtest && m.store != nil {
		m.persistPending(candidate)
	}

	position := domain.ActivePosition{
		Strategy: m.ctx.Strategy, Exchange: m.ctx.Exchange, Frame: m.ctx.Frame, Symbol: m.ctx.Symbol,
		Direction: candidate.Direction, PriceOpen: candidate.PriceOpen, PriceStopLoss: candidate.PriceStopLoss,
		PriceTakeProfit: candidate.PriceTakeProfit, MinuteEstimatedTime: candidate.MinuteEstimatedTime, OpenTimestamp: when,
	}
	if err := m.gate.AddSignal(m.ctx, position, m.backtest); err != nil {
		m.logger.Warn("failed to add signal to risk gate", zap.Error(err))
	}

	m.partialTracker = NewPartialTracker(m.ctx, candidate.ID, m.logger, m.bus, m.store, m.backtest, nil)
	m.breakevenTracker = NewBreakevenTracker(candidate.ID, m.logger, m.bus, m.cfg, nil)

	snapshot := candidate.Clone()
	result := &TickResult{Action: ActionOpened, Signal: snapshot, When: when}
	events.PublishSignal(m.bus, events.NewSignalEvent("opened", snapshot, when, m.backtest))
	return result, nil
}

func (m *Machine) persistPending(signal *domain.Signal) {
	if m.backtest || m.store == nil {
		return
	}
	if err := m.store.SavePending(m.ctx, signal); err != nil {
		m.logger.Warn("failed to persist pending signal", zap.Error(err))
	}
}

func (m *Machine) rememberID(id string) {
	if id == "" {
		return
	}
	if _, exists := m.seenIDs[id]; exists {
		return
	}
	m.seenIDs[id] = struct{}{}
	m.seenOrder = append(m.seenOrder, id)
	if len(m.seenOrder) > seenIDWindow {
		oldest := m.seenOrder[0]
		m.seenOrder = m.seenOrder[1:]
		delete(m.seenIDs, oldest)
	}
}
