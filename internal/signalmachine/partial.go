package signalmachine

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/solstice-quant/signalengine/internal/domain"
	"github.com/solstice-quant/signalengine/internal/events"
	"github.com/solstice-quant/signalengine/internal/persistence"
)

var milestoneLevels = [...]int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// PartialTracker owns one signal's {10,...,100} milestone sets, one
// instance per signal id.
type PartialTracker struct {
	signalID string
	ctx      domain.Context
	logger   *zap.Logger
	bus      *events.Bus
	store    persistence.Store
	backtest bool

	profit map[int]struct{}
	loss   map[int]struct{}
}

// NewPartialTracker builds a tracker for one signal, optionally seeded from
// a persisted state (nil means none).
func NewPartialTracker(ctx domain.Context, signalID string, logger *zap.Logger, bus *events.Bus, store persistence.Store, backtest bool, seed *domain.PartialState) *PartialTracker {
	t := &PartialTracker{
		signalID: signalID,
		ctx:      ctx,
		logger:   logger.Named("partial"),
		bus:      bus,
		store:    store,
		backtest: backtest,
		profit:   make(map[int]struct{}),
		loss:     make(map[int]struct{}),
	}
	if seed != nil {
		for _, l := range seed.ProfitLevels {
			t.profit[l] = struct{}{}
		}
		for _, l := range seed.LossLevels {
			t.loss[l] = struct{}{}
		}
	}
	return t
}

// Profit records a profit observation, emitting one milestone event per
// newly-crossed level (multiple may fire in one call if price jumps).
func (t *PartialTracker) Profit(currentPrice, revenuePercent decimal.Decimal, when time.Time) {
	t.advance(domain.PartialProfit, t.profit, currentPrice, revenuePercent, when)
}

// Loss mirrors Profit for the loss side.
func (t *PartialTracker) Loss(currentPrice, revenuePercent decimal.Decimal, when time.Time) {
	t.advance(domain.PartialLoss, t.loss, currentPrice, revenuePercent, when)
}

func (t *PartialTracker) advance(kind domain.PartialType, set map[int]struct{}, currentPrice, revenuePercent decimal.Decimal, when time.Time) {
	bucket := floorToBucket(revenuePercent)
	if bucket < 10 {
		return
	}
	for _, level := range milestoneLevels {
		if level > bucket {
			break
		}
		if _, already := set[level]; already {
			continue
		}
		set[level] = struct{}{}
		t.persist()
		t.bus.Publish(events.NewPartialEvent(kind, t.signalID, level, currentPrice, when))
	}
}

// floorToBucket computes floor(revenuePercent/10)*10, clamped to [0, 100].
func floorToBucket(revenuePercent decimal.Decimal) int {
	if revenuePercent.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	ten := decimal.NewFromInt(10)
	bucket := revenuePercent.Div(ten).Floor().Mul(ten).IntPart()
	if bucket > 100 {
		bucket = 100
	}
	return int(bucket)
}

func (t *PartialTracker) persist() {
	if t.backtest || t.store == nil {
		return
	}
	state := domain.PartialState{
		ProfitLevels: keysOf(t.profit),
		LossLevels:   keysOf(t.loss),
	}
	if err := t.store.SavePartial(t.ctx, t.signalID, state); err != nil {
		t.logger.Warn("failed to persist partial state", zap.Error(err))
	}
}

// Clear drops this tracker's state and removes its persisted entry.
func (t *PartialTracker) Clear() {
	if t.backtest || t.store == nil {
		return
	}
	if err := t.store.ClearPartial(t.ctx, t.signalID); err != nil {
		t.logger.Warn("failed to clear partial state", zap.Error(err))
	}
}

func keysOf(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
