package signalmachine

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/solstice-quant/signalengine/internal/config"
	"github.com/solstice-quant/signalengine/internal/domain"
	"github.com/solstice-quant/signalengine/internal/events"
)

// BreakevenTracker owns one signal's one-shot breakeven flag.
type BreakevenTracker struct {
	signalID string
	logger   *zap.Logger
	bus      *events.Bus
	cfg      *config.Config

	reached bool
}

// NewBreakevenTracker builds a tracker, optionally seeded from persisted
// state.
func NewBreakevenTracker(signalID string, logger *zap.Logger, bus *events.Bus, cfg *config.Config, seed *domain.BreakevenState) *BreakevenTracker {
	t := &BreakevenTracker{signalID: signalID, logger: logger.Named("breakeven"), bus: bus, cfg: cfg}
	if seed != nil {
		t.reached = seed.Reached
	}
	return t
}

// Check runs the breakeven rule against a signal. If the move-beyond-entry
// threshold is cleared and breakeven hasn't fired yet, it sets the signal's
// trailing SL to entry, marks itself reached, and emits a breakeven event.
// Idempotent: returns false on every call after the first success.
func (t *BreakevenTracker) Check(signal *domain.Signal, currentPrice decimal.Decimal, when time.Time) bool {
	if t.reached {
		return false
	}

	threshold := t.cfg.PercentSlippage.Add(t.cfg.PercentFee).Mul(decimal.NewFromInt(2)).Add(t.cfg.BreakevenThreshold)
	moved := currentPrice.Sub(signal.PriceOpen).Div(signal.PriceOpen).Mul(decimal.NewFromInt(100)).Mul(signal.Direction.Sign())
	if moved.LessThan(threshold) {
		return false
	}

	entry := signal.PriceOpen
	signal.TrailingStopLoss = &entry
	t.reached = true
	t.bus.Publish(events.NewBreakevenEvent(t.signalID, currentPrice, when))
	return true
}

// Reached reports whether breakeven has already fired for this signal.
func (t *BreakevenTracker) Reached() bool { return t.reached }

// State snapshots the tracker for persistence.
func (t *BreakevenTracker) State() domain.BreakevenState {
	return domain.BreakevenState{Reached: t.reached}
}
