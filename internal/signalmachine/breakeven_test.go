package signalmachine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/solstice-quant/signalengine/internal/domain"
	"github.com/solstice-quant/signalengine/internal/events"
	"github.com/solstice-quant/signalengine/internal/signalmachine"
)

func TestBreakevenTrackerFiresOnceThenIdempotent(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger, events.DefaultConfig())
	cfg := testConfig()
	sig := longSignal()

	tracker := signalmachine.NewBreakevenTracker(sig.ID, logger, bus, cfg, nil)

	// Threshold is 2*(slippage+fee) + BreakevenThreshold = 0.2+0.2+0.2 = 0.6%.
	moved := tracker.Check(sig, decimal.NewFromFloat(100.3), time.Now().UTC())
	if moved {
		t.Fatal("Check should not fire before the breakeven threshold is cleared")
	}
	if tracker.Reached() {
		t.Fatal("Reached should be false before the threshold is cleared")
	}

	moved = tracker.Check(sig, decimal.NewFromInt(101), time.Now().UTC())
	if !moved {
		t.Fatal("Check should fire once the threshold is cleared")
	}
	if !tracker.Reached() {
		t.Fatal("Reached should be true after firing")
	}
	if sig.TrailingStopLoss == nil || !sig.TrailingStopLoss.Equal(sig.PriceOpen) {
		t.Fatalf("TrailingStopLoss = %v, want entry price %s", sig.TrailingStopLoss, sig.PriceOpen)
	}

	// Idempotent: a further favorable move must not fire again.
	moved = tracker.Check(sig, decimal.NewFromInt(110), time.Now().UTC())
	if moved {
		t.Fatal("Check should be a one-shot: it must not fire a second time")
	}
}

func TestBreakevenTrackerSeededAsReachedNeverFires(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger, events.DefaultConfig())
	cfg := testConfig()
	sig := longSignal()

	tracker := signalmachine.NewBreakevenTracker(sig.ID, logger, bus, cfg, &domain.BreakevenState{Reached: true})
	if !tracker.Reached() {
		t.Fatal("a tracker seeded as reached should report Reached() = true")
	}
	if tracker.Check(sig, decimal.NewFromInt(150), time.Now().UTC()) {
		t.Fatal("a tracker seeded as reached should never fire")
	}
}
