package signalmachine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/solstice-quant/signalengine/internal/domain"
	"github.com/solstice-quant/signalengine/internal/events"
	"github.com/solstice-quant/signalengine/internal/signalmachine"
	"github.com/solstice-quant/signalengine/internal/strategycontract"
)

func TestPartialTrackerDedupesWithinAndAcrossCalls(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger, events.DefaultConfig())

	var mu sync.Mutex
	var levels []int
	bus.Subscribe(events.TopicPartialProfit, func(e events.Event) error {
		pe := e.(*events.PartialEvent)
		mu.Lock()
		levels = append(levels, pe.Level)
		mu.Unlock()
		return nil
	})

	tracker := signalmachine.NewPartialTracker(testMachineCtx(), "sig1", logger, bus, nil, true, nil)

	// A single jump past 30% should emit 10, 20 and 30 in one call.
	tracker.Profit(decimal.NewFromInt(130), decimal.NewFromInt(35), time.Now().UTC())
	// Repeating the same bucket must not re-emit anything.
	tracker.Profit(decimal.NewFromInt(131), decimal.NewFromInt(36), time.Now().UTC())

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(levels) != 3 {
		t.Fatalf("levels = %v, want exactly [10 20 30]", levels)
	}
	for i, want := range []int{10, 20, 30} {
		if levels[i] != want {
			t.Fatalf("levels = %v, want [10 20 30]", levels)
		}
	}
}

func TestPartialTrackerSeededFromPersistedStateSkipsEmittedLevels(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger, events.DefaultConfig())

	var mu sync.Mutex
	var levels []int
	bus.Subscribe(events.TopicPartialProfit, func(e events.Event) error {
		pe := e.(*events.PartialEvent)
		mu.Lock()
		levels = append(levels, pe.Level)
		mu.Unlock()
		return nil
	})

	seed := &domain.PartialState{ProfitLevels: []int{10, 20}}
	tracker := signalmachine.NewPartialTracker(testMachineCtx(), "sig1", logger, bus, nil, true, seed)
	tracker.Profit(decimal.NewFromInt(130), decimal.NewFromInt(35), time.Now().UTC())

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(levels) != 1 || levels[0] != 30 {
		t.Fatalf("levels = %v, want exactly [30] since 10 and 20 were already seeded", levels)
	}
}

func TestMachinePartialProfitRejectsUnfavorablePriceAndOverfill(t *testing.T) {
	exch := newFakeExchange(decimal.NewFromInt(100))
	strategy := strategycontract.AdapterFunc(func(_ context.Context, _ string, _ time.Time) (*strategycontract.SignalDTO, error) {
		return longDTO(nil, decimal.NewFromInt(130), decimal.NewFromInt(90), 600), nil
	})
	m, _, _ := newTestMachine(t, exch, strategy, nil, true)

	if _, err := m.Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("open Tick: %v", err)
	}

	if ok, err := m.PartialProfit(decimal.NewFromInt(50), decimal.NewFromInt(95)); ok || err == nil {
		t.Fatal("PartialProfit at a price below entry should be rejected")
	}

	if ok, err := m.PartialProfit(decimal.NewFromInt(50), decimal.NewFromInt(110)); !ok || err != nil {
		t.Fatalf("PartialProfit(50%%, 110): ok=%v err=%v, want accepted", ok, err)
	}

	if ok, err := m.PartialProfit(decimal.NewFromInt(60), decimal.NewFromInt(120)); ok || err == nil {
		t.Fatal("a partial close pushing total closed past 100%% should be rejected")
	}
}
