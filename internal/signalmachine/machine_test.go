package signalmachine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/solstice-quant/signalengine/internal/config"
	"github.com/solstice-quant/signalengine/internal/domain"
	"github.com/solstice-quant/signalengine/internal/events"
	"github.com/solstice-quant/signalengine/internal/exchange"
	"github.com/solstice-quant/signalengine/internal/persistence"
	"github.com/solstice-quant/signalengine/internal/risk"
	"github.com/solstice-quant/signalengine/internal/signalmachine"
	"github.com/solstice-quant/signalengine/internal/strategycontract"
)

// fakeExchange serves a single current price as every candle's OHLC, with
// zero volume so vwapOf's flat-volume fallback to a plain average applies.
type fakeExchange struct {
	exchange.BaseAdapter
	mu    sync.Mutex
	price decimal.Decimal
}

func newFakeExchange(price decimal.Decimal) *fakeExchange {
	return &fakeExchange{price: price}
}

func (f *fakeExchange) setPrice(p decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = p
}

func (f *fakeExchange) GetCandles(_ context.Context, _, _ string, sinceTs time.Time, _ int, _ bool) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []domain.Candle{{Timestamp: sinceTs, Open: f.price, High: f.price, Low: f.price, Close: f.price, Volume: decimal.Zero}}, nil
}

func (f *fakeExchange) GetNextCandles(ctx context.Context, symbol, interval string, sinceTs time.Time, limit int, backtest bool) ([]domain.Candle, error) {
	return f.GetCandles(ctx, symbol, interval, sinceTs, limit, backtest)
}

func testConfig() *config.Config {
	return &config.Config{
		ScheduleAwaitMinutes: 120,
		AvgPriceCandlesCount: 1,
		PercentSlippage:      decimal.NewFromFloat(0.1),
		PercentFee:           decimal.NewFromFloat(0.1),
		MinTakeProfitDistPct: decimal.NewFromFloat(0.5),
		MinStopLossDistPct:   decimal.NewFromFloat(0.5),
		MaxStopLossDistPct:   decimal.NewFromFloat(20),
		MaxSignalLifetimeMin: 1440,
		MaxSignalGenSeconds:  5,
		BreakevenThreshold:   decimal.NewFromFloat(0.2),
	}
}

func testMachineCtx() domain.Context {
	return domain.Context{Symbol: "BTCUSDT", Strategy: "vwap", Exchange: "rest", Frame: "live"}
}

func longDTO(open *decimal.Decimal, tp, sl decimal.Decimal, minutes int) *strategycontract.SignalDTO {
	return &strategycontract.SignalDTO{
		Direction:           domain.Long,
		PriceOpen:           open,
		PriceTakeProfit:     tp,
		PriceStopLoss:       sl,
		MinuteEstimatedTime: minutes,
	}
}

func newTestMachine(t *testing.T, exch *fakeExchange, strategy strategycontract.Adapter, store persistence.Store, backtest bool) (*signalmachine.Machine, *risk.Gate, *events.Bus) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger, events.DefaultConfig())
	gate := risk.New("default", logger, bus, nil)
	m := signalmachine.New(testMachineCtx(), testConfig(), logger, bus, store, exch, strategy, gate, backtest)
	return m, gate, bus
}

func TestTickIdleOpensImmediateSignalAndAddsToRiskGate(t *testing.T) {
	exch := newFakeExchange(decimal.NewFromInt(100))
	strategy := strategycontract.AdapterFunc(func(_ context.Context, _ string, _ time.Time) (*strategycontract.SignalDTO, error) {
		return longDTO(nil, decimal.NewFromInt(110), decimal.NewFromInt(95), 60), nil
	})
	m, gate, _ := newTestMachine(t, exch, strategy, nil, true)

	result, err := m.Tick(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if result.Action != signalmachine.ActionOpened {
		t.Fatalf("Action = %v, want Opened", result.Action)
	}
	if got := gate.ActivePositionCount(); got != 1 {
		t.Fatalf("ActivePositionCount = %d, want 1", got)
	}
	if !m.HasOpenSignal() {
		t.Fatal("HasOpenSignal should be true after Opened")
	}
}

func TestTickPendingClosesOnTakeProfitAndRemovesFromRiskGate(t *testing.T) {
	exch := newFakeExchange(decimal.NewFromInt(100))
	strategy := strategycontract.AdapterFunc(func(_ context.Context, _ string, _ time.Time) (*strategycontract.SignalDTO, error) {
		return longDTO(nil, decimal.NewFromInt(110), decimal.NewFromInt(95), 60), nil
	})
	m, gate, _ := newTestMachine(t, exch, strategy, nil, true)

	base := time.Now().UTC()
	if _, err := m.Tick(context.Background(), base); err != nil {
		t.Fatalf("open Tick: %v", err)
	}

	exch.setPrice(decimal.NewFromInt(111))
	result, err := m.Tick(context.Background(), base.Add(time.Minute))
	if err != nil {
		t.Fatalf("close Tick: %v", err)
	}
	if result.Action != signalmachine.ActionClosed {
		t.Fatalf("Action = %v, want Closed", result.Action)
	}
	if result.Close == nil || *result.Close != domain.CloseTakeProfit {
		t.Fatalf("Close reason = %v, want CloseTakeProfit", result.Close)
	}
	if got := gate.ActivePositionCount(); got != 0 {
		t.Fatalf("ActivePositionCount after close = %d, want 0", got)
	}
	if m.HasOpenSignal() {
		t.Fatal("HasOpenSignal should be false once the signal has closed")
	}

	// A terminal result is produced exactly once: the machine has gone idle,
	// so the next tick re-enters getSignal rather than re-closing the same
	// signal.
	idle, err := m.Tick(context.Background(), base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("post-close Tick: %v", err)
	}
	if idle.Action == signalmachine.ActionClosed {
		t.Fatal("a second Closed result was produced for the same signal")
	}
}

func TestTickScheduledTimesOutAfterAwaitWindow(t *testing.T) {
	exch := newFakeExchange(decimal.NewFromInt(100))
	open := decimal.NewFromInt(80)
	strategy := strategycontract.AdapterFunc(func(_ context.Context, _ string, _ time.Time) (*strategycontract.SignalDTO, error) {
		return longDTO(&open, decimal.NewFromInt(95), decimal.NewFromInt(70), 60), nil
	})
	m, _, _ := newTestMachine(t, exch, strategy, nil, true)

	base := time.Now().UTC()
	result, err := m.Tick(context.Background(), base)
	if err != nil {
		t.Fatalf("schedule Tick: %v", err)
	}
	if result.Action != signalmachine.ActionScheduled {
		t.Fatalf("Action = %v, want Scheduled", result.Action)
	}

	past := base.Add(121 * time.Minute)
	result, err = m.Tick(context.Background(), past)
	if err != nil {
		t.Fatalf("timeout Tick: %v", err)
	}
	if result.Action != signalmachine.ActionCancelled {
		t.Fatalf("Action = %v, want Cancelled", result.Action)
	}
	if result.Cancel == nil || *result.Cancel != domain.CancelTimeout {
		t.Fatalf("Cancel reason = %v, want CancelTimeout", result.Cancel)
	}
}

func TestTickScheduledCancelsOnPriceReject(t *testing.T) {
	exch := newFakeExchange(decimal.NewFromInt(100))
	open := decimal.NewFromInt(90)
	strategy := strategycontract.AdapterFunc(func(_ context.Context, _ string, _ time.Time) (*strategycontract.SignalDTO, error) {
		return longDTO(&open, decimal.NewFromInt(110), decimal.NewFromInt(80), 60), nil
	})
	m, _, _ := newTestMachine(t, exch, strategy, nil, true)

	base := time.Now().UTC()
	if _, err := m.Tick(context.Background(), base); err != nil {
		t.Fatalf("schedule Tick: %v", err)
	}

	// Price crashes straight through both entry and the stop loss in one
	// tick; the price-reject check runs before the entry check, so this
	// cancels rather than activating.
	exch.setPrice(decimal.NewFromInt(75))
	result, err := m.Tick(context.Background(), base.Add(time.Minute))
	if err != nil {
		t.Fatalf("reject Tick: %v", err)
	}
	if result.Action != signalmachine.ActionCancelled {
		t.Fatalf("Action = %v, want Cancelled", result.Action)
	}
	if result.Cancel == nil || *result.Cancel != domain.CancelPriceReject {
		t.Fatalf("Cancel reason = %v, want CancelPriceReject", result.Cancel)
	}
}

func TestPartialCascadeMilestonesDedupAcrossTicks(t *testing.T) {
	exch := newFakeExchange(decimal.NewFromInt(100))
	strategy := strategycontract.AdapterFunc(func(_ context.Context, _ string, _ time.Time) (*strategycontract.SignalDTO, error) {
		return longDTO(nil, decimal.NewFromInt(130), decimal.NewFromInt(90), 600), nil
	})
	m, _, bus := newTestMachine(t, exch, strategy, nil, true)

	var mu sync.Mutex
	var levels []int
	bus.Subscribe(events.TopicPartialProfit, func(e events.Event) error {
		pe := e.(*events.PartialEvent)
		mu.Lock()
		levels = append(levels, pe.Level)
		mu.Unlock()
		return nil
	})

	base := time.Now().UTC()
	if _, err := m.Tick(context.Background(), base); err != nil {
		t.Fatalf("open Tick: %v", err)
	}

	exch.setPrice(decimal.NewFromInt(115))
	if _, err := m.Tick(context.Background(), base.Add(time.Minute)); err != nil {
		t.Fatalf("tick at +15%%: %v", err)
	}
	// Same bucket again: must not re-emit level 10.
	if _, err := m.Tick(context.Background(), base.Add(2*time.Minute)); err != nil {
		t.Fatalf("repeat tick at +15%%: %v", err)
	}
	exch.setPrice(decimal.NewFromInt(125))
	if _, err := m.Tick(context.Background(), base.Add(3*time.Minute)); err != nil {
		t.Fatalf("tick at +25%%: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(levels) != 2 {
		t.Fatalf("levels = %v, want exactly [10 20] with no duplicate emission", levels)
	}
	if levels[0] != 10 || levels[1] != 20 {
		t.Fatalf("levels = %v, want [10 20]", levels)
	}
}

func TestCrashRecoveryRehydratesPendingSignalFromPersistence(t *testing.T) {
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)
	mgr := persistence.NewManager(logger, dir)
	ctx := testMachineCtx()

	sig := domain.NewSignal("sig-crash", ctx, domain.Long,
		decimal.NewFromInt(100), decimal.NewFromInt(110), decimal.NewFromInt(95),
		60, false, time.Now().UTC().Add(-time.Minute).Truncate(time.Second))
	if err := mgr.SavePending(ctx, sig); err != nil {
		t.Fatalf("SavePending: %v", err)
	}

	exch := newFakeExchange(decimal.NewFromInt(105))
	strategy := strategycontract.AdapterFunc(func(_ context.Context, _ string, _ time.Time) (*strategycontract.SignalDTO, error) {
		t.Fatal("a recovered machine with a pending signal should not call getSignal")
		return nil, nil
	})
	bus := events.NewBus(logger, events.DefaultConfig())
	gate := risk.New("default", logger, bus, nil)
	m := signalmachine.New(ctx, testConfig(), logger, bus, mgr, exch, strategy, gate, false)

	if err := m.WaitForInit(); err != nil {
		t.Fatalf("WaitForInit: %v", err)
	}
	if !m.HasOpenSignal() {
		t.Fatal("HasOpenSignal should be true after recovering a persisted pending signal")
	}

	exch.setPrice(decimal.NewFromInt(111))
	result, err := m.Tick(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("Tick after recovery: %v", err)
	}
	if result.Action != signalmachine.ActionClosed {
		t.Fatalf("Action = %v, want Closed", result.Action)
	}

	loaded, err := mgr.LoadPending(ctx)
	if err != nil {
		t.Fatalf("LoadPending after close: %v", err)
	}
	if loaded != nil {
		t.Fatal("persisted pending signal should be cleared once the recovered signal closes")
	}
}
