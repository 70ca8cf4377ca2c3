package backtest_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/solstice-quant/signalengine/internal/backtest"
	"github.com/solstice-quant/signalengine/internal/config"
	"github.com/solstice-quant/signalengine/internal/domain"
	"github.com/solstice-quant/signalengine/internal/events"
	"github.com/solstice-quant/signalengine/internal/exchange"
	"github.com/solstice-quant/signalengine/internal/risk"
	"github.com/solstice-quant/signalengine/internal/signalmachine"
	"github.com/solstice-quant/signalengine/internal/strategycontract"
)

// flatThenSpikeExchange serves a flat price for every regular candle fetch,
// and a fixed fast-forward candle series (flat, then a spike crossing take
// profit partway through) regardless of the requested window.
type flatThenSpikeExchange struct {
	exchange.BaseAdapter
	flatPrice  decimal.Decimal
	ffCandles  []domain.Candle
}

func (f *flatThenSpikeExchange) GetCandles(_ context.Context, _, _ string, sinceTs time.Time, _ int, _ bool) ([]domain.Candle, error) {
	return []domain.Candle{{Timestamp: sinceTs, Open: f.flatPrice, High: f.flatPrice, Low: f.flatPrice, Close: f.flatPrice, Volume: decimal.Zero}}, nil
}

func (f *flatThenSpikeExchange) GetNextCandles(_ context.Context, _, _ string, _ time.Time, _ int, _ bool) ([]domain.Candle, error) {
	return f.ffCandles, nil
}

func testBacktestConfig() *config.Config {
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

// TestRunSkipsToTimeframeAfterSignalClose exercises the worked example from
// review: timeframes every 10 minutes, a signal opened at t=30 closes at
// t=37 inside a fast-forward window, and the next regularly-ticked
// timeframe must be t=50, not t=40 — the loop must land one index past the
// first timeframe at or after the close time, not on it.
func TestRunSkipsToTimeframeAfterSignalClose(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	frame := domain.NewFrame(domain.FrameSpec{
		Interval:  10 * time.Minute,
		StartDate: base,
		EndDate:   base.Add(100 * time.Minute),
	})

	var ffCandles []domain.Candle
	for m := 30; m <= 45; m++ {
		ts := base.Add(time.Duration(m) * time.Minute)
		price := decimal.NewFromInt(100)
		if m == 37 {
			price = decimal.NewFromInt(600)
		}
		ffCandles = append(ffCandles, domain.Candle{Timestamp: ts, Open: price, High: price, Low: price, Close: price, Volume: decimal.Zero})
	}
	exch := &flatThenSpikeExchange{flatPrice: decimal.NewFromInt(100), ffCandles: ffCandles}

	used := false
	strategy := strategycontract.AdapterFunc(func(_ context.Context, _ string, when time.Time) (*strategycontract.SignalDTO, error) {
		if used || !when.Equal(base.Add(30*time.Minute)) {
			return nil, nil
		}
		used = true
		return &strategycontract.SignalDTO{
			Direction:           domain.Long,
			PriceTakeProfit:     decimal.NewFromInt(115),
			PriceStopLoss:       decimal.NewFromInt(85),
			MinuteEstimatedTime: 600,
		}, nil
	})

	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger, events.DefaultConfig())
	gate := risk.New("default", logger, bus, nil)
	ctx := domain.Context{Symbol: "BTCUSDT", Strategy: "vwap", Exchange: "rest", Frame: "backtest"}
	machine := signalmachine.New(ctx, testBacktestConfig(), logger, bus, nil, exch, strategy, gate, true)

	var progressTimes []time.Time
	bus.Subscribe(events.TopicBacktestProgress, func(e events.Event) error {
		progressTimes = append(progressTimes, e.OccurredAt())
		return nil
	})

	orch := backtest.New(ctx, testBacktestConfig(), logger, bus, exch, machine, frame)
	cancel := make(chan struct{})
	var results []backtest.Result
	for r := range orch.Run(context.Background(), cancel) {
		results = append(results, r)
	}

	if len(results) != 1 {
		t.Fatalf("got %d terminal results, want 1", len(results))
	}
	if results[0].Tick.Action != signalmachine.ActionClosed {
		t.Fatalf("Action = %v, want Closed", results[0].Tick.Action)
	}
	wantClose := base.Add(37 * time.Minute)
	if !results[0].When.Equal(wantClose) {
		t.Fatalf("close time = %v, want %v", results[0].When, wantClose)
	}

	// progressTimes[0] is the 0% start event Run publishes before the loop;
	// progressTimes[1..3] are the idle ticks at t=0,10,20; the opening tick
	// at t=30 falls straight through to the fast-forward branch with no
	// progress emission of its own, so the next progress event is the first
	// regular tick to run after the skip-ahead — it must be t=50.
	if len(progressTimes) < 5 {
		t.Fatalf("got %d progress events, want at least 5", len(progressTimes))
	}
	want := base.Add(50 * time.Minute)
	if !progressTimes[4].Equal(want) {
		t.Fatalf("first post-close progress tick = %v, want %v (landed on t=40 would mean the off-by-one regressed)", progressTimes[4], want)
	}
}

func TestRunEmitsDoneEventAtFrameEnd(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	frame := domain.NewFrame(domain.FrameSpec{
		Interval:  time.Minute,
		StartDate: base,
		EndDate:   base.Add(2 * time.Minute),
	})
	exch := &flatThenSpikeExchange{flatPrice: decimal.NewFromInt(100)}
	strategy := strategycontract.AdapterFunc(func(_ context.Context, _ string, _ time.Time) (*strategycontract.SignalDTO, error) {
		return nil, nil
	})

	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger, events.DefaultConfig())
	gate := risk.New("default", logger, bus, nil)
	ctx := domain.Context{Symbol: "BTCUSDT", Strategy: "vwap", Exchange: "rest", Frame: "backtest"}
	machine := signalmachine.New(ctx, testBacktestConfig(), logger, bus, nil, exch, strategy, gate, true)

	done := make(chan struct{}, 1)
	bus.Subscribe(events.TopicBacktestDone, func(e events.Event) error {
		done <- struct{}{}
		return nil
	})

	orch := backtest.New(ctx, testBacktestConfig(), logger, bus, exch, machine, frame)
	for range orch.Run(context.Background(), make(chan struct{})) {
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for backtest.done event")
	}
}
