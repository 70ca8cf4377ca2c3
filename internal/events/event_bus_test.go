package events_test

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/solstice-quant/signalengine/internal/events"
)

func TestPublishDeliversOnlyToMatchingTopic(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t), events.DefaultConfig())

	var got []events.Event
	var mu sync.Mutex
	done := make(chan struct{}, 1)

	bus.Subscribe(events.TopicBreakeven, func(e events.Event) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	bus.Subscribe(events.TopicPartialProfit, func(e events.Event) error {
		t.Errorf("partial-profit subscriber should not receive a breakeven event")
		return nil
	})

	bus.Publish(events.NewBreakevenEvent("sig1", decimal.NewFromInt(1), time.Now().UTC()))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for breakeven subscriber")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
}

func TestSubscriberObservesEventsInPublishOrder(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t), events.DefaultConfig())

	const n = 200
	order := make([]int, 0, n)
	var mu sync.Mutex
	done := make(chan struct{})

	bus.Subscribe(events.TopicScheduledPing, func(e events.Event) error {
		pe := e.(*events.ScheduledPingEvent)
		idx, err := strconv.Atoi(pe.SignalID)
		if err != nil {
			t.Errorf("unexpected signal id %q: %v", pe.SignalID, err)
		}
		mu.Lock()
		order = append(order, idx)
		if len(order) == n {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	base := time.Now().UTC()
	for i := 0; i < n; i++ {
		bus.Publish(events.NewScheduledPingEvent(strconv.Itoa(i), base))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all events to drain")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d: events arrived out of publish order", i, v, i)
		}
	}
}

func TestUnsubscribeStopsFutureDelivery(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t), events.DefaultConfig())

	var count int
	var mu sync.Mutex
	sub := bus.Subscribe(events.TopicBreakeven, func(e events.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	bus.Publish(events.NewBreakevenEvent("sig1", decimal.NewFromInt(1), time.Now().UTC()))
	time.Sleep(50 * time.Millisecond)

	sub.Unsubscribe()
	bus.Publish(events.NewBreakevenEvent("sig1", decimal.NewFromInt(1), time.Now().UTC()))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("count = %d, want 1 (no delivery after Unsubscribe)", count)
	}
}

func TestStatsReflectPublished(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t), events.DefaultConfig())
	bus.Publish(events.NewScheduledPingEvent("sig1", time.Now().UTC()))
	bus.Publish(events.NewScheduledPingEvent("sig2", time.Now().UTC()))

	stats := bus.Stats()
	if stats.Published != 2 {
		t.Fatalf("Published = %d, want 2", stats.Published)
	}
}
