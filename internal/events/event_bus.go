// Package events provides the signal engine's typed pub/sub bus.
//
// Dispatching every async subscriber on its own goroutine from a shared
// worker pool lets two events for the same topic race past a single
// subscriber out of order. A subscriber must instead observe the events on
// any one topic in the order they were published, so every Subscription
// owns a single-worker FIFO queue instead of sharing a pool.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Topic names the channel an event is published on.
type Topic string

const (
	// Signal lifecycle. TopicSignal carries every signal event regardless
	// of origin; TopicSignalLive and TopicSignalBacktest carry the subset
	// from their respective orchestrator.
	TopicSignal         Topic = "signal"
	TopicSignalLive     Topic = "signal.live"
	TopicSignalBacktest Topic = "signal.backtest"

	TopicPartialProfit Topic = "partial.profit"
	TopicPartialLoss   Topic = "partial.loss"
	TopicBreakeven     Topic = "breakeven"
	TopicRiskRejection Topic = "risk.rejection"
	TopicScheduledPing Topic = "scheduled.ping"

	TopicBacktestProgress Topic = "backtest.progress"
	TopicBacktestDone     Topic = "backtest.done"
	TopicLiveDone         Topic = "live.done"

	TopicPerformance Topic = "performance"

	// Error taxonomy buses: recoverable errors, fatal errors that terminate a
	// background loop, and signal/risk validation rejections.
	TopicError      Topic = "error"
	TopicFatal      Topic = "exit"
	TopicValidation Topic = "validation"
)

// Event is the minimal contract every published value satisfies.
type Event interface {
	Topic() Topic
	OccurredAt() time.Time
}

// Base embeds into every concrete event type.
type Base struct {
	T  Topic     `json:"topic"`
	At time.Time `json:"at"`
}

func (b Base) Topic() Topic          { return b.T }
func (b Base) OccurredAt() time.Time { return b.At }

// NewBase builds a Base for topic t, stamped at the given time.
func NewBase(t Topic, at time.Time) Base {
	return Base{T: t, At: at}
}

// Handler processes one event. An error is logged, not propagated.
type Handler func(Event) error

const defaultQueueSize = 4096

// Subscription is a live registration on one topic, backed by its own
// single-worker queue so its callback executes sequentially.
type Subscription struct {
	id      string
	topic   Topic
	handler Handler

	queue  chan Event
	active atomic.Bool
	done   chan struct{}
}

func (s *Subscription) run(bus *Bus) {
	defer close(s.done)
	for event := range s.queue {
		if !s.active.Load() {
			continue
		}
		bus.dispatch(s, event)
	}
}

// Unsubscribe stops delivering events to this subscription. Already-queued
// events still drain, but the handler is no longer invoked for them.
func (s *Subscription) Unsubscribe() {
	s.active.Store(false)
}

// Stats reports the bus's running publish/process/drop/error counters.
type Stats struct {
	Published int64
	Processed int64
	Dropped   int64
	Errors    int64
}

// Bus is the central event router. Subscriptions are FIFO per-subscriber;
// publication itself never blocks the producer beyond enqueueing onto each
// subscriber's bounded queue. A full queue drops the event rather than
// blocking the publisher.
type Bus struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[Topic][]*Subscription

	published atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
	errors    atomic.Int64

	idSeq atomic.Int64

	queueSize int

	promPublished *prometheus.CounterVec
	promDropped   *prometheus.CounterVec
	promLatency   prometheus.Histogram
}

// Config configures the bus. QueueSize bounds each subscriber's FIFO
// channel.
type Config struct {
	QueueSize int
	Registry  prometheus.Registerer
}

// DefaultConfig returns sane defaults sized for per-subscriber queues rather
// than one shared channel.
func DefaultConfig() Config {
	return Config{QueueSize: defaultQueueSize}
}

// NewBus creates an event bus. If cfg.Registry is non-nil, Prometheus
// counters/histograms are registered there.
func NewBus(logger *zap.Logger, cfg Config) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	b := &Bus{
		logger:    logger.Named("events"),
		subs:      make(map[Topic][]*Subscription),
		queueSize: cfg.QueueSize,
	}
	if cfg.Registry != nil {
		b.promPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_events_published_total",
			Help: "Events published to the bus, by topic.",
		}, []string{"topic"})
		b.promDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_events_dropped_total",
			Help: "Events dropped because a subscriber queue was full, by topic.",
		}, []string{"topic"})
		b.promLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_event_handler_latency_seconds",
			Help:    "Event handler processing latency.",
			Buckets: prometheus.DefBuckets,
		})
		cfg.Registry.MustRegister(b.promPublished, b.promDropped, b.promLatency)
	}
	return b
}

// Subscribe registers handler on topic.
func (b *Bus) Subscribe(topic Topic, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		id:      b.nextID(),
		topic:   topic,
		handler: handler,
		queue:   make(chan Event, b.queueSize),
		done:    make(chan struct{}),
	}
	sub.active.Store(true)
	b.subs[topic] = append(b.subs[topic], sub)
	go sub.run(b)
	return sub
}

func (b *Bus) nextID() string {
	n := b.idSeq.Add(1)
	return "sub_" + time.Now().UTC().Format("20060102150405") + "_" + itoa(n)
}

// Publish delivers event to every subscriber on its topic. Delivery onto
// each subscriber's queue is non-blocking; a full queue drops the event for
// that subscriber only.
func (b *Bus) Publish(event Event) {
	b.published.Add(1)
	topic := event.Topic()
	if b.promPublished != nil {
		b.promPublished.WithLabelValues(string(topic)).Inc()
	}

	b.mu.RLock()
	subs := append([]*Subscription(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			b.dropped.Add(1)
			if b.promDropped != nil {
				b.promDropped.WithLabelValues(string(topic)).Inc()
			}
			b.logger.Warn("event dropped: subscriber queue full",
				zap.String("topic", string(topic)))
		}
	}
}

func (b *Bus) dispatch(sub *Subscription, event Event) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b.errors.Add(1)
			b.logger.Error("event handler panic",
				zap.String("topic", string(event.Topic())),
				zap.Any("panic", r))
		}
		if b.promLatency != nil {
			b.promLatency.Observe(time.Since(start).Seconds())
		}
	}()

	if err := sub.handler(event); err != nil {
		b.errors.Add(1)
		b.logger.Warn("event handler error",
			zap.String("topic", string(event.Topic())),
			zap.Error(err))
	}
	b.processed.Add(1)
}

// Stats returns a point-in-time snapshot of bus counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Processed: b.processed.Load(),
		Dropped:   b.dropped.Load(),
		Errors:    b.errors.Load(),
	}
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
