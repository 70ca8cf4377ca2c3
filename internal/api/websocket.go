// Package api exposes the running engine's event stream over HTTP.
package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/solstice-quant/signalengine/internal/events"
)

// wsMessage is the envelope every event is broadcast as.
type wsMessage struct {
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// client is one WebSocket connection subscribed to the event hub.
type client struct {
	id   string
	hub  *hub
	conn *websocket.Conn
	send chan []byte
}

// hub fans events.Bus publications out to every connected WebSocket client.
// Every event is broadcast rather than routed per-topic per-client, since
// the signal engine's event volume is a few per tick rather than per-tick
// order book updates.
type hub struct {
	logger     *zap.Logger
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		logger:     logger,
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// run drives the hub until stop is closed.
func (h *hub) run(stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()

		case <-ticker.C:
			h.broadcastRaw(wsMessage{Topic: "heartbeat", Timestamp: time.Now().UnixMilli()})

		case <-stop:
			return
		}
	}
}

// broadcastTopics lists every topic the hub mirrors to WebSocket clients.
var broadcastTopics = []events.Topic{
	events.TopicSignal, events.TopicPartialProfit, events.TopicPartialLoss,
	events.TopicBreakeven, events.TopicRiskRejection, events.TopicScheduledPing,
	events.TopicBacktestProgress, events.TopicBacktestDone, events.TopicLiveDone,
	events.TopicPerformance, events.TopicError, events.TopicFatal, events.TopicValidation,
}

// subscribeBus forwards every event.Bus publication on broadcastTopics to
// connected clients, grounded on events.Bus's callback-based Subscribe.
func (h *hub) subscribeBus(bus *events.Bus) []*events.Subscription {
	subs := make([]*events.Subscription, 0, len(broadcastTopics))
	for _, topic := range broadcastTopics {
		subs = append(subs, bus.Subscribe(topic, func(evt events.Event) error {
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.Warn("failed to marshal event", zap.Error(err))
				return err
			}
			h.broadcastRaw(wsMessage{Topic: string(evt.Topic()), Data: data, Timestamp: evt.OccurredAt().UnixMilli()})
			return nil
		}))
	}
	return subs
}

func (h *hub) broadcastRaw(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal websocket message", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func newClient(id string, h *hub, conn *websocket.Conn) *client {
	return &client{id: id, hub: h, conn: conn, send: make(chan []byte, 256)}
}

// readPump drains (and discards) client frames, just enough to notice
// disconnects; this server doesn't accept client commands.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
