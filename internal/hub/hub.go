// Package hub fans typed events out to connected observer clients.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/scenewatch/internal/config"
	"github.com/your-org/scenewatch/internal/observability"
	"github.com/your-org/scenewatch/pkg/dto"
)

// StateProvider materializes the current state of a topic for late-joining
// subscribers.
type StateProvider interface {
	GetIncidentState(ctx context.Context, incidentID uuid.UUID) (any, error)
}

// Client is one connected observer. Events arrive on a buffered channel
// drained by a single transport writer, which gives per-client FIFO
// ordering for sequentially published events. Until the connect handshake
// completes, incoming events are parked so the baseline always precedes
// anything published mid-handshake.
type Client struct {
	id    string
	topic *uuid.UUID

	mu      sync.Mutex
	send    chan dto.Envelope
	pending []dto.Envelope
	ready   bool
	closed  bool
}

func (c *Client) ID() string { return c.id }

func (c *Client) Topic() *uuid.UUID { return c.topic }

// Events is the channel the transport writer drains. It is closed when the
// client is disconnected or evicted.
func (c *Client) Events() <-chan dto.Envelope { return c.send }

// trySend enqueues without blocking; false means the client has no room
// left and should be evicted. Before the handshake completes events are
// parked instead of sent, bounded by the same buffer size.
func (c *Client) trySend(env dto.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	if !c.ready {
		if len(c.pending) >= cap(c.send) {
			return false
		}
		c.pending = append(c.pending, env)
		return true
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// activate enqueues the handshake envelopes followed by everything parked
// while the baseline was being fetched, then switches the client to direct
// delivery. Returns false when the buffer cannot hold the backlog.
func (c *Client) activate(handshake ...dto.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	for _, env := range append(handshake, c.pending...) {
		select {
		case c.send <- env:
		default:
			return false
		}
	}
	c.pending = nil
	c.ready = true
	return true
}

// close is idempotent and serialized with trySend/activate, so a send can
// never race the channel close.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Hub maintains the set of connected observers and delivers published
// events: unscoped events to every client, topic-scoped events only to
// clients subscribed to that exact topic.
type Hub struct {
	state StateProvider
	cfg   config.HubConfig

	mu      sync.RWMutex
	clients map[*Client]bool
}

func NewHub(state StateProvider, cfg config.HubConfig) *Hub {
	return &Hub{
		state:   state,
		cfg:     cfg,
		clients: make(map[*Client]bool),
	}
}

// Connect registers an observer, optionally scoped to one incident topic.
// The client first receives a synthetic connected event; a topic-scoped
// client then receives exactly one currentState baseline. The client is
// registered before the baseline fetch and the fetch runs without the hub
// lock, so a slow store stalls only the joining client; events published
// meanwhile are parked and delivered after the baseline.
func (h *Hub) Connect(ctx context.Context, clientID string, topic *uuid.UUID) (*Client, error) {
	client := &Client{
		id:    clientID,
		topic: topic,
		send:  make(chan dto.Envelope, h.cfg.ClientBuffer),
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	handshake := []dto.Envelope{dto.Wrap(dto.ConnectedEvent{ClientID: clientID, IncidentID: topic})}
	if topic != nil {
		state, err := h.state.GetIncidentState(ctx, *topic)
		if err != nil {
			h.remove(client)
			return nil, fmt.Errorf("fetch topic state: %w", err)
		}
		raw, err := json.Marshal(state)
		if err != nil {
			h.remove(client)
			return nil, fmt.Errorf("marshal topic state: %w", err)
		}
		handshake = append(handshake, dto.Wrap(dto.CurrentStateEvent{IncidentID: *topic, State: raw}))
	}

	if !client.activate(handshake...) {
		h.remove(client)
		return nil, fmt.Errorf("client buffer exhausted during handshake")
	}

	observability.ObserverConnections.Inc()
	slog.Debug("observer connected", "client_id", clientID, "topic", topic)
	return client, nil
}

// remove unregisters a client that never finished its handshake.
func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.close()
}

// Disconnect removes the client and closes its event channel. Safe to call
// more than once.
func (h *Hub) Disconnect(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	h.mu.Unlock()
	client.close()

	observability.ObserverConnections.Dec()
	slog.Debug("observer disconnected", "client_id", client.id)
}

// Publish delivers the event to all matching clients. Fire-and-forget: a
// client whose buffer is full is evicted without affecting delivery to
// anyone else, and the publisher never learns of per-client failures.
func (h *Hub) Publish(ev dto.Event) {
	env := dto.Wrap(ev)
	topic := ev.Topic()

	var stale []*Client
	h.mu.RLock()
	for client := range h.clients {
		if topic != nil && (client.topic == nil || *client.topic != *topic) {
			continue
		}
		if !client.trySend(env) {
			stale = append(stale, client)
			continue
		}
		observability.EventsDelivered.WithLabelValues(env.Type).Inc()
	}
	h.mu.RUnlock()

	for _, client := range stale {
		slog.Warn("evicting slow observer", "client_id", client.id)
		h.Disconnect(client)
	}
}

// Run emits periodic keepalives to every client until the context is
// cancelled, then closes all remaining clients. Keepalives detect idle
// intermediary timeouts and do not count as delivered events.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.keepalive()
		}
	}
}

func (h *Hub) keepalive() {
	env := dto.Wrap(dto.KeepaliveEvent{})

	var stale []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !client.trySend(env) {
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stale {
		slog.Warn("evicting unresponsive observer", "client_id", client.id)
		h.Disconnect(client)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		client.close()
		observability.ObserverConnections.Dec()
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
