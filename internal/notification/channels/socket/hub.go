// Package socket pushes order events to connected Server-Sent Events clients.
// With Redis configured, events travel over pub/sub so every instance's
// clients see every event.
package socket

import (
	"log/slog"
	"sync"

	"partnerhub/internal/notification/metrics"
)

const (
	defaultReplaySize   = 256
	defaultClientBuffer = 32
)

// Frame is one pushed event. Seq is assigned by the local hub and is what
// clients send back as Last-Event-ID.
type Frame struct {
	Seq         uint64
	EventType   string
	AffiliateID string
	Data        []byte
}

type client struct {
	affiliateID string
	frames      chan Frame
}

func (c *client) wants(f Frame) bool {
	return c.affiliateID == "" || c.affiliateID == f.AffiliateID
}

// Hub fans frames out to subscribed clients. A client whose buffer is full is
// disconnected and can resume from the replay ring.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	seq     uint64
	replay  *ring
	buffer  int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type HubOption func(*Hub)

func WithReplaySize(n int) HubOption {
	return func(h *Hub) {
		h.replay = newRing(n)
	}
}

func WithClientBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients: make(map[*client]struct{}),
		replay:  newRing(defaultReplaySize),
		buffer:  defaultClientBuffer,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Broadcast stamps the frame with the next sequence number, stores it for
// replay and hands it to every interested client.
func (h *Hub) Broadcast(f Frame) Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	f.Seq = h.seq
	h.replay.push(f)
	for c := range h.clients {
		if !c.wants(f) {
			continue
		}
		select {
		case c.frames <- f:
		default:
			h.logger.Warn("socket client too slow, disconnecting", "affiliate_id", c.affiliateID)
			h.dropLocked(c)
		}
	}
	return f
}

// subscribe registers a client and returns the frames it missed after
// lastSeq. Registration and replay happen under one lock so no frame is lost
// or delivered twice.
func (h *Hub) subscribe(affiliateID string, lastSeq uint64) (*client, []Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &client{affiliateID: affiliateID, frames: make(chan Frame, h.buffer)}
	h.clients[c] = struct{}{}
	if h.metrics != nil {
		h.metrics.SocketClients.Inc()
	}
	var missed []Frame
	if lastSeq > 0 {
		for _, f := range h.replay.since(lastSeq) {
			if c.wants(f) {
				missed = append(missed, f)
			}
		}
	}
	return c, missed
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.frames)
	if h.metrics != nil {
		h.metrics.SocketClients.Dec()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
	}
}
