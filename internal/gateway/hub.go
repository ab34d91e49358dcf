// Package gateway pushes live trading signals to websocket clients.
//
// Every published value goes out on a channel ("signal:BTCUSDT") wrapped in
// an envelope carrying a global and a per-channel sequence number. Clients
// can filter by symbol and backfill gaps from a per-channel replay buffer.
package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// SignalChannel is the channel name for a symbol's signals.
func SignalChannel(symbol string) string {
	return "signal:" + strings.ToUpper(symbol)
}

// Hub manages websocket clients and fans out envelopes to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel replay buffers for gap backfill
	replayBufs map[string]*ReplayBuffer

	upgrader    websocket.Upgrader
	broadcaster *Broadcaster
	log         zerolog.Logger

	// OnClientCount is called under the hub lock with the client count
	// after every connect/disconnect (optional).
	OnClientCount func(n int)
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	h := &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log.With().Str("component", "gateway").Logger(),
	}
	h.broadcaster = NewBroadcaster(h)
	return h
}

// Publish marshals v and broadcasts it on channel.
func (h *Hub) Publish(channel string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.broadcaster.Broadcast(channel, data)
	return nil
}

// ServeHTTP upgrades the request to a websocket and registers the client.
// Query parameters: symbols=BTCUSDT,ETHUSDT limits the feed; last_ts
// (RFC3339Nano) skips initial state older than the client already has.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}
	client.setSymbols(splitSymbols(r.URL.Query().Get("symbols")))

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
	h.mu.Unlock()

	h.log.Info().Int("clients", count).Msg("ws client connected")

	client.sendInitialState(r.URL.Query().Get("last_ts"))
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
	h.mu.Unlock()

	h.log.Info().Int("clients", count).Msg("ws client disconnected")
}

// GetLatestAll returns a snapshot of the latest payload per channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// GetReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.RemoveClient(c)
	}
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
