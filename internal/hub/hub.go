// Package hub fans score ticks out to websocket clients and accepts keypoint
// frames from them. Clients subscribe to one session or, with an empty id, to all.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lguibr/Mimeflow/internal/models"
	"github.com/lguibr/Mimeflow/internal/observability/logging"
	"github.com/lguibr/Mimeflow/internal/observability/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingEvery      = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

// ErrHubClosed is returned when publishing after Run has exited.
var ErrHubClosed = errors.New("hub is closed")

// FrameSink receives frames sent by websocket clients.
type FrameSink func(ctx context.Context, sessionID string, msg *models.FrameMessage) error

type client struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
}

type envelope struct {
	sessionID string
	payload   []byte
}

// Hub manages WebSocket connections.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan envelope
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex

	upgrader websocket.Upgrader
	ingest   FrameSink
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// New creates a hub. ingest may be nil, in which case incoming frames are rejected.
func New(ingest FrameSink, m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ingest:  ingest,
		metrics: m,
		log:     logging.WithComponent("hub"),
	}
}

// Run dispatches registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
				h.metrics.RecordHubClient(false)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.metrics.RecordHubClient(true)
			h.log.Debug().Str("sessionId", c.sessionID).Int("total", total).Msg("Client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.metrics.RecordHubClient(false)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Str("sessionId", c.sessionID).Int("total", total).Msg("Client disconnected")

		case ev := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.sessionID != "" && c.sessionID != ev.sessionID {
					continue
				}
				select {
				case c.send <- ev.payload:
				default:
					h.metrics.RecordTickDropped()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// PublishTick queues a tick for every subscribed client without blocking.
// Ticks are dropped when the hub is saturated.
func (h *Hub) PublishTick(ctx context.Context, tick models.ScoreTick) error {
	payload, err := json.Marshal(tick)
	if err != nil {
		return err
	}
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.broadcast <- envelope{sessionID: tick.SessionID, payload: payload}:
	default:
		h.metrics.RecordTickDropped()
	}
	return nil
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and subscribes the connection to sessionID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &client{conn: conn, sessionID: sessionID, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(r.Context(), c)
}

// writePump owns all writes to the connection.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes frames: JSON in text messages, CBOR in binary messages.
func (h *Hub) readPump(ctx context.Context, c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()
	ctx = context.WithoutCancel(ctx)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := decodeFrame(messageType, data)
		if err == nil {
			err = h.deliver(ctx, c, msg)
		}
		if err != nil {
			h.reply(c, map[string]string{"type": "error", "error": err.Error()})
		}
	}
}

func (h *Hub) deliver(ctx context.Context, c *client, msg *models.FrameMessage) error {
	if h.ingest == nil {
		return errors.New("frame ingest is not enabled")
	}
	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = c.sessionID
	}
	if sessionID == "" {
		return errors.New("frame has no sessionId")
	}
	return h.ingest(ctx, sessionID, msg)
}

func (h *Hub) reply(c *client, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func decodeFrame(messageType int, data []byte) (*models.FrameMessage, error) {
	var msg models.FrameMessage
	switch messageType {
	case websocket.TextMessage:
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
	case websocket.BinaryMessage:
		if err := cbor.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported message type")
	}
	return &msg, nil
}
