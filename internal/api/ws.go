package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/floodline/gaugewatch/internal/domain"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	// wsSendBuffer bounds how far a slow client may fall behind before
	// it is dropped. The pipeline never blocks on presentation.
	wsSendBuffer = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans fresh snapshots out to connected WebSocket clients. It is
// a snapshot sink: the scheduler delivers each fresh snapshot once.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

// Name identifies the sink in logs.
func (h *Hub) Name() string { return "websocket" }

// Store broadcasts the snapshot without blocking: clients whose
// buffers are full are disconnected.
func (h *Hub) Store(ctx context.Context, snap *domain.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			delete(h.clients, c)
			close(c.send)
			log.Debug().Msg("Dropped slow WebSocket client")
		}
	}
	return nil
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Used during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[*wsClient]struct{})
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// handleLive upgrades the connection, sends the latest snapshot, then
// streams every fresh one.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	if !s.hub.register(c) {
		conn.Close()
		return
	}

	// Seed the new client with the current state so it does not wait a
	// full interval for its first message.
	if res, ok := s.control.LastResult(); ok && res.Snapshot != nil {
		if payload, err := json.Marshal(res.Snapshot); err == nil {
			select {
			case c.send <- payload:
			default:
			}
		}
	}

	go c.writePump()
	go c.readPump(s.hub)
}

// writePump drains the send channel onto the wire and keeps the
// connection alive with pings. It exits when the channel closes.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the feed is one-way. It exists to
// notice disconnects and answer pings.
func (c *wsClient) readPump(h *Hub) {
	defer h.unregister(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
