package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"heatmap-tiles/internal/heatmap"
	"heatmap-tiles/internal/layer"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10

	wsWriteTimeout = 5 * time.Second
)

// TileReadyEvent tells clients that a tile was rendered and may be redrawn.
type TileReadyEvent struct {
	Scheme     string `json:"scheme"`
	Level      int    `json:"level"`
	Row        int    `json:"row"`
	Col        int    `json:"col"`
	Candidates int    `json:"candidates"`
	Empty      bool   `json:"empty"`
}

// wsClient tracks a WebSocket connection with its source IP
type wsClient struct {
	id   string
	conn *websocket.Conn
	ip   string
}

// WebSocketHub fans out redraw notifications to connected map clients
type WebSocketHub struct {
	clients    map[string]*wsClient
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan string
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	upgrader websocket.Upgrader

	// Connection limiting per client address
	conns   *ConnLimiter
	proxies TrustedProxies
}

// NewWebSocketHub creates a new hub. origins lists the allowed Origin patterns
// (see IsAllowedOrigin); nil allows any origin. proxies decides which
// forwarding headers count when limiting connections per client.
func NewWebSocketHub(origins []string, proxies TrustedProxies) *WebSocketHub {
	if origins == nil {
		origins = []string{"*"}
	}

	return &WebSocketHub{
		clients:    make(map[string]*wsClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan string),
		stop:       make(chan struct{}),
		conns:      NewConnLimiter(MaxWSConnectionsPerIP),
		proxies:    proxies,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if IsAllowedOrigin(origin, origins) {
					return true
				}

				log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
				RecordConnectionRejected("origin")
				return false
			},
		},
	}
}

// Run starts the hub and returns after Stop
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for id, client := range h.clients {
				client.conn.Close()
				h.conns.Release(client.ip)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			UpdateWSConnections(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Client %s connected from %s (%d total)", client.id, client.ip, count)
			UpdateWSConnections(count)

		case id := <-h.unregister:
			h.mu.Lock()
			if client, ok := h.clients[id]; ok {
				// Release the connection slot for this IP
				h.conns.Release(client.ip)
				delete(h.clients, id)
				client.conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Client %s disconnected (%d remaining)", id, count)
			UpdateWSConnections(count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
					client.conn.Close()
					h.conns.Release(client.ip)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
			IncrementWSMessages()
		}
	}
}

// Stop closes every connection and ends Run
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// Broadcast sends a message to all connected clients
func (h *WebSocketHub) Broadcast(event string, data interface{}) {
	msg := map[string]interface{}{
		"event": event,
		"data":  data,
	}

	jsonBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}

	select {
	case h.broadcast <- jsonBytes:
	default:
		// Channel full, skip (backpressure)
	}
}

// NotifyTileReady broadcasts a "tile:ready" event so clients can redraw the tile.
func (h *WebSocketHub) NotifyTileReady(scheme string, key layer.TileKey, tile *heatmap.Tile) {
	if h.ClientCount() == 0 {
		return
	}
	h.Broadcast("tile:ready", TileReadyEvent{
		Scheme:     scheme,
		Level:      key.Level,
		Row:        key.Row,
		Col:        key.Col,
		Candidates: tile.Candidates,
		Empty:      tile.Candidates == 0,
	})
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket handles incoming WebSocket connections with DoS protection
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := h.proxies.ClientIP(r)

	// Check total connection limit
	if total := h.ClientCount(); total >= MaxWSConnectionsTotal {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", total)
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	// Check per-IP connection limit
	if !h.conns.Acquire(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.conns.Release(ip) // Release the slot we reserved
		return
	}

	client := &wsClient{id: uuid.NewString(), conn: conn, ip: ip}

	// Greet before registering so this is the only writer
	hello, _ := json.Marshal(map[string]interface{}{
		"event": "hello",
		"data":  map[string]string{"clientId": client.id},
	})
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		conn.Close()
		h.conns.Release(ip)
		return
	}

	select {
	case h.register <- client:
	case <-h.stop:
		conn.Close()
		h.conns.Release(ip)
		return
	}

	// Clients only send keepalives; reading detects disconnects
	go func() {
		defer func() {
			select {
			case h.unregister <- client.id:
			case <-h.stop:
			}
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
