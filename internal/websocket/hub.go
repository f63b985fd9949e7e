// Package websocket pushes live state snapshots to connected dashboards.
package websocket

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Message is the envelope for every frame sent to clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Client is a single websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans state updates out to all connected clients.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	allowedOrigins []string
	initialState   func() interface{}
}

// NewHub creates a hub. Run must be called before registering clients.
func NewHub(initialState func() interface{}) *Hub {
	return &Hub{
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		broadcast:    make(chan []byte, 16),
		initialState: initialState,
	}
}

// SetInitialState sets the snapshot getter sent to newly connected clients.
func (h *Hub) SetInitialState(fn func() interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initialState = fn
}

// SetAllowedOrigins configures origin patterns for the upgrade check.
// Patterns support * wildcards, e.g. "https://*.example.com".
func (h *Hub) SetAllowedOrigins(origins []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allowedOrigins = origins
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	// Same-host connections are always allowed.
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}

	h.mu.RLock()
	patterns := h.allowedOrigins
	h.mu.RUnlock()

	for _, pattern := range patterns {
		if pattern == "*" {
			return true
		}
		if wildcard.Match(pattern, origin) || wildcard.Match(pattern, u.Host) {
			return true
		}
	}

	log.Warn().Str("origin", origin).Str("host", r.Host).Msg("Rejected websocket origin")
	return false
}

// Run processes register, unregister and broadcast events until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Debug().Int("clients", count).Msg("Websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Debug().Int("clients", count).Msg("Websocket client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer, drop the frame rather than block the hub.
				}
			}
			h.mu.RUnlock()

		case <-stop:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastState sends a state snapshot to every connected client.
func (h *Hub) BroadcastState(state interface{}) {
	h.broadcastMessage(Message{Type: "rawData", Data: state})
}

func (h *Hub) broadcastMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal websocket message")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Warn().Msg("Websocket broadcast queue full, dropping frame")
	}
}

// ServeWS upgrades the request and attaches the connection to the hub.
// Authentication must be enforced by middleware before this is reached.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register <- client

	h.mu.RLock()
	initialState := h.initialState
	h.mu.RUnlock()

	// Send the current state immediately so new clients do not wait for
	// the next poll cycle.
	if initialState != nil {
		if state := initialState(); state != nil {
			if data, err := json.Marshal(Message{Type: "initialState", Data: state}); err == nil {
				select {
				case client.send <- data:
				default:
				}
			}
		}
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("Websocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Msg("Ignoring malformed websocket message")
			continue
		}

		switch msg.Type {
		case "ping":
			c.reply(Message{Type: "pong", Data: map[string]int64{"timestamp": time.Now().Unix()}})
		case "requestData":
			c.hub.mu.RLock()
			getState := c.hub.initialState
			c.hub.mu.RUnlock()
			if getState != nil {
				c.reply(Message{Type: "rawData", Data: getState()})
			}
		default:
			log.Debug().Str("type", msg.Type).Msg("Unknown websocket message type")
		}
	}
}

func (c *Client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal websocket reply")
		return
	}
	select {
	case c.send <- data:
	default:
		// Slow consumer, drop the reply rather than block the read loop.
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
