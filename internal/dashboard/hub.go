package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmylchreest/rotarr/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 64
	commandBuffer  = 32
)

// message is the envelope for everything the hub pushes to clients.
type message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// client is one connected dashboard browser.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans state snapshots and log entries out to connected dashboard
// clients and collects inbound commands for the orchestrator. All client
// bookkeeping happens on the run goroutine.
type Hub struct {
	log        *slog.Logger
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	commands   chan Command
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:        log,
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		commands:   make(chan Command, commandBuffer),
	}
}

// Run owns the client set until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for c := range h.clients {
				_ = c.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(2*time.Second),
				)
				close(c.send)
				delete(h.clients, c)
			}
			metrics.DashboardClients.Set(0)
			h.log.Debug("dashboard hub stopped")
			return

		case c := <-h.register:
			h.clients[c] = true
			metrics.DashboardClients.Set(float64(len(h.clients)))
			h.log.Debug("dashboard client connected", slog.Int("total", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				metrics.DashboardClients.Set(float64(len(h.clients)))
				h.log.Debug("dashboard client disconnected", slog.Int("total", len(h.clients)))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			metrics.DashboardClients.Set(float64(len(h.clients)))
		}
	}
}

// Close stops the run loop and disconnects every client.
func (h *Hub) Close() {
	close(h.done)
}

// Broadcast sends a typed JSON message to every connected client. When no
// one is listening the marshal is skipped.
func (h *Hub) Broadcast(msgType string, data any) {
	payload, err := json.Marshal(message{Type: msgType, Data: data})
	if err != nil {
		h.log.Error("dashboard marshal failed", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		// Broadcast channel full, drop this update.
	}
}

// Commands returns the inbound command stream. The orchestrator drains it
// between ticks.
func (h *Hub) Commands() <-chan Command {
	return h.commands
}

// Enqueue queues a command as if it had arrived over the websocket. The
// REST command endpoint shares the queue so both paths behave identically.
// It reports whether the command was accepted.
func (h *Hub) Enqueue(cmd Command) bool {
	select {
	case h.commands <- cmd:
		return true
	default:
		h.log.Warn("dashboard command dropped, queue full", slog.String("command", cmd.Name))
		return false
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a websocket client. The welcome
// payloads, typically the current snapshot and the log backlog, are queued
// onto the new client before anything else.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, welcome ...message) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}
	for _, msg := range welcome {
		if payload, err := json.Marshal(msg); err == nil {
			c.send <- payload
		}
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.hub.log.Debug("ignoring malformed dashboard message",
				slog.String("error", err.Error()),
			)
			continue
		}
		c.hub.Enqueue(cmd)
	}
}
