// Package websocket pushes per-user events (notifications, vote tallies, report reviews)
// to connected browsers.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	fiberws "github.com/gofiber/websocket/v2"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Message is the envelope of every frame sent to a client.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// frameConn is what the pumps need from either websocket implementation.
type frameConn interface {
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (int, []byte, error)
	Close() error
}

// Client is one open connection of a user. A user may hold several.
type Client struct {
	hub    *Hub
	conn   frameConn
	send   chan []byte
	userID uint
}

// Hub keeps the set of live clients keyed by user.
type Hub struct {
	clients    map[uint]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	stop       chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uint]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run processes registrations until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mutex.Lock()
			set, ok := h.clients[c.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[c.userID] = set
			}
			set[c] = struct{}{}
			h.mutex.Unlock()
			logrus.WithField("user_id", c.userID).Debug("websocket client connected")

		case c := <-h.unregister:
			h.remove(c)
			logrus.WithField("user_id", c.userID).Debug("websocket client disconnected")

		case <-h.stop:
			h.mutex.Lock()
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[uint]map[*Client]struct{})
			h.mutex.Unlock()
			return
		}
	}
}

// Stop closes every client and ends Run.
func (h *Hub) Stop() {
	close(h.stop)
}

func (h *Hub) remove(c *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
}

// BroadcastToUser sends message to every connection of userID. Slow clients are dropped.
func (h *Hub) BroadcastToUser(userID uint, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		logrus.WithError(err).Error("marshal websocket message")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
			h.removeLocked(c)
		}
	}
}

// BroadcastToUsers is a convenience for fan-out to a list of users.
func (h *Hub) BroadcastToUsers(userIDs []uint, message interface{}) {
	for _, id := range userIDs {
		h.BroadcastToUser(id, message)
	}
}

// GetClientCount returns the number of open connections.
func (h *Hub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// IsOnline reports whether the user holds at least one connection.
func (h *Hub) IsOnline(userID uint) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients[userID]) > 0
}

// ServeWS upgrades a plain net/http request. Used outside fiber and in tests.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID uint) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := h.attach(conn, userID)
	go c.writePump()
	go c.readPump()
}

// ServeFiberWS serves a connection accepted by the fiber websocket middleware. It blocks
// until the peer disconnects, as fiber closes the connection when the handler returns.
func (h *Hub) ServeFiberWS(conn *fiberws.Conn, userID uint) {
	c := h.attach(conn, userID)
	go c.writePump()
	c.readPump()
}

func (h *Hub) attach(conn frameConn, userID uint) *Client {
	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), userID: userID}
	select {
	case h.register <- c:
	case <-h.stop:
		close(c.send)
	}
	return c
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
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithField("user_id", c.userID).WithError(err).Debug("websocket write failed")
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

// readPump only drains control frames; clients never send data we act on.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("user_id", c.userID).WithError(err).Debug("websocket closed unexpectedly")
			}
			return
		}
	}
}
