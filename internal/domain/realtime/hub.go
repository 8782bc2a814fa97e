package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketdash/internal/domain/reconcile"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4 * 1024
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Follower keeps the change feed for a booking subscribed while held.
type Follower interface {
	Follow(bookingID int64) (release func())
}

type connection struct {
	userID    int64
	bookingID int64
	conn      *websocket.Conn
	send      chan []byte
}

// Hub fans reconciled views out to every websocket session watching the
// same booking. A slow session drops frames; the next view supersedes them.
type Hub struct {
	follower Follower
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[int64]map[*connection]bool
	releases map[int64]func()
}

func NewHub(follower Follower, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		follower: follower,
		logger:   logger,
		sessions: make(map[int64]map[*connection]bool),
		releases: make(map[int64]func()),
	}
}

// Sessions reports how many sessions watch bookingID.
func (h *Hub) Sessions(bookingID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[bookingID])
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[c.bookingID]
	if !ok {
		set = make(map[*connection]bool)
		h.sessions[c.bookingID] = set
		if h.follower != nil {
			h.releases[c.bookingID] = h.follower.Follow(c.bookingID)
		}
	}
	set[c] = true
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[c.bookingID]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.sessions, c.bookingID)
		if release, ok := h.releases[c.bookingID]; ok {
			release()
			delete(h.releases, c.bookingID)
		}
	}
}

// Broadcast is registered as a controller listener.
func (h *Hub) Broadcast(v reconcile.View) {
	data, err := json.Marshal(NewViewEvent(v))
	if err != nil {
		h.logger.Warn("view marshal failed", zap.Int64("booking_id", v.BookingID), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.sessions[v.BookingID] {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("session too slow, view dropped",
				zap.Int64("booking_id", v.BookingID),
				zap.Int64("user_id", c.userID),
			)
		}
	}
}

// ServeWS registers conn for bookingID, sends initial if present and blocks
// until the client goes away.
func (h *Hub) ServeWS(conn *websocket.Conn, userID, bookingID int64, initial *reconcile.View) {
	c := &connection{
		userID:    userID,
		bookingID: bookingID,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
	}
	if initial != nil {
		if data, err := json.Marshal(NewViewEvent(*initial)); err == nil {
			c.send <- data
		}
	}

	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *connection) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed", zap.Int64("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.reply(c, NewErrorEvent("INVALID_JSON", "Failed to parse message"))
			continue
		}
		switch msg.Type {
		case "ping":
			h.reply(c, NewPongEvent())
		default:
			h.reply(c, NewErrorEvent("UNKNOWN_TYPE", "Unknown message type: "+msg.Type))
		}
	}
}

func (h *Hub) reply(c *connection, ev *ServerMessage) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.sessions[c.bookingID][c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *Hub) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
