package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"veilchat/internal/model"
	"veilchat/internal/utils/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 * 1024
	// Close code telling the client to re-authenticate rather than retry.
	CloseAuthFailure = 4401
)

type (
	// Client is one live connection. Outbound frames go through a bounded
	// send buffer; a client that cannot drain is dropped so it never
	// backpressures the rest of a room.
	Client struct {
		ConnID   string
		DeviceID string
		UserID   string

		conn    *websocket.Conn
		send    chan []byte
		closing chan []byte
		rooms   map[string]bool
		roomsMu sync.RWMutex

		closeOnce sync.Once
		closed    chan struct{}
	}
)

func newClient(connID, deviceID, userID string, conn *websocket.Conn, sendBuffer int) *Client {
	return &Client{
		ConnID:   connID,
		DeviceID: deviceID,
		UserID:   userID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		closing:  make(chan []byte, 1),
		rooms:    make(map[string]bool),
		closed:   make(chan struct{}),
	}
}

func (c *Client) joinRoom(roomID string) {
	c.roomsMu.Lock()
	c.rooms[roomID] = true
	c.roomsMu.Unlock()
}

func (c *Client) leaveRoom(roomID string) {
	c.roomsMu.Lock()
	delete(c.rooms, roomID)
	c.roomsMu.Unlock()
}

func (c *Client) inRoom(roomID string) bool {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	return c.rooms[roomID]
}

func (c *Client) joinedRooms() []string {
	c.roomsMu.RLock()
	defer c.roomsMu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// enqueue hands a frame to the write pump. Returns false when the client's
// buffer is full or the client is closing; the caller drops the client.
func (c *Client) enqueue(f *model.Frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		log.Error("marshal frame failed", zap.String("type", f.Type), zap.Error(err))
		return true
	}
	select {
	case <-c.closed:
		return false
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// closeWith hands a close frame to the write pump, which owns all writes on
// the connection, and the pump shuts the client down after emitting it.
// Without a running pump (no live connection) the client shuts down here.
func (c *Client) closeWith(code int, reason string) {
	select {
	case c.closing <- websocket.FormatCloseMessage(code, reason):
	default:
	}
	if c.conn == nil {
		c.shutdown()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.closing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, msg)
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
