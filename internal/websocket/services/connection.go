package services

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wanderer-kills/internal/websocket/dto"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 45 * time.Second
	sendQueueDepth = 256
)

// Connection wraps one websocket client. A single write pump owns the socket;
// Push enqueues frames onto a bounded queue and reports a dead transport as
// an error so the subscription worker can terminate.
type Connection struct {
	ID   string
	conn *websocket.Conn

	send     chan dto.OutboundFrame
	done     chan struct{}
	doneOnce sync.Once

	createdAt time.Time
}

// NewConnection wraps an upgraded socket and starts its write pump.
func NewConnection(conn *websocket.Conn) *Connection {
	c := &Connection{
		ID:        uuid.NewString(),
		conn:      conn,
		send:      make(chan dto.OutboundFrame, sendQueueDepth),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	go c.writePump()
	return c
}

// Push enqueues an event for the client. Implements the subscription
// worker's Channel.
func (c *Connection) Push(event string, payload interface{}) error {
	select {
	case <-c.done:
		return fmt.Errorf("websocket connection %s closed", c.ID)
	default:
	}

	select {
	case c.send <- dto.OutboundFrame{Event: event, Payload: payload}:
		return nil
	case <-c.done:
		return fmt.Errorf("websocket connection %s closed", c.ID)
	}
}

// Done is closed when the transport dies. Implements Channel.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down. Safe to call more than once.
func (c *Connection) Close() {
	c.doneOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// ReadFrame blocks for the next inbound frame.
func (c *Connection) ReadFrame() (*dto.Frame, error) {
	var frame dto.Frame
	if err := c.conn.ReadJSON(&frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// writePump serializes all socket writes and keeps the connection alive with
// pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				slog.Debug("WebSocket write failed", "connection_id", c.ID, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// StartReadDeadlines configures the pong handler keeping the read side alive.
func (c *Connection) StartReadDeadlines() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}
