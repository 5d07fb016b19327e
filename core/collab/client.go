package collab

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"echonote/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	// Inbound frames carry whole note bodies as content snapshots.
	// Connections sending a snapshot beyond this cap are closed.
	maxMessageSize = 1 << 20
	sendBufferSize = 256
)

// Client is one websocket connection to the sync endpoint. The client
// pointer itself is the connection identity used for sender exclusion.
type Client struct {
	ID       string
	UserID   string
	Username string

	hub  *NoteHub
	conn *websocket.Conn

	Send chan []byte

	mu     sync.RWMutex
	closed bool
}

// NewClient wraps a websocket connection.
func NewClient(hub *NoteHub, conn *websocket.Conn, userID, username string) *Client {
	return &Client{
		ID:       uuid.New().String(),
		UserID:   userID,
		Username: username,
		hub:      hub,
		conn:     conn,
		Send:     make(chan []byte, sendBufferSize),
	}
}

// send queues a message for delivery, dropping it if the connection is
// closed or the buffer is full.
func (c *Client) send(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// closeSend marks the client closed and closes the send channel.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// SendMessage marshals and queues a message for the client.
func (c *Client) SendMessage(msg *WSMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.send(data)
}

// ReadPump reads messages from the connection and dispatches them to the
// handler. On any read error the connection's memberships are cleaned up.
func (c *Client) ReadPump(ctx context.Context, handler func(ctx context.Context, client *Client, msg *WSMessage)) {
	defer func() {
		c.hub.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Warn("websocket read error",
						logger.ErrorField(err),
						logger.String("conn", c.ID))
				}
				return
			}

			var msg WSMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				logger.Warn("invalid sync message",
					logger.ErrorField(err),
					logger.String("conn", c.ID))
				continue
			}

			if msg.Type == MsgTypePing {
				c.SendMessage(&WSMessage{Type: MsgTypePong})
				continue
			}

			handler(ctx, c, &msg)
		}
	}
}

// WritePump writes queued messages to the connection and keeps it alive
// with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain anything already queued into the same frame batch.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
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
