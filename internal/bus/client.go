package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// client is one observer connection. Writes go through a buffered send
// channel; a full buffer drops the frame instead of blocking broadcast.
type client struct {
	id   string
	bus  *Bus
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func newClient(b *Bus, conn *websocket.Conn) *client {
	return &client{
		id:   uuid.NewString(),
		bus:  b,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// run blocks until the connection drops.
func (c *client) run() {
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

func (c *client) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	_ = c.conn.Close()
}

func (c *client) readLoop() {
	c.conn.SetReadLimit(maxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.bus.logger.Debug("bad bus frame", "client", c.id, "error", err)
			continue
		}
		// Heartbeats also refresh the read deadline for clients that
		// never answer pings.
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.bus.handleInbound(c, f)
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (c *client) enqueueFrame(f frame) {
	data, err := marshalFrame(f)
	if err != nil {
		c.bus.logger.Warn("drop oversized bus frame", "type", f.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.bus.logger.Debug("bus client buffer full, dropping frame", "client", c.id, "type", f.Type)
	}
}
