package gateway

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chronicle/collab/internal/presence"
)

type connOptions struct {
	sendBuffer   int
	readLimit    int64
	pingInterval time.Duration
	writeTimeout time.Duration
}

// wsConn is the connection handle given to a room. Send never blocks: a
// client that cannot keep up with its buffer is disconnected.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	opts connOptions

	mu     sync.Mutex
	send   chan []byte
	closed bool
	done   chan struct{}
}

func newWSConn(id string, ws *websocket.Conn, opts connOptions) *wsConn {
	return &wsConn{
		id:   id,
		ws:   ws,
		opts: opts,
		send: make(chan []byte, opts.sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return presence.ErrConnClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.closeLocked()
		return presence.ErrSendBufferFull
	}
}

// Close stops accepting messages. Already queued messages are still written
// before the close frame.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *wsConn) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *wsConn) pongWait() time.Duration {
	return c.opts.pingInterval * 2
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.opts.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("gateway: write conn=%s: %v", c.id, err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump hands every text frame to handle until the socket fails or closes.
func (c *wsConn) readPump(handle func([]byte)) {
	c.ws.SetReadLimit(c.opts.readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Printf("gateway: read conn=%s: %v", c.id, err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		handle(data)
	}
}
