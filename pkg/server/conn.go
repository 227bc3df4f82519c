package server

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/teslashibe/go-voicelink/pkg/protocol"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long a silent peer is tolerated
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// inboxSize bounds frames read ahead of the session loop.
	inboxSize = 32
)

// conn is one WebSocket connection. Send is safe for concurrent use.
type conn struct {
	ws    *websocket.Conn
	codec protocol.Codec

	mu     sync.Mutex
	closed bool
}

func newConn(ws *websocket.Conn, codec protocol.Codec) *conn {
	return &conn{ws: ws, codec: codec}
}

// Send encodes m with the connection codec and writes one frame.
func (c *conn) Send(m *protocol.Message) error {
	data, err := c.codec.Marshal(m)
	if err != nil {
		return err
	}
	kind := websocket.TextMessage
	if c.codec.Binary() {
		kind = websocket.BinaryMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(kind, data)
}

// Close sends a close frame and closes the socket. It is idempotent.
func (c *conn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	_ = c.ws.Close()
}

// readLoop forwards frames until the socket fails. The channel is closed on
// exit.
func (c *conn) readLoop(out chan<- []byte, done <-chan struct{}) error {
	defer close(out)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		select {
		case out <- data:
		case <-done:
			return nil
		}
	}
}

// keepalive pings the peer until done is closed or a ping fails.
func (c *conn) keepalive(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
