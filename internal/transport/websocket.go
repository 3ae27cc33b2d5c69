package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sam-hudson02/wallsync-client/internal/logging"
)

const (
	writeWait = 10 * time.Second
	// Payload frames carry whole base64 images.
	maxMessageSize = 64 << 20
)

// WebSocket dials relay connections with gorilla/websocket.
type WebSocket struct {
	dialer *websocket.Dialer
}

// NewWebSocket creates a dialer. handshakeTimeout bounds the HTTP upgrade.
func NewWebSocket(handshakeTimeout time.Duration) *WebSocket {
	return &WebSocket{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Dial starts connecting to url in the background.
func (w *WebSocket) Dial(url string, sink chan<- Event) (Conn, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		id:     NextID(),
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
	}
	go c.run(w.dialer, url)
	return c, nil
}

type wsConn struct {
	id     uint64
	sink   chan<- Event
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (c *wsConn) ID() uint64 {
	return c.id
}

// post delivers ev unless the connection has been closed.
func (c *wsConn) post(ev Event) bool {
	ev.Conn = c.id
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.sink <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *wsConn) run(dialer *websocket.Dialer, url string) {
	conn, resp, err := dialer.DialContext(c.ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.post(Event{Type: EventError, Err: fmt.Errorf("dial %s: %w", url, err)})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	if !c.post(Event{Type: EventOpen}) {
		return
	}
	c.readPump(conn)
}

func (c *wsConn) readPump(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.post(Event{Type: EventClose})
				return
			}
			c.post(Event{Type: EventError, Err: err})
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if !c.post(Event{Type: EventMessage, Data: string(data)}) {
			return
		}
	}
}

func (c *wsConn) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return ErrNotOpen
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	if c.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil &&
		!errors.Is(err, websocket.ErrCloseSent) {
		logging.Debug("close handshake failed", logging.Err(err))
	}
	return c.conn.Close()
}
