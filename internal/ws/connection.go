// Package ws is the client side of the room websocket. It dials the chat
// backend with gobwas/ws, reads server text frames on a background goroutine
// and reports everything that happens on the connection as a sequence of
// Events.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrNotOpen is returned by Send before the handshake completes or after the
// connection has been closed.
var ErrNotOpen = errors.New("ws: connection not open")

// ClientConfig holds client tuning parameters.
type ClientConfig struct {
	DialTimeout  time.Duration // handshake timeout
	WriteTimeout time.Duration // per-frame write deadline
	PingInterval time.Duration // protocol-level keepalive; 0 disables
}

// DefaultClientConfig returns sensible defaults for a browser-like client.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// ClientDialer implements Dialer on top of gobwas/ws.
type ClientDialer struct {
	config ClientConfig
	dialer ws.Dialer
}

// NewClientDialer creates a dialer with the given configuration.
func NewClientDialer(config ClientConfig) *ClientDialer {
	return &ClientDialer{
		config: config,
		dialer: ws.Dialer{Timeout: config.DialTimeout},
	}
}

// Dial implements Dialer.
func (d *ClientDialer) Dial(target Target, handler func(Event)) Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		config: d.config,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(d.dialer, target, handler)
	return c
}

// Connection is a single client websocket. Writes are serialized by a mutex
// so keepalive pings never interleave with application frames.
type Connection struct {
	config    ClientConfig
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex // guards conn
	conn      net.Conn
	writeMu   sync.Mutex // serializes writes to conn
	done      chan struct{}
	closeOnce sync.Once
}

// Send writes one masked text frame.
func (c *Connection) Send(data []byte) error {
	conn := c.netConn()
	if conn == nil || c.isClosed() {
		return ErrNotOpen
	}
	return c.write(conn, ws.OpText, data)
}

// Close sends a normal-closure frame when the connection is open, then
// closes the socket. It is safe to call multiple times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		if conn := c.netConn(); conn != nil {
			body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
			_ = c.write(conn, ws.OpClose, body)
			err = conn.Close()
		}
	})
	return err
}

func (c *Connection) netConn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Connection) write(conn net.Conn, op ws.OpCode, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	return wsutil.WriteClientMessage(conn, op, data)
}

// run dials, reports the handshake and then reads frames until the
// connection ends. It emits exactly one EventClose.
func (c *Connection) run(dialer ws.Dialer, target Target, handler func(Event)) {
	url, err := target.URL()
	if err != nil {
		handler(Event{Kind: EventClose, Err: err})
		return
	}

	conn, br, _, err := dialer.Dial(c.ctx, url)
	if err != nil {
		if c.isClosed() {
			handler(Event{Kind: EventClose})
			return
		}
		handler(Event{Kind: EventClose, Err: fmt.Errorf("dial: %w", err)})
		return
	}

	c.mu.Lock()
	if c.isClosed() {
		// Close raced the handshake; nobody else will release this socket.
		c.mu.Unlock()
		conn.Close()
		handler(Event{Kind: EventClose})
		return
	}
	c.conn = conn
	c.mu.Unlock()

	// br is non-nil when the server wrote frames right after the handshake;
	// it wraps conn so reading from it drains the buffer first.
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	rw := struct {
		io.Reader
		io.Writer
	}{r, conn}

	handler(Event{Kind: EventOpen})

	stop := make(chan struct{})
	defer close(stop)
	if c.config.PingInterval > 0 {
		go c.keepalive(conn, stop)
	}

	for {
		data, err := wsutil.ReadServerText(rw)
		if err != nil {
			if c.isClosed() {
				handler(Event{Kind: EventClose})
				return
			}
			conn.Close()
			handler(Event{Kind: EventClose, Err: readError(err)})
			return
		}
		handler(Event{Kind: EventFrame, Data: data})
	}
}

// readError normalizes a server close frame into a plain error.
func readError(err error) error {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return fmt.Errorf("ws: closed by server: code=%d reason=%q", closed.Code, closed.Reason)
	}
	return fmt.Errorf("ws: read: %w", err)
}
