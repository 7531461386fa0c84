package ws

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection. Outbound
// frames go through a buffered queue drained by a dedicated writer
// goroutine, so a slow or blocked client never stalls the router's fan-out
// or delivery to other connections.
type Connection struct {
	ID        string    // connection ID (UUID)
	Conn      net.Conn  // underlying TCP connection
	Fd        int       // file descriptor for poller lookups
	CreatedAt time.Time // when the connection was established
	LastPing  time.Time // last successful read from the client

	userMu sync.Mutex
	userID string // fixed at announce time, empty before

	writeMu      sync.Mutex // serializes raw socket writes
	writeTimeout time.Duration
	outbound     chan []byte
	closed       chan struct{}
	closeOnce    sync.Once

	processing int32 // atomic flag: 0 = idle, 1 = being read
}

// newConnection creates a Connection and starts its writer goroutine.
func newConnection(id string, conn net.Conn, fd int, queueSize int, writeTimeout time.Duration) *Connection {
	c := &Connection{
		ID:           id,
		Conn:         conn,
		Fd:           fd,
		CreatedAt:    time.Now(),
		LastPing:     time.Now(),
		writeTimeout: writeTimeout,
		outbound:     make(chan []byte, queueSize),
		closed:       make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Bind fixes the connection's user identity. The first call wins; later
// calls succeed only if they name the same user (re-announce is a no-op).
func (c *Connection) Bind(userID string) bool {
	c.userMu.Lock()
	defer c.userMu.Unlock()
	if c.userID == "" {
		c.userID = userID
		return true
	}
	return c.userID == userID
}

// UserID returns the bound user identity, or "" if the connection has not
// announced yet.
func (c *Connection) UserID() string {
	c.userMu.Lock()
	defer c.userMu.Unlock()
	return c.userID
}

// Enqueue places a frame on the outbound queue without blocking. A full
// queue or a closed connection is reported as an error; the caller treats
// it as a delivery failure and moves on.
func (c *Connection) Enqueue(data []byte) error {
	select {
	case c.outbound <- data:
		return nil
	case <-c.closed:
		return fmt.Errorf("ws: connection %s is closed", c.ID)
	default:
		return fmt.Errorf("ws: outbound queue full for connection %s", c.ID)
	}
}

// writeLoop drains the outbound queue onto the socket. A write error closes
// the connection; the read path then notices and removes it.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.outbound:
			if err := c.writeFrame(data); err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// writeFrame sends a single WebSocket text frame. The write mutex keeps
// queue writes and heartbeat pings from interleaving frame bytes.
func (c *Connection) writeFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close shuts down the writer goroutine and closes the underlying network
// connection. Safe to call multiple times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.Conn.Close()
	})
	return err
}
