package ws

import (
	"log"
	"net"
	"time"

	"github.com/gobwas/ws"
)

// keepalive periodically sends protocol-level ping frames (opcode 0x9). A
// failed ping closes the socket, which ends the read loop with an error. It
// exits when the connection is closed or the read loop stops.
func (c *Connection) keepalive(conn net.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := c.WritePing(); err != nil {
				if c.isClosed() {
					return
				}
				log.Printf("[ws] keepalive ping failed: %v", err)
				conn.Close()
				return
			}
		}
	}
}

// WritePing sends a masked ping frame on the connection. The write mutex
// ensures this does not interleave with other outbound frames.
func (c *Connection) WritePing() error {
	conn := c.netConn()
	if conn == nil {
		return ErrNotOpen
	}
	return c.write(conn, ws.OpPing, nil)
}
