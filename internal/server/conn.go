package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/internal/util"
)

const (
	sendBufferSize = 64               // outbound message queue per client
	writeTimeout   = 10 * time.Second // per-frame write deadline
	readTimeout    = 60 * time.Second // idle read deadline, refreshed per frame
)

// clientConn is one accepted signaling WebSocket. Writes are funneled
// through a buffered channel drained by a single writer goroutine; the
// read pump lives in Server so it can route into the registry.
type clientConn struct {
	clientID  string
	sessionID string
	conn      *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClientConn(clientID, sessionID string, conn *websocket.Conn) *clientConn {
	return &clientConn{
		clientID:  clientID,
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
	}
}

// enqueue queues a frame for the writer. Frames are dropped rather than
// blocking the caller when the client cannot drain its queue.
func (c *clientConn) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		util.LogWarning("client %s: send queue full, dropping frame", c.clientID)
		return false
	}
}

// close shuts the connection down. Idempotent.
func (c *clientConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump is the single writer goroutine for this connection.
func (c *clientConn) writePump() {
	defer c.close()
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				util.LogDebug("client %s: write failed: %v", c.clientID, err)
				return
			}
			util.Stats.AddOut()
		case <-c.done:
			return
		}
	}
}
