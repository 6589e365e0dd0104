// Package transport is the websocket edge of the realtime core: it
// authenticates clients, owns the per-connection read/write pumps, and
// dispatches inbound frames to the registry, relay, notifier and
// signaler.
package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gfurtadoalmeida/deskhub/internal/wire"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 64
)

// ErrSlowClient is returned by Deliver when the connection's outbound
// queue is full; the connection is closed rather than blocking the core.
var ErrSlowClient = errors.New("outbound queue full, dropping connection")

// Conn is one live websocket session for an authenticated identity. The
// write pump owns the socket exclusively; every outbound frame goes
// through the buffered send queue, which preserves delivery order per
// connection.
type Conn struct {
	transportID string
	claims      Claims
	ws          *websocket.Conn
	send        chan wire.Frame
	logger      *zap.Logger

	closeOnce sync.Once
	done      chan struct{}

	mu      sync.Mutex
	viewing string
}

func newConn(transportID string, claims Claims, ws *websocket.Conn, logger *zap.Logger) *Conn {
	return &Conn{
		transportID: transportID,
		claims:      claims,
		ws:          ws,
		send:        make(chan wire.Frame, sendQueueSize),
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// TransportID identifies this connection uniquely within the process.
func (c *Conn) TransportID() string { return c.transportID }

// IdentityID is the authenticated identity behind the connection.
func (c *Conn) IdentityID() string { return c.claims.IdentityID }

// Role is the identity's role claim (agent or customer).
func (c *Conn) Role() string { return c.claims.Role }

// ActiveConversation reports the conversation the client has open.
func (c *Conn) ActiveConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewing
}

// SetActiveConversation records the conversation the client has open.
func (c *Conn) SetActiveConversation(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewing = id
}

// Deliver enqueues a frame for the write pump. It never blocks: a full
// queue means the client cannot keep up, and the connection is closed so
// the disconnect cascade can run.
func (c *Conn) Deliver(frame wire.Frame) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn("slow client, closing connection",
			zap.String("identity", c.claims.IdentityID),
			zap.String("transport", c.transportID))
		c.close()
		return ErrSlowClient
	}
}

// close shuts the socket down once; the read pump then exits and runs
// the disconnect cascade.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump serializes all writes to the socket and keeps the connection
// alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
