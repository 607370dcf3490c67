package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carelink/realtime/internal/core"
	"github.com/carelink/realtime/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Conn is one authenticated websocket. Ephemeral: created after the
// handshake gate passes, destroyed on disconnect.
type Conn struct {
	id            core.ConnID
	identity      domain.Identity
	establishedAt time.Time

	ws   *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newConn(id core.ConnID, identity domain.Identity, ws *websocket.Conn, sendBuf int) *Conn {
	return &Conn{
		id:            id,
		identity:      identity,
		establishedAt: time.Now(),
		ws:            ws,
		send:          make(chan core.Frame, sendBuf),
	}
}

func (c *Conn) ID() core.ConnID           { return c.id }
func (c *Conn) Identity() domain.Identity { return c.identity }
func (c *Conn) EstablishedAt() time.Time  { return c.establishedAt }

// TrySend queues a frame without blocking; a full send buffer drops the
// frame and reports backpressure.
func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
	c.mu.Unlock()
}
