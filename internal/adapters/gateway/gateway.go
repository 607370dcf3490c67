// Package gateway owns websocket connections: handshake authentication,
// read/write pumps, and the per-channel set of live connections.
package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/carelink/realtime/internal/auth"
	"github.com/carelink/realtime/internal/core"
)

// ChannelHandler is what a channel controller (chat, call) plugs into an
// endpoint.
type ChannelHandler interface {
	HandleConnect(ctx context.Context, c core.Conn)
	HandleFrame(ctx context.Context, c core.Conn, env core.Envelope)
	HandleDisconnect(ctx context.Context, c core.Conn)
}

// ConnSet tracks every live connection of one channel and implements
// core.Broadcaster for unscoped fan-out (presence changes).
type ConnSet struct {
	mu    sync.RWMutex
	conns map[core.ConnID]core.Conn
}

func NewConnSet() *ConnSet {
	return &ConnSet{conns: make(map[core.ConnID]core.Conn)}
}

func (s *ConnSet) Add(c core.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.ID()] = c
}

func (s *ConnSet) Remove(id core.ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

func (s *ConnSet) Get(id core.ConnID) (core.Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[id]
	return c, ok
}

func (s *ConnSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *ConnSet) BroadcastAll(event string, v any) {
	frame, err := core.Encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Str("event", event).Msg("encode broadcast")
		return
	}
	s.mu.RLock()
	conns := make([]core.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		_ = c.TrySend(frame)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Endpoint binds one websocket route to a channel controller behind the
// authentication gate.
type Endpoint struct {
	name     string
	verifier *auth.Verifier
	conns    *ConnSet
	handler  ChannelHandler

	readLimit int64
	sendBuf   int
}

func NewEndpoint(name string, verifier *auth.Verifier, conns *ConnSet, handler ChannelHandler, readLimit int64) *Endpoint {
	return &Endpoint{
		name:      name,
		verifier:  verifier,
		conns:     conns,
		handler:   handler,
		readLimit: readLimit,
		sendBuf:   32,
	}
}

// Handle upgrades, runs the gate, and starts the pumps. A failed gate sends
// the reason string and closes without allocating any state.
func (e *Endpoint) Handle(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", e.name).Msg("ws upgrade")
		return
	}
	if e.readLimit > 0 {
		ws.SetReadLimit(e.readLimit)
	}

	token := auth.BearerFromRequest(c.Request)
	identity, err := e.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		log.Warn().Err(err).Str("module", e.name).Msg("connection refused")
		e.refuse(ws, err.Error())
		return
	}

	conn := newConn(core.ConnID(uuid.NewString()), identity, ws, e.sendBuf)
	e.conns.Add(conn)
	log.Info().Str("module", e.name).Str("conn", string(conn.id)).Str("user", string(identity.UserID)).Msg("connection established")

	connCtx, cancel := context.WithCancel(ctx)
	e.handler.HandleConnect(connCtx, conn)

	go e.writePump(connCtx, conn)
	go func() {
		defer cancel()
		e.readPump(connCtx, conn)
	}()
}

func (e *Endpoint) refuse(ws *websocket.Conn, reason string) {
	frame, err := core.Encode("error", map[string]string{"error": reason})
	if err == nil {
		_ = ws.WriteMessage(websocket.TextMessage, frame)
	}
	_ = ws.Close()
}
