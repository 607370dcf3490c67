// Package client multiplexes one live gateway connection across many
// consumers. Consumers acquire handles; the first handle dials, later ones
// reuse the socket, and the last release tears it down after a short grace
// window so rapid release/acquire cycles do not thrash the transport.
package client

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrReleased     = errors.New("handle already released")
)

// EventHandler receives the raw data payload of a server event.
type EventHandler func(data json.RawMessage)

type Config struct {
	// URL of the websocket endpoint, e.g. ws://host/api/ws/chat.
	URL string
	// Token supplies the handshake credential. An empty result delays the
	// dial until a credential is available.
	Token func() string

	// TeardownGrace is how long the connection outlives its last consumer.
	TeardownGrace time.Duration
	// TypingInterval is the minimum gap between typing=true signals.
	// typing=false always goes through so the indicator clears promptly.
	TypingInterval time.Duration
	// Backoff between reconnect attempts.
	Backoff time.Duration

	Dialer *websocket.Dialer
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.TeardownGrace <= 0 {
		out.TeardownGrace = 1500 * time.Millisecond
	}
	if out.TypingInterval <= 0 {
		out.TypingInterval = 2 * time.Second
	}
	if out.Backoff <= 0 {
		out.Backoff = time.Second
	}
	if out.Dialer == nil {
		out.Dialer = websocket.DefaultDialer
	}
	return out
}

type subscription struct {
	event string
	id    int
}

// Mux owns the single underlying connection and the shared per-event
// subscriber sets. Exactly one transport-level reader exists regardless of
// how many consumers are mounted.
type Mux struct {
	cfg Config

	mu       sync.Mutex
	refs     int
	sess     *session
	running  bool
	stop     chan struct{}
	teardown *time.Timer

	handlers map[string]map[int]EventHandler
	nextSub  int

	// currentRoom is re-joined automatically after a reconnect. One room is
	// tracked for the whole mux; concurrent multi-room resume is a known
	// limitation.
	currentRoom string
	lastTyping  time.Time

	nextID  int64
	pending map[int64]chan SendResult
}

func NewMux(cfg Config) *Mux {
	return &Mux{
		cfg:      cfg.withDefaults(),
		handlers: make(map[string]map[int]EventHandler),
		pending:  make(map[int64]chan SendResult),
	}
}

// Acquire registers a consumer. The first consumer starts the connection
// loop; an acquire within the teardown grace window cancels the pending
// close.
func (m *Mux) Acquire() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.teardown != nil {
		m.teardown.Stop()
		m.teardown = nil
	}
	m.refs++
	if !m.running {
		m.running = true
		m.stop = make(chan struct{})
		go m.run(m.stop)
	}
	return &Handle{mux: m}
}

func (m *Mux) release(subs []subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range subs {
		if set, ok := m.handlers[s.event]; ok {
			delete(set, s.id)
			if len(set) == 0 {
				delete(m.handlers, s.event)
			}
		}
	}

	m.refs--
	if m.refs > 0 {
		return
	}
	// Deferred teardown: re-checked in maybeClose so a remount within the
	// grace window keeps the socket.
	m.teardown = time.AfterFunc(m.cfg.TeardownGrace, m.maybeClose)
}

func (m *Mux) maybeClose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs > 0 {
		return
	}
	m.teardown = nil
	if m.running {
		close(m.stop)
		m.running = false
	}
	if m.sess != nil {
		m.sess.close()
		m.sess = nil
	}
	m.currentRoom = ""
	log.Debug().Str("module", "client").Msg("connection torn down")
}

// Connected reports whether the transport is currently up. This is the
// pre-flight check callers use before SendMessage; there is no send timeout.
func (m *Mux) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil
}

// Refs is exposed for introspection and tests.
func (m *Mux) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}

func (m *Mux) subscribe(event string, fn EventHandler) subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.handlers[event]
	if !ok {
		set = make(map[int]EventHandler)
		m.handlers[event] = set
	}
	m.nextSub++
	set[m.nextSub] = fn
	return subscription{event: event, id: m.nextSub}
}

func (m *Mux) dispatch(env envelope) {
	if env.Type == eventAck {
		m.resolveAck(env)
		return
	}
	m.mu.Lock()
	set := m.handlers[env.Type]
	fns := make([]EventHandler, 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(env.Data)
	}
}

// Handle is one consumer's view of the shared connection.
type Handle struct {
	mux *Mux

	mu       sync.Mutex
	subs     []subscription
	released bool
}

// On registers an event callback shared through the mux-wide subscriber
// set. The subscription dies with the handle.
func (h *Handle) On(event string, fn EventHandler) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	h.subs = append(h.subs, h.mux.subscribe(event, fn))
	return nil
}

// Release unregisters the consumer. Idempotent.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()

	h.mux.release(subs)
}

func (h *Handle) Connected() bool { return h.mux.Connected() }

func (h *Handle) JoinRoom(chatID string) error { return h.mux.JoinRoom(chatID) }

func (h *Handle) LeaveRoom(chatID string) error { return h.mux.LeaveRoom(chatID) }

func (h *Handle) SendMessage(p SendMessagePayload) (<-chan SendResult, error) {
	return h.mux.SendMessage(p)
}

func (h *Handle) SetTyping(roomID string, typing bool) error {
	return h.mux.SetTyping(roomID, typing)
}
