package client

import (
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	eventAck      = "ack"
	eventJoinRoom = "join_room"
)

type envelope struct {
	Type string          `json:"type"`
	ID   int64           `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// session wraps one live socket. Writes are serialized; the read loop is
// owned by Mux.run.
type session struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (s *session) write(env envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.ws.WriteJSON(env)
}

func (s *session) close() { _ = s.ws.Close() }

// run is the connection loop: dial, resume, read until failure, retry. It
// exits when the mux is torn down.
func (m *Mux) run(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		token := ""
		if m.cfg.Token != nil {
			token = m.cfg.Token()
		}
		if token == "" {
			// No credential yet: the connection is constructed lazily once
			// one is available.
			if !m.sleep(stop) {
				return
			}
			continue
		}

		ws, _, err := m.cfg.Dialer.Dial(m.dialURL(token), nil)
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("dial failed")
			if !m.sleep(stop) {
				return
			}
			continue
		}

		sess := &session{ws: ws}
		m.mu.Lock()
		m.sess = sess
		room := m.currentRoom
		m.mu.Unlock()
		log.Info().Str("module", "client").Msg("connected")

		// Resume: re-issue join for the tracked room without caller action.
		if room != "" {
			if err := sess.write(envelope{Type: eventJoinRoom, Data: mustJSON(map[string]string{"chatId": room})}); err != nil {
				log.Warn().Err(err).Str("module", "client").Msg("resume join failed")
			}
		}

		m.readLoop(sess)

		m.mu.Lock()
		if m.sess == sess {
			m.sess = nil
		}
		m.failPendingLocked()
		m.mu.Unlock()
		sess.close()

		select {
		case <-stop:
			return
		default:
			if !m.sleep(stop) {
				return
			}
		}
	}
}

func (m *Mux) readLoop(sess *session) {
	for {
		_, data, err := sess.ws.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "client").Msg("read loop ended")
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad frame")
			continue
		}
		m.dispatch(env)
	}
}

func (m *Mux) sleep(stop chan struct{}) bool {
	select {
	case <-stop:
		return false
	case <-time.After(m.cfg.Backoff):
		return true
	}
}

func (m *Mux) dialURL(token string) string {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return m.cfg.URL
	}
	q := u.Query()
	q.Set("auth_token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
