package client

import (
	"encoding/json"
	"time"
)

// SendMessagePayload mirrors the gateway's send_message event.
type SendMessagePayload struct {
	ChatID     string      `json:"chatId"`
	Content    string      `json:"content"`
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment content is base64-encoded text, as the transport carries it.
type Attachment struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// SendResult is the resolved acknowledgment of one send.
type SendResult struct {
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

// JoinRoom joins and tracks the room so a reconnect resumes it.
func (m *Mux) JoinRoom(chatID string) error {
	m.mu.Lock()
	sess := m.sess
	m.currentRoom = chatID
	m.mu.Unlock()
	if sess == nil {
		// Tracked anyway; the connect loop joins it once the transport is
		// up.
		return ErrNotConnected
	}
	return sess.write(envelope{Type: eventJoinRoom, Data: mustJSON(map[string]string{"chatId": chatID})})
}

func (m *Mux) LeaveRoom(chatID string) error {
	m.mu.Lock()
	sess := m.sess
	if m.currentRoom == chatID {
		m.currentRoom = ""
	}
	m.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.write(envelope{Type: "leave_room", Data: mustJSON(map[string]string{"chatId": chatID})})
}

// SendMessage issues a send and returns a channel resolved by the matching
// acknowledgment. No timeout is applied; callers detect a dead transport
// through the ErrNotConnected pre-flight, and pending sends resolve with an
// explicit error if the connection drops mid-flight.
func (m *Mux) SendMessage(p SendMessagePayload) (<-chan SendResult, error) {
	m.mu.Lock()
	sess := m.sess
	if sess == nil {
		m.mu.Unlock()
		return nil, ErrNotConnected
	}
	m.nextID++
	id := m.nextID
	ch := make(chan SendResult, 1)
	m.pending[id] = ch
	m.mu.Unlock()

	if err := sess.write(envelope{Type: "send_message", ID: id, Data: mustJSON(p)}); err != nil {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// SetTyping relays the typing indicator. typing=true is throttled to one
// signal per TypingInterval; typing=false bypasses the throttle so the
// indicator clears promptly.
func (m *Mux) SetTyping(roomID string, typing bool) error {
	m.mu.Lock()
	sess := m.sess
	if sess == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if typing {
		now := time.Now()
		if now.Sub(m.lastTyping) < m.cfg.TypingInterval {
			m.mu.Unlock()
			return nil
		}
		m.lastTyping = now
	}
	m.mu.Unlock()

	return sess.write(envelope{Type: "typing_set", Data: mustJSON(map[string]any{
		"roomId":   roomID,
		"isTyping": typing,
	})})
}

func (m *Mux) resolveAck(env envelope) {
	var res SendResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		res = SendResult{OK: false, Error: "bad ack payload"}
	}
	m.mu.Lock()
	ch, ok := m.pending[env.ID]
	delete(m.pending, env.ID)
	m.mu.Unlock()
	if ok {
		ch <- res
	}
}

// failPendingLocked resolves every in-flight send with an error variant.
// Callers hold m.mu.
func (m *Mux) failPendingLocked() {
	for id, ch := range m.pending {
		ch <- SendResult{OK: false, Error: "connection lost"}
		delete(m.pending, id)
	}
}
