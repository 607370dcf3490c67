package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/carelink/realtime/internal/core"
)

// RoomMembership maps room keys to the connections currently joined. A
// connection may be in many rooms; a room dies with its last member.
type RoomMembership struct {
	mu      sync.RWMutex
	rooms   map[string]map[core.ConnID]core.Conn
	ofConns map[core.ConnID]map[string]struct{}
}

func NewRoomMembership() *RoomMembership {
	return &RoomMembership{
		rooms:   make(map[string]map[core.ConnID]core.Conn),
		ofConns: make(map[core.ConnID]map[string]struct{}),
	}
}

func (m *RoomMembership) Join(roomKey string, c core.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomKey]
	if !ok {
		room = make(map[core.ConnID]core.Conn)
		m.rooms[roomKey] = room
	}
	room[c.ID()] = c
	keys, ok := m.ofConns[c.ID()]
	if !ok {
		keys = make(map[string]struct{})
		m.ofConns[c.ID()] = keys
	}
	keys[roomKey] = struct{}{}
	log.Debug().Str("module", "app.rooms").Str("room", roomKey).Str("conn", string(c.ID())).Msg("joined")
}

func (m *RoomMembership) Leave(roomKey string, connID core.ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(roomKey, connID)
}

// LeaveAll removes the connection from every room it is in and returns the
// room keys it left, for disconnect cleanup.
func (m *RoomMembership) LeaveAll(connID core.ConnID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.ofConns[connID]))
	for roomKey := range m.ofConns[connID] {
		keys = append(keys, roomKey)
		m.leaveLocked(roomKey, connID)
	}
	return keys
}

func (m *RoomMembership) leaveLocked(roomKey string, connID core.ConnID) {
	if room, ok := m.rooms[roomKey]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(m.rooms, roomKey)
		}
	}
	if keys, ok := m.ofConns[connID]; ok {
		delete(keys, roomKey)
		if len(keys) == 0 {
			delete(m.ofConns, connID)
		}
	}
}

func (m *RoomMembership) MemberCount(roomKey string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[roomKey])
}

// RoomsOf snapshots the room keys a connection is currently in.
func (m *RoomMembership) RoomsOf(connID core.ConnID) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.ofConns[connID]))
	for roomKey := range m.ofConns[connID] {
		out = append(out, roomKey)
	}
	return out
}

// Broadcast delivers the event to every member of the room, minus exclude
// when non-empty. Send failures drop that member's frame, nothing else.
func (m *RoomMembership) Broadcast(roomKey, event string, v any, exclude core.ConnID) {
	frame, err := core.Encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.rooms").Str("event", event).Msg("encode broadcast")
		return
	}

	m.mu.RLock()
	members := make([]core.Conn, 0, len(m.rooms[roomKey]))
	for id, c := range m.rooms[roomKey] {
		if id == exclude {
			continue
		}
		members = append(members, c)
	}
	m.mu.RUnlock()

	sent := 0
	for _, c := range members {
		if err := c.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.rooms").Str("conn", string(c.ID())).Msg("broadcast drop")
			continue
		}
		sent++
	}
	log.Debug().Str("module", "app.rooms").Str("room", roomKey).Str("event", event).Int("sent_to", sent).Msg("broadcast")
}
