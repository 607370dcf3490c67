package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/carelink/realtime/internal/core"
	"github.com/carelink/realtime/internal/domain"
)

const EventUserStatusChange = "user_status_change"

// PresenceRegistry tracks online/offline and last-seen per identity. Every
// mutation is broadcast to all connected clients, not just room mates.
type PresenceRegistry struct {
	mu      sync.RWMutex
	entries map[domain.UserID]*domain.PresenceEntry

	broadcaster core.Broadcaster
}

func NewPresenceRegistry(b core.Broadcaster) *PresenceRegistry {
	return &PresenceRegistry{
		entries:     make(map[domain.UserID]*domain.PresenceEntry),
		broadcaster: b,
	}
}

// MarkOnline overwrites any previous entry for the user; a reconnect simply
// takes over.
func (p *PresenceRegistry) MarkOnline(userID domain.UserID, connID core.ConnID) {
	now := time.Now()
	p.mu.Lock()
	p.entries[userID] = &domain.PresenceEntry{
		UserID:   userID,
		ConnID:   string(connID),
		Status:   domain.StatusOnline,
		LastSeen: now,
	}
	p.mu.Unlock()

	log.Info().Str("module", "app.presence").Str("user", string(userID)).Str("conn", string(connID)).Msg("online")
	p.notify(userID, domain.StatusOnline, now)
}

// MarkOffline clears the entry only when connID still owns it. A disconnect
// of a stale connection must not knock a newer connection offline.
func (p *PresenceRegistry) MarkOffline(userID domain.UserID, connID core.ConnID) {
	now := time.Now()
	p.mu.Lock()
	e, ok := p.entries[userID]
	if !ok || e.ConnID != string(connID) {
		p.mu.Unlock()
		return
	}
	e.ConnID = ""
	e.Status = domain.StatusOffline
	e.LastSeen = now
	p.mu.Unlock()

	log.Info().Str("module", "app.presence").Str("user", string(userID)).Msg("offline")
	p.notify(userID, domain.StatusOffline, now)
}

func (p *PresenceRegistry) Status(userID domain.UserID) (domain.PresenceEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if e, ok := p.entries[userID]; ok {
		return *e, true
	}
	return domain.PresenceEntry{}, false
}

// ConnOf resolves the live connection of an online user.
func (p *PresenceRegistry) ConnOf(userID domain.UserID) (core.ConnID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[userID]
	if !ok || !e.Online() {
		return "", false
	}
	return core.ConnID(e.ConnID), true
}

func (p *PresenceRegistry) notify(userID domain.UserID, status domain.PresenceStatus, at time.Time) {
	if p.broadcaster == nil {
		return
	}
	p.broadcaster.BroadcastAll(EventUserStatusChange, struct {
		UserID   domain.UserID         `json:"userId"`
		Status   domain.PresenceStatus `json:"status"`
		LastSeen time.Time             `json:"lastSeen"`
	}{userID, status, at})
}
