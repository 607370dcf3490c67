package domain

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// PresenceEntry records the last known connection of a user. ConnID keeps the
// owning connection so a stale disconnect cannot knock a newer connection
// offline.
type PresenceEntry struct {
	UserID   UserID         `json:"userId"`
	ConnID   string         `json:"-"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"lastSeen"`
}

func (e PresenceEntry) Online() bool { return e.Status == StatusOnline }
