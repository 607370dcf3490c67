package core

import (
	"context"

	"github.com/carelink/realtime/internal/domain"
)

type ConnID string

// Conn is the transport endpoint the registries and controllers fan out to.
// Owned by the gateway adapter; the adapter must Close() it.
type Conn interface {
	ID() ConnID
	Identity() domain.Identity
	TrySend(Frame) error
	Close()
}

// RevocationList answers whether a token that otherwise verifies must still
// be rejected.
type RevocationList interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// MessageStore is the external persistence collaborator. Create returns the
// assigned id; Get re-fetches with attachment content included.
type MessageStore interface {
	Create(ctx context.Context, m *domain.Message) (domain.MessageID, error)
	Get(ctx context.Context, id domain.MessageID) (*domain.Message, error)
}

// ProfileDirectory resolves display information by id and role.
type ProfileDirectory interface {
	Lookup(ctx context.Context, id domain.UserID, role domain.Role) (domain.SenderProfile, error)
}

// CallLog records call lifecycle for the external persistence layer. All
// calls are best-effort; callers swallow errors.
type CallLog interface {
	Joined(ctx context.Context, callID string, userID domain.UserID) error
	Left(ctx context.Context, callID string, userID domain.UserID) error
}

// RateStore decides whether one more event of the given type from the given
// connection fits in the current window. Forget releases whatever the store
// tracks for a connection once it disconnects; connection IDs are never
// reused.
type RateStore interface {
	Allow(connID ConnID, event string) bool
	Forget(connID ConnID)
}

// Broadcaster delivers an event to every live connection of a channel,
// regardless of room membership.
type Broadcaster interface {
	BroadcastAll(event string, v any)
}
