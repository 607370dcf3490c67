// Package call is the signaling channel: join/initiate/decline/relay/leave
// for calls. Payloads relayed between peers are never interpreted or
// persisted here.
package call

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/carelink/realtime/internal/app"
	"github.com/carelink/realtime/internal/core"
	"github.com/carelink/realtime/internal/domain"
)

const (
	EventJoinCall     = "join_call"
	EventInitiateCall = "initiate_call"
	EventDeclineCall  = "decline_call"
	EventSignal       = "signal"
	EventLeaveCall    = "leave_call"

	EventPeerJoined    = "peer_joined"
	EventPeerLeft      = "peer_left"
	EventIncomingCall  = "incoming_call"
	EventCallCancelled = "call_cancelled"
)

const roomPrefix = "call:"

// ConnResolver finds the live connection behind a presence entry.
type ConnResolver interface {
	Get(id core.ConnID) (core.Conn, bool)
}

type Controller struct {
	Rooms    *app.RoomMembership
	Presence *app.PresenceRegistry
	Limiter  core.RateStore
	Log      core.CallLog
	Profiles core.ProfileDirectory
	Conns    ConnResolver

	mu      sync.Mutex
	callers map[string]core.ConnID // callID -> initiating connection
}

func NewController(rooms *app.RoomMembership, presence *app.PresenceRegistry, limiter core.RateStore, callLog core.CallLog, profiles core.ProfileDirectory, conns ConnResolver) *Controller {
	return &Controller{
		Rooms:    rooms,
		Presence: presence,
		Limiter:  limiter,
		Log:      callLog,
		Profiles: profiles,
		Conns:    conns,
		callers:  make(map[string]core.ConnID),
	}
}

func roomKey(callID string) string { return roomPrefix + callID }

// HandleConnect marks the user reachable for ringing as soon as the
// signaling channel is up; initiate_call resolves targets through this
// registry, not through call membership.
func (ctl *Controller) HandleConnect(_ context.Context, c core.Conn) {
	ctl.Presence.MarkOnline(c.Identity().UserID, c.ID())
}

// HandleFrame dispatches one signaling event. Every event goes through the
// rate limiter first; throttled events are dropped without any reply.
func (ctl *Controller) HandleFrame(ctx context.Context, c core.Conn, env core.Envelope) {
	if ctl.Limiter != nil && !ctl.Limiter.Allow(c.ID(), env.Type) {
		log.Warn().Str("module", "call").Str("conn", string(c.ID())).Str("type", env.Type).Msg("throttled")
		return
	}

	switch env.Type {
	case EventJoinCall:
		ctl.handleJoin(ctx, c, env.Data)
	case EventInitiateCall:
		ctl.handleInitiate(ctx, c, env.Data)
	case EventDeclineCall:
		ctl.handleDecline(c, env.Data)
	case EventSignal:
		ctl.handleSignal(c, env.Data)
	case EventLeaveCall:
		ctl.handleLeave(ctx, c, env.Data)
	default:
		log.Warn().Str("module", "call").Str("type", env.Type).Msg("unknown event")
	}
}

func (ctl *Controller) handleJoin(ctx context.Context, c core.Conn, data json.RawMessage) {
	var p struct {
		CallID string `json:"callId"`
		Role   string `json:"role"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		// Missing callId is a silent no-op.
		return
	}

	userID := c.Identity().UserID
	ctl.Rooms.Join(roomKey(p.CallID), c)
	ctl.Presence.MarkOnline(userID, c.ID())

	if err := ctl.Log.Joined(ctx, p.CallID, userID); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("call", p.CallID).Msg("call log join")
	}

	log.Info().Str("module", "call").Str("call", p.CallID).Str("user", string(userID)).Str("role", p.Role).Msg("join")
	ctl.Rooms.Broadcast(roomKey(p.CallID), EventPeerJoined, struct {
		UserID domain.UserID `json:"userId"`
	}{userID}, c.ID())
}

// handleInitiate rings one specific user. An offline target is dropped:
// there is no queued or offline delivery.
func (ctl *Controller) handleInitiate(ctx context.Context, c core.Conn, data json.RawMessage) {
	var p struct {
		CallID       string `json:"callId"`
		TargetUserID string `json:"targetUserId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" || p.TargetUserID == "" {
		return
	}

	connID, ok := ctl.Presence.ConnOf(domain.UserID(p.TargetUserID))
	if !ok {
		log.Info().Str("module", "call").Str("target", p.TargetUserID).Msg("target offline, dropped")
		return
	}
	target, ok := ctl.Conns.Get(connID)
	if !ok {
		return
	}

	ctl.mu.Lock()
	ctl.callers[p.CallID] = c.ID()
	ctl.mu.Unlock()

	caller := c.Identity()
	name := "Someone"
	if profile, err := ctl.Profiles.Lookup(ctx, caller.UserID, caller.Role); err == nil && profile.Name != "" {
		name = profile.Name
	}

	ctl.direct(target, EventIncomingCall, struct {
		CallID       string        `json:"callId"`
		FromUserID   domain.UserID `json:"fromUserId"`
		FromUserName string        `json:"fromUserName"`
	}{p.CallID, caller.UserID, name})
}

func (ctl *Controller) handleDecline(c core.Conn, data json.RawMessage) {
	var p struct {
		CallID     string `json:"callId"`
		FromUserID string `json:"fromUserId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		return
	}

	ctl.mu.Lock()
	callerID, ok := ctl.callers[p.CallID]
	delete(ctl.callers, p.CallID)
	ctl.mu.Unlock()
	if !ok {
		return
	}
	caller, ok := ctl.Conns.Get(callerID)
	if !ok {
		return
	}

	log.Info().Str("module", "call").Str("call", p.CallID).Str("by", string(c.Identity().UserID)).Msg("declined")
	ctl.direct(caller, EventCallCancelled, struct {
		CallID string `json:"callId"`
	}{p.CallID})
}

// handleSignal relays the payload untouched to every other room member.
// At-most-once, no retry.
func (ctl *Controller) handleSignal(c core.Conn, data json.RawMessage) {
	var p struct {
		CallID string          `json:"callId"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		return
	}

	ctl.Rooms.Broadcast(roomKey(p.CallID), EventSignal, struct {
		FromUserID domain.UserID   `json:"fromUserId"`
		Data       json.RawMessage `json:"data"`
	}{c.Identity().UserID, p.Data}, c.ID())
}

func (ctl *Controller) handleLeave(ctx context.Context, c core.Conn, data json.RawMessage) {
	var p struct {
		CallID string `json:"callId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		return
	}
	ctl.leaveCall(ctx, c, p.CallID)
}

// HandleDisconnect cleans presence and every call room the connection was
// still in. Already-dispatched collaborator calls run to completion
// untracked.
func (ctl *Controller) HandleDisconnect(ctx context.Context, c core.Conn) {
	for _, key := range ctl.Rooms.RoomsOf(c.ID()) {
		if len(key) > len(roomPrefix) && key[:len(roomPrefix)] == roomPrefix {
			ctl.leaveCall(ctx, c, key[len(roomPrefix):])
		}
	}
	ctl.Presence.MarkOffline(c.Identity().UserID, c.ID())
	if ctl.Limiter != nil {
		ctl.Limiter.Forget(c.ID())
	}
}

func (ctl *Controller) leaveCall(ctx context.Context, c core.Conn, callID string) {
	userID := c.Identity().UserID
	ctl.Rooms.Leave(roomKey(callID), c.ID())
	ctl.Rooms.Broadcast(roomKey(callID), EventPeerLeft, struct {
		UserID domain.UserID `json:"userId"`
	}{userID}, c.ID())

	if err := ctl.Log.Left(ctx, callID, userID); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("call", callID).Msg("call log leave")
	}

	ctl.mu.Lock()
	if ctl.callers[callID] == c.ID() {
		delete(ctl.callers, callID)
	}
	ctl.mu.Unlock()
	log.Info().Str("module", "call").Str("call", callID).Str("user", string(userID)).Msg("left")
}

func (ctl *Controller) direct(c core.Conn, event string, v any) {
	frame, err := core.Encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "call").Str("event", event).Msg("encode direct")
		return
	}
	if err := c.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("conn", string(c.ID())).Msg("direct drop")
	}
}
