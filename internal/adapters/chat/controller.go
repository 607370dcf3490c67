// Package chat is the messaging channel: room membership, message delivery
// with acknowledgment, typing relay.
package chat

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/carelink/realtime/internal/app"
	"github.com/carelink/realtime/internal/core"
)

const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventTypingSet   = "typing_set"

	EventNewMessage  = "new_message"
	EventTyping      = "typing"
	EventChatCleared = "chat_cleared"
)

type Controller struct {
	Rooms    *app.RoomMembership
	Presence *app.PresenceRegistry
	Limiter  core.RateStore
	Store    core.MessageStore
	Profiles core.ProfileDirectory
}

func (ctl *Controller) HandleConnect(_ context.Context, c core.Conn) {
	ctl.Presence.MarkOnline(c.Identity().UserID, c.ID())
}

func (ctl *Controller) HandleFrame(ctx context.Context, c core.Conn, env core.Envelope) {
	switch env.Type {
	case EventJoinRoom:
		ctl.handleJoin(c, env.Data)
	case EventLeaveRoom:
		ctl.handleLeave(c, env.Data)
	case EventSendMessage:
		ctl.handleSend(ctx, c, env)
	case EventTypingSet:
		ctl.handleTyping(c, env.Data)
	default:
		log.Warn().Str("module", "chat").Str("type", env.Type).Msg("unknown event")
	}
}

// HandleDisconnect cleans presence and memberships. Chat rooms get no
// explicit notice; the presence broadcast is the only signal.
func (ctl *Controller) HandleDisconnect(_ context.Context, c core.Conn) {
	ctl.Rooms.LeaveAll(c.ID())
	ctl.Presence.MarkOffline(c.Identity().UserID, c.ID())
	if ctl.Limiter != nil {
		ctl.Limiter.Forget(c.ID())
	}
}

func (ctl *Controller) handleJoin(c core.Conn, data json.RawMessage) {
	var p struct {
		ChatID string `json:"chatId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" {
		log.Warn().Str("module", "chat").Msg("bad join_room payload")
		return
	}
	ctl.Rooms.Join(p.ChatID, c)
	log.Info().Str("module", "chat").Str("conn", string(c.ID())).Str("room", p.ChatID).Msg("join")
}

func (ctl *Controller) handleLeave(c core.Conn, data json.RawMessage) {
	var p struct {
		ChatID string `json:"chatId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" {
		return
	}
	ctl.Rooms.Leave(p.ChatID, c.ID())
	log.Info().Str("module", "chat").Str("conn", string(c.ID())).Str("room", p.ChatID).Msg("leave")
}

func (ctl *Controller) handleTyping(c core.Conn, data json.RawMessage) {
	var p struct {
		RoomID   string `json:"roomId"`
		IsTyping bool   `json:"isTyping"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(c.ID(), EventTypingSet) {
		return
	}
	ctl.Rooms.Broadcast(p.RoomID, EventTyping, struct {
		UserID   string `json:"userId"`
		IsTyping bool   `json:"isTyping"`
	}{string(c.Identity().UserID), p.IsTyping}, c.ID())
}

// NotifyChatCleared lets the CRUD layer tell live members their history is
// gone. Not reachable from the wire.
func (ctl *Controller) NotifyChatCleared(chatID string) {
	ctl.Rooms.Broadcast(chatID, EventChatCleared, struct {
		ChatID string `json:"chatId"`
	}{chatID}, "")
}
