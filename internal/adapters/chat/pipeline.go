package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/carelink/realtime/internal/core"
	"github.com/carelink/realtime/internal/domain"
)

type sendPayload struct {
	ChatID     string `json:"chatId"`
	Content    string `json:"content"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Attachment *struct {
		Name    string `json:"name"`
		Type    string `json:"type"`
		Content string `json:"content"`
	} `json:"attachment,omitempty"`
}

type sendAck struct {
	OK      bool                    `json:"ok"`
	Error   string                  `json:"error,omitempty"`
	Message *domain.EnrichedMessage `json:"message,omitempty"`
}

// handleSend runs the delivery pipeline: validate, persist, enrich,
// broadcast, ack. Persistence failure acks failure and broadcasts nothing;
// enrichment failure degrades to a placeholder sender and still delivers.
func (ctl *Controller) handleSend(ctx context.Context, c core.Conn, env core.Envelope) {
	var p sendPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		ctl.ack(c, env.ID, sendAck{OK: false, Error: "bad payload"})
		return
	}

	if domain.UserID(p.SenderID) != c.Identity().UserID {
		log.Warn().Str("module", "chat").Str("conn", string(c.ID())).Str("claimed", p.SenderID).Msg("sender mismatch")
		ctl.ack(c, env.ID, sendAck{OK: false, Error: domain.ErrSenderMismatch.Error()})
		return
	}

	msg := &domain.Message{
		ChatID:     p.ChatID,
		SenderID:   domain.UserID(p.SenderID),
		ReceiverID: domain.UserID(p.ReceiverID),
		Content:    p.Content,
	}
	if p.Attachment != nil {
		raw, err := base64.StdEncoding.DecodeString(p.Attachment.Content)
		if err != nil {
			ctl.ack(c, env.ID, sendAck{OK: false, Error: "bad attachment encoding"})
			return
		}
		msg.Attachment = &domain.Attachment{
			Name:    p.Attachment.Name,
			Type:    p.Attachment.Type,
			Content: raw,
		}
	}

	id, err := ctl.Store.Create(ctx, msg)
	if err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("persist message")
		ctl.ack(c, env.ID, sendAck{OK: false, Error: "failed to save message"})
		return
	}

	// Re-fetch so the broadcast carries exactly what was stored, attachment
	// content included.
	stored, err := ctl.Store.Get(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("module", "chat").Str("message", string(id)).Msg("refetch message")
		ctl.ack(c, env.ID, sendAck{OK: false, Error: "failed to load message"})
		return
	}

	enriched := domain.EnrichedMessage{Message: *stored, Sender: ctl.senderProfile(ctx, c.Identity())}

	ctl.Rooms.Broadcast(p.ChatID, EventNewMessage, enriched, "")
	ctl.ack(c, env.ID, sendAck{OK: true, Message: &enriched})
}

func (ctl *Controller) senderProfile(ctx context.Context, identity domain.Identity) domain.SenderProfile {
	profile, err := ctl.Profiles.Lookup(ctx, identity.UserID, identity.Role)
	if err != nil {
		log.Warn().Err(err).Str("module", "chat").Str("user", string(identity.UserID)).Msg("profile lookup failed, using placeholder")
		return domain.PlaceholderProfile(identity.UserID)
	}
	return profile
}

func (ctl *Controller) ack(c core.Conn, id int64, a sendAck) {
	frame, err := core.EncodeAck(id, a)
	if err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("encode ack")
		return
	}
	if err := c.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "chat").Str("conn", string(c.ID())).Msg("ack drop")
	}
}
