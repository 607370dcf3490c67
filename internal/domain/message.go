package domain

import "time"

type MessageID string

// Attachment is already decoded to raw bytes by the time it reaches the
// store; transport carries it base64-encoded.
type Attachment struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content []byte `json:"content,omitempty"`
}

// Message is owned by the external message store. The gateway only creates
// it and reads it back for delivery; it never mutates a persisted message.
type Message struct {
	ID         MessageID   `json:"id"`
	ChatID     string      `json:"chatId"`
	SenderID   UserID      `json:"senderId"`
	ReceiverID UserID      `json:"receiverId"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Seen       bool        `json:"seen"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// SenderProfile is the display information merged into an outgoing message.
type SenderProfile struct {
	ID     UserID `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// PlaceholderProfile is used when the profile directory cannot resolve a
// sender; delivery degrades instead of failing.
func PlaceholderProfile(id UserID) SenderProfile {
	return SenderProfile{ID: id, Name: "Unknown"}
}

// EnrichedMessage is what new_message broadcasts and send acks carry.
type EnrichedMessage struct {
	Message
	Sender SenderProfile `json:"sender"`
}
