package model

import (
	"time"
)

// Message represents one unit of text exchanged between the current user and a
// partner. Message IDs are server-assigned and monotonically issued; a message
// is immutable once created except for its read state, which only ever moves
// from unread to read.
type Message struct {
	// Identity
	ID         int64 `json:"id"`
	SenderID   int64 `json:"sender_id"`
	ReceiverID int64 `json:"receiver_id"`

	// Content
	Body string `json:"message"`

	// Read state (forward-only transition)
	IsRead bool       `json:"is_read"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
}

// PartnerID returns the id of the counterpart in this exchange, given the
// current user's id.
func (m Message) PartnerID(selfID int64) int64 {
	if m.SenderID == selfID {
		return m.ReceiverID
	}
	return m.SenderID
}

// SentBy reports whether the message was sent by the given user.
func (m Message) SentBy(userID int64) bool {
	return m.SenderID == userID
}
