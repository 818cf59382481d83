// Package model defines data structures for the conversation sync client.
package model

import (
	"time"
)

// ChatPartner is anyone eligible to converse with the current user, whether or
// not a conversation exists yet.
type ChatPartner struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// MessagePreview is the last-message summary attached to a conversation.
type MessagePreview struct {
	Body      string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	FromSelf  bool      `json:"from_self"`
}

// Conversation is the aggregate view of all exchanged messages with one
// partner, keyed uniquely by partner id. The preview always reflects the
// newest message exchanged with that partner, which may be newer than the
// fetched history of a closed conversation.
type Conversation struct {
	PartnerID   int64           `json:"partner_id"`
	PartnerName string          `json:"partner_name"`
	PartnerRole Role            `json:"partner_role"`
	LastMessage *MessagePreview `json:"last_message,omitempty"`
	UnreadCount int             `json:"unread_count"`
}

// ConnectionState describes the realtime channel's visible lifecycle.
type ConnectionState struct {
	Connected bool   `json:"connected"`
	LastError string `json:"last_error,omitempty"`
}
