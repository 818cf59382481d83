// Package transport owns the single authenticated realtime channel to the
// portal and exposes typed inbound and outbound events.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/campuslink/chat-sync/internal/model"
)

// EventType identifies a realtime event on the wire or at the transport
// boundary.
type EventType string

const (
	// Inbound (server -> client)
	EventNewMessage   EventType = "new_message"
	EventMessageSent  EventType = "message_sent"
	EventMessagesRead EventType = "messages_read"
	EventError        EventType = "error"

	// Transport-level connectivity transitions
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"

	// Outbound (client -> server)
	EventSendMessage EventType = "send_message"
	EventMarkRead    EventType = "mark_read"
)

// Envelope is the JSON frame exchanged over the channel.
type Envelope struct {
	Type          EventType       `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// SendMessagePayload is the outbound send_message payload.
type SendMessagePayload struct {
	ReceiverID int64  `json:"receiver_id"`
	Body       string `json:"message"`
}

// MarkReadPayload is the outbound mark_read payload.
type MarkReadPayload struct {
	PartnerID int64 `json:"partner_id"`
}

// MessagesReadPayload is the inbound messages_read payload.
type MessagesReadPayload struct {
	ReaderID int64 `json:"reader_id"`
}

// ErrorPayload is the inbound channel-level error payload.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Event is a decoded inbound event as delivered to subscribers.
type Event struct {
	Type          EventType
	CorrelationID string

	// Message is set for new_message and message_sent.
	Message *model.Message
	// ReaderID is set for messages_read.
	ReaderID int64
	// ErrMessage is set for error and terminal disconnect events.
	ErrMessage string
}

// DecodeEvent parses a raw inbound frame into a typed Event.
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}

	ev := Event{Type: env.Type, CorrelationID: env.CorrelationID}

	switch env.Type {
	case EventNewMessage, EventMessageSent:
		var msg model.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		ev.Message = &msg
	case EventMessagesRead:
		var p MessagesReadPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode messages_read payload: %w", err)
		}
		ev.ReaderID = p.ReaderID
	case EventError:
		var p ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode error payload: %w", err)
		}
		ev.ErrMessage = p.Message
	case EventConnect, EventDisconnect:
		// No payload.
	default:
		return Event{}, fmt.Errorf("unknown event type %q", env.Type)
	}

	return ev, nil
}

func encodePayload(t EventType, correlationID string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, CorrelationID: correlationID, Payload: raw})
}
