package domain

import (
	"time"

	"github.com/google/uuid"
)

// Типы кадров, которые сервер отправляет по WebSocket
const (
	EventConnected         = "connected"
	EventMessageNew        = "message.new"
	EventMessageEdited     = "message.edited"
	EventMessageDeleted    = "message.deleted"
	EventMessageRead       = "message.read"
	EventParticipantJoined = "participant.joined"
	EventParticipantLeft   = "participant.left"
	EventDialogArchived    = "dialog.archived"
	EventDialogUnarchived  = "dialog.unarchived"
	EventPresenceUpdate    = "presence.update"
	EventPong              = "pong"
	EventError             = "error"
)

// Типы кадров от клиента
const (
	ClientPing        = "ping"
	ClientSubscribe   = "subscribe"
	ClientUnsubscribe = "unsubscribe"
)

// Event: кадр, отправляемый клиенту.
type Event struct {
	Type     string      `json:"type"`
	DialogID *uuid.UUID  `json:"dialog_id,omitempty"`
	Payload  interface{} `json:"payload,omitempty"`
}

func NewDialogEvent(eventType string, dialogID uuid.UUID, payload interface{}) Event {
	return Event{Type: eventType, DialogID: &dialogID, Payload: payload}
}

type ClientFrame struct {
	Type     string     `json:"type"`
	DialogID *uuid.UUID `json:"dialog_id,omitempty"`
}

type ConnectedPayload struct {
	UserID       uuid.UUID `json:"user_id"`
	ConnectionID uuid.UUID `json:"connection_id"`
}

type MessageDeletedPayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

type MessageReadPayload struct {
	UserID            uuid.UUID `json:"user_id"`
	LastReadMessageID uuid.UUID `json:"last_read_message_id"`
}

type ParticipantEventPayload struct {
	UserID   uuid.UUID `json:"user_id"`
	JoinedAs string    `json:"joined_as,omitempty"`
}

type PresencePayload struct {
	UserID   uuid.UUID  `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
