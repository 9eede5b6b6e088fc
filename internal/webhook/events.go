package webhook

import (
	"time"

	"chat_service/internal/domain"

	"github.com/google/uuid"
)

const (
	EventMessageNew          = "message.new"
	EventParticipantJoined   = "participant.joined"
	EventParticipantLeft     = "participant.left"
	EventNotificationPending = "notification.pending"
)

// Event: тело исходящего вебхука.
type Event struct {
	ID        uuid.UUID   `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

func newEvent(eventType string, payload interface{}) Event {
	return Event{
		ID:        domain.NewMessageID(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

type MessageData struct {
	ID          uuid.UUID  `json:"id"`
	SenderID    *uuid.UUID `json:"sender_id,omitempty"`
	Content     string     `json:"content"`
	ReplyTo     *uuid.UUID `json:"reply_to,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	MessageType string     `json:"message_type"`
}

func messageData(m *domain.Message) MessageData {
	return MessageData{
		ID:          m.ID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		ReplyTo:     m.ReplyToID,
		CreatedAt:   m.SentAt,
		MessageType: m.MessageType,
	}
}

type DialogRef struct {
	DialogID   uuid.UUID `json:"dialog_id"`
	ObjectID   uuid.UUID `json:"object_id"`
	ObjectType string    `json:"object_type"`
}

func dialogRef(d *domain.Dialog) DialogRef {
	return DialogRef{DialogID: d.ID, ObjectID: d.ObjectID, ObjectType: d.ObjectType}
}

type MessageNewPayload struct {
	DialogRef
	Message MessageData `json:"message"`
}

type ParticipantJoinedPayload struct {
	DialogRef
	UserID   uuid.UUID `json:"user_id"`
	JoinedAs string    `json:"joined_as"`
	JoinedAt time.Time `json:"joined_at"`
}

type ParticipantLeftPayload struct {
	DialogRef
	UserID uuid.UUID `json:"user_id"`
	LeftAt time.Time `json:"left_at"`
}

type NotificationPendingPayload struct {
	DialogRef
	RecipientID uuid.UUID   `json:"recipient_id"`
	Message     MessageData `json:"message"`
}

func MessageNew(d *domain.Dialog, m *domain.Message) Event {
	return newEvent(EventMessageNew, MessageNewPayload{DialogRef: dialogRef(d), Message: messageData(m)})
}

func ParticipantJoined(d *domain.Dialog, p *domain.Participant) Event {
	return newEvent(EventParticipantJoined, ParticipantJoinedPayload{
		DialogRef: dialogRef(d),
		UserID:    p.UserID,
		JoinedAs:  p.JoinedAs,
		JoinedAt:  p.JoinedAt,
	})
}

func ParticipantLeft(d *domain.Dialog, userID uuid.UUID) Event {
	return newEvent(EventParticipantLeft, ParticipantLeftPayload{
		DialogRef: dialogRef(d),
		UserID:    userID,
		LeftAt:    time.Now().UTC(),
	})
}

func NotificationPending(d *domain.Dialog, m *domain.Message, recipientID uuid.UUID) Event {
	return newEvent(EventNotificationPending, NotificationPendingPayload{
		DialogRef:   dialogRef(d),
		RecipientID: recipientID,
		Message:     messageData(m),
	})
}
