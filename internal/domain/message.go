package domain

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

type Message struct {
	ID           uuid.UUID     `json:"id"`
	DialogID     uuid.UUID     `json:"dialog_id"`
	SenderID     *uuid.UUID    `json:"sender_id,omitempty"`
	MessageType  string        `json:"message_type"`
	Content      string        `json:"content"`
	ReplyToID    *uuid.UUID    `json:"reply_to_id,omitempty"`
	IsEdited     bool          `json:"is_edited"`
	IsDeleted    bool          `json:"is_deleted"`
	SentAt       time.Time     `json:"sent_at"`
	LastEditedAt *time.Time    `json:"last_edited_at,omitempty"`
	Attachments  []*Attachment `json:"attachments"`
}

const (
	MessageTypeUser   = "user"
	MessageTypeSystem = "system"
)

// Masked скрывает содержимое удаленного сообщения при чтении.
func (m *Message) Masked() *Message {
	if !m.IsDeleted {
		return m
	}
	cp := *m
	cp.Content = ""
	cp.Attachments = []*Attachment{}
	return &cp
}

func (m *Message) IsSentBy(userID uuid.UUID) bool {
	return m.SenderID != nil && *m.SenderID == userID
}

type MessageEdit struct {
	ID         uuid.UUID `json:"id"`
	MessageID  uuid.UUID `json:"message_id"`
	OldContent string    `json:"old_content"`
	EditedAt   time.Time `json:"edited_at"`
}

// NewMessageID возвращает UUIDv7: порядок id совпадает с порядком создания.
func NewMessageID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Must(uuid.NewRandom())
	}
	return id
}

// CompareIDs сравнивает идентификаторы побайтно, что для v7 дает порядок по времени.
func CompareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// PageRequest: не более одного курсора из Before, After, Around.
type PageRequest struct {
	Limit  int
	Before *uuid.UUID
	After  *uuid.UUID
	Around *uuid.UUID
}

type MessagePage struct {
	Messages             []*Message `json:"messages"`
	HasMoreBefore        bool       `json:"has_more_before"`
	HasMoreAfter         bool       `json:"has_more_after"`
	FirstUnreadMessageID *uuid.UUID `json:"first_unread_message_id,omitempty"`
}
