package domain

import (
	"time"

	"github.com/google/uuid"
)

// Dialog привязан к внешнему бизнес-объекту (object_id + object_type).
type Dialog struct {
	ID         uuid.UUID  `json:"id"`
	ObjectID   uuid.UUID  `json:"object_id"`
	ObjectType string     `json:"object_type"`
	Title      *string    `json:"title,omitempty"`
	ObjectURL  *string    `json:"object_url,omitempty"`
	CreatedBy  *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// DialogView: диалог глазами конкретного пользователя.
type DialogView struct {
	Dialog
	IsParticipant        bool       `json:"i_am_participant"`
	CanJoin              bool       `json:"can_join"`
	JoinedAs             *string    `json:"joined_as,omitempty"`
	IsArchived           bool       `json:"is_archived"`
	IsPinned             bool       `json:"is_pinned"`
	NotificationsEnabled bool       `json:"notifications_enabled"`
	UnreadCount          int        `json:"unread_count"`
	LastReadMessageID    *uuid.UUID `json:"last_read_message_id,omitempty"`
	LastMessageAt        *time.Time `json:"last_message_at,omitempty"`
	ParticipantsCount    int        `json:"participants_count"`
}

// ApplyParticipant копирует участник-локальное состояние в представление.
func (v *DialogView) ApplyParticipant(p *Participant) {
	if p == nil {
		v.IsParticipant = false
		return
	}
	joinedAs := p.JoinedAs
	v.IsParticipant = true
	v.CanJoin = false
	v.JoinedAs = &joinedAs
	v.IsArchived = p.IsArchived
	v.IsPinned = p.IsPinned
	v.NotificationsEnabled = p.NotificationsEnabled
	v.UnreadCount = p.UnreadCount
	v.LastReadMessageID = p.LastReadMessageID
}
