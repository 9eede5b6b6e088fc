package domain

import (
	"time"

	"github.com/google/uuid"
)

type Participant struct {
	DialogID             uuid.UUID  `json:"dialog_id"`
	UserID               uuid.UUID  `json:"user_id"`
	JoinedAt             time.Time  `json:"joined_at"`
	JoinedAs             string     `json:"joined_as"`
	NotificationsEnabled bool       `json:"notifications_enabled"`
	IsArchived           bool       `json:"is_archived"`
	IsPinned             bool       `json:"is_pinned"`
	LastReadMessageID    *uuid.UUID `json:"last_read_message_id,omitempty"`
	UnreadCount          int        `json:"unread_count"`
	DisplayName          *string    `json:"display_name,omitempty"`
	Company              *string    `json:"company,omitempty"`
	Email                *string    `json:"email,omitempty"`
	Phone                *string    `json:"phone,omitempty"`
}

const (
	JoinedAsCreator = "creator"
	JoinedAsMember  = "member"
)

// NewParticipant возвращает участника с настройками по умолчанию.
func NewParticipant(dialogID, userID uuid.UUID, joinedAs string, now time.Time) *Participant {
	return &Participant{
		DialogID:             dialogID,
		UserID:               userID,
		JoinedAt:             now,
		JoinedAs:             joinedAs,
		NotificationsEnabled: true,
	}
}

// Name: имя для системных сообщений.
func (p *Participant) Name() string {
	if p.DisplayName != nil && *p.DisplayName != "" {
		return *p.DisplayName
	}
	return p.UserID.String()
}

// Profile: данные участника, которые передает хост-приложение.
type Profile struct {
	DisplayName *string `json:"display_name,omitempty"`
	Company     *string `json:"company,omitempty"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
}

func (p *Participant) ApplyProfile(profile Profile) {
	p.DisplayName = profile.DisplayName
	p.Company = profile.Company
	p.Email = profile.Email
	p.Phone = profile.Phone
}

func (p *Participant) IsCreator() bool {
	return p.JoinedAs == JoinedAsCreator
}

// ParticipantInfo: участник в ответе API вместе со статусом присутствия.
type ParticipantInfo struct {
	Participant
	IsOnline bool `json:"is_online"`
}
