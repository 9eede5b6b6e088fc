package repository

import (
	"chat_service/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Repositories struct {
	Dialog      DialogRepository
	Scope       ScopeRepository
	Participant ParticipantRepository
	Message     MessageRepository
	Attachment  AttachmentRepository
	Presence    PresenceRepository
	RateLimit   RateLimitRepository
}

func NewRepositories(db *pgxpool.Pool, redis *redis.Client, log logger.Logger) *Repositories {
	repos := &Repositories{
		Dialog:      NewDialogRepository(db, log),
		Scope:       NewScopeRepository(db, log),
		Participant: NewParticipantRepository(db, log),
		Message:     NewMessageRepository(db, log),
		Attachment:  NewAttachmentRepository(db, log),
		Presence:    NewPresenceRepository(redis, log),
		RateLimit:   NewRateLimitRepository(redis, log),
	}

	log.Info("Repositories initialized")

	return repos
}
