package service

import (
	"context"
	"fmt"

	"chat_service/internal/config"
	"chat_service/internal/repository"
	"chat_service/pkg/logger"

	"github.com/google/uuid"
)

type RateLimitService interface {
	// AllowMessage: fixed window на отправку сообщений пользователем.
	AllowMessage(ctx context.Context, userID uuid.UUID) (bool, error)
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	cfg           config.RateLimitConfig
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, cfg config.RateLimitConfig, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		cfg:           cfg,
		log:           log,
	}
}

func (s *rateLimitService) AllowMessage(ctx context.Context, userID uuid.UUID) (bool, error) {
	if s.cfg.Messages <= 0 {
		return true, nil
	}
	count, err := s.rateLimitRepo.Hit(ctx, fmt.Sprintf("messages:%s", userID), s.cfg.Window)
	if err != nil {
		return false, err
	}
	if count > int64(s.cfg.Messages) {
		s.log.Warn("Message rate limit exceeded", "user_id", userID, "count", count)
		return false, nil
	}
	return true, nil
}
