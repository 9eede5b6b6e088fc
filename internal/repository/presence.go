package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"chat_service/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// online:{user_id} -> unix время последнего heartbeat
	PresenceKeyPrefix = "online:%s"
)

// PresenceRepository: зеркало присутствия в Redis, видимое всем инстансам.
type PresenceRepository interface {
	SetOnline(ctx context.Context, userID uuid.UUID, lastSeen time.Time, ttl time.Duration) error
	SetOffline(ctx context.Context, userID uuid.UUID) error
	// OnlineUsers возвращает подмножество ids с живым ключом.
	OnlineUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error)
}

type presenceRepository struct {
	rdb *redis.Client
	log logger.Logger
}

func NewPresenceRepository(rdb *redis.Client, log logger.Logger) PresenceRepository {
	return &presenceRepository{rdb: rdb, log: log}
}

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf(PresenceKeyPrefix, userID.String())
}

func (r *presenceRepository) SetOnline(ctx context.Context, userID uuid.UUID, lastSeen time.Time, ttl time.Duration) error {
	err := r.rdb.Set(ctx, presenceKey(userID), strconv.FormatInt(lastSeen.Unix(), 10), ttl).Err()
	if err != nil {
		r.log.Warn("Failed to set presence", "error", err, "user_id", userID)
	}
	return err
}

func (r *presenceRepository) SetOffline(ctx context.Context, userID uuid.UUID) error {
	err := r.rdb.Del(ctx, presenceKey(userID)).Err()
	if err != nil {
		r.log.Warn("Failed to clear presence", "error", err, "user_id", userID)
	}
	return err
}

func (r *presenceRepository) OnlineUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	result := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = presenceKey(id)
	}

	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		r.log.Warn("Failed to read presence", "error", err)
		return result, err
	}
	for i, v := range values {
		if v != nil {
			result[ids[i]] = true
		}
	}
	return result, nil
}
