package repository

import (
	"context"

	"chat_service/internal/domain"
	"chat_service/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AttachmentRepository interface {
	ListByMessages(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]*domain.Attachment, error)
}

type attachmentRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewAttachmentRepository(db *pgxpool.Pool, log logger.Logger) AttachmentRepository {
	return &attachmentRepository{db: db, log: log}
}

func (r *attachmentRepository) ListByMessages(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]*domain.Attachment, error) {
	result := make(map[uuid.UUID][]*domain.Attachment, len(messageIDs))
	if len(messageIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, message_id, filename, content_type, size, s3_key,
		       width, height, thumbnail_s3_key, created_at
		FROM attachments
		WHERE message_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, messageIDs)
	if err != nil {
		r.log.Error("Failed to list attachments", "error", err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		a := &domain.Attachment{}
		err := rows.Scan(
			&a.ID, &a.MessageID, &a.Filename, &a.ContentType, &a.Size, &a.StorageKey,
			&a.Width, &a.Height, &a.ThumbnailKey, &a.CreatedAt,
		)
		if err != nil {
			r.log.Error("Failed to scan attachment", "error", err)
			return nil, err
		}
		result[a.MessageID] = append(result[a.MessageID], a)
	}
	return result, rows.Err()
}
