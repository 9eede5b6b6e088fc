package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat_service/internal/domain"
	apperrors "chat_service/pkg/errors"
	"chat_service/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository interface {
	// Create в одной транзакции сохраняет сообщение и вложения, увеличивает unread_count
	// остальным участникам, сдвигает маркер прочтения отправителя на новое сообщение
	// и разархивирует диалог. Возвращает разархивированных пользователей.
	Create(ctx context.Context, message *domain.Message, attachments []*domain.Attachment) ([]uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	// ListBefore: сообщения с id < before (или последние, если before == nil), от новых к старым.
	ListBefore(ctx context.Context, dialogID uuid.UUID, before *uuid.UUID, limit int) ([]*domain.Message, error)
	// ListAfter: сообщения с id > after, от старых к новым.
	ListAfter(ctx context.Context, dialogID uuid.UUID, after uuid.UUID, limit int) ([]*domain.Message, error)
	FirstAfter(ctx context.Context, dialogID uuid.UUID, after *uuid.UUID) (*uuid.UUID, error)
	Update(ctx context.Context, id uuid.UUID, content string, editedAt time.Time) (*domain.Message, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	ListHistory(ctx context.Context, id uuid.UUID) ([]*domain.MessageEdit, error)
}

// querier: общее подмножество pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const messageColumns = `id, dialog_id, sender_id, message_type, content, reply_to_id,
		       is_edited, is_deleted, sent_at, last_edited_at`

type messageRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{db: db, log: log}
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	m := &domain.Message{}
	err := row.Scan(
		&m.ID, &m.DialogID, &m.SenderID, &m.MessageType, &m.Content, &m.ReplyToID,
		&m.IsEdited, &m.IsDeleted, &m.SentAt, &m.LastEditedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Attachments = []*domain.Attachment{}
	return m, nil
}

func collectMessages(rows pgx.Rows) ([]*domain.Message, error) {
	defer rows.Close()

	messages := make([]*domain.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// insertMessage используется и для пользовательских, и для системных сообщений.
// Счетчик непрочитанных растет у всех участников, кроме отправителя.
func insertMessage(ctx context.Context, q querier, m *domain.Message) error {
	_, err := q.Exec(ctx, `
		INSERT INTO messages (id, dialog_id, sender_id, message_type, content, reply_to_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.DialogID, m.SenderID, m.MessageType, m.Content, m.ReplyToID, m.SentAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = q.Exec(ctx, `
		UPDATE dialog_participants
		SET unread_count = unread_count + 1
		WHERE dialog_id = $1 AND ($2::uuid IS NULL OR user_id <> $2)
	`, m.DialogID, m.SenderID)
	if err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	return nil
}

func (r *messageRepository) Create(ctx context.Context, message *domain.Message, attachments []*domain.Attachment) ([]uuid.UUID, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertMessage(ctx, tx, message); err != nil {
		r.log.Error("Failed to create message", "error", err, "dialog_id", message.DialogID)
		return nil, err
	}

	for _, a := range attachments {
		_, err := tx.Exec(ctx, `
			INSERT INTO attachments (id, message_id, filename, content_type, size, s3_key,
			                         width, height, thumbnail_s3_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, a.ID, message.ID, a.Filename, a.ContentType, a.Size, a.StorageKey,
			a.Width, a.Height, a.ThumbnailKey, a.CreatedAt)
		if err != nil {
			r.log.Error("Failed to create attachment", "error", err, "message_id", message.ID)
			return nil, fmt.Errorf("insert attachment: %w", err)
		}
	}

	// Свое сообщение прочитано; unread_count отправителя не меняется.
	if message.SenderID != nil {
		_, err = tx.Exec(ctx, `
			UPDATE dialog_participants
			SET last_read_message_id = $3
			WHERE dialog_id = $1 AND user_id = $2
			  AND (last_read_message_id IS NULL OR last_read_message_id < $3)
		`, message.DialogID, *message.SenderID, message.ID)
		if err != nil {
			return nil, fmt.Errorf("mark sender read: %w", err)
		}
	}

	rows, err := tx.Query(ctx, `
		UPDATE dialog_participants
		SET is_archived = FALSE
		WHERE dialog_id = $1 AND is_archived
		RETURNING user_id
	`, message.DialogID)
	if err != nil {
		return nil, fmt.Errorf("unarchive dialog: %w", err)
	}
	unarchived, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("unarchive dialog: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		r.log.Error("Failed to commit message", "error", err, "dialog_id", message.DialogID)
		return nil, fmt.Errorf("commit message: %w", err)
	}

	message.Attachments = attachments
	return unarchived, nil
}

func (r *messageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	m, err := scanMessage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("message not found")
		}
		r.log.Error("Failed to get message", "error", err, "message_id", id)
		return nil, err
	}
	return m, nil
}

func (r *messageRepository) ListBefore(ctx context.Context, dialogID uuid.UUID, before *uuid.UUID, limit int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE dialog_id = $1 AND ($2::uuid IS NULL OR id < $2)
		ORDER BY id DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, dialogID, before, limit)
	if err != nil {
		r.log.Error("Failed to list messages", "error", err, "dialog_id", dialogID)
		return nil, err
	}
	return collectMessages(rows)
}

func (r *messageRepository) ListAfter(ctx context.Context, dialogID uuid.UUID, after uuid.UUID, limit int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE dialog_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, dialogID, after, limit)
	if err != nil {
		r.log.Error("Failed to list messages", "error", err, "dialog_id", dialogID)
		return nil, err
	}
	return collectMessages(rows)
}

func (r *messageRepository) FirstAfter(ctx context.Context, dialogID uuid.UUID, after *uuid.UUID) (*uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, `
		SELECT id FROM messages
		WHERE dialog_id = $1 AND ($2::uuid IS NULL OR id > $2)
		ORDER BY id ASC
		LIMIT 1
	`, dialogID, after).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &id, nil
}

func (r *messageRepository) Update(ctx context.Context, id uuid.UUID, content string, editedAt time.Time) (*domain.Message, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldContent string
	err = tx.QueryRow(ctx, `SELECT content FROM messages WHERE id = $1 FOR UPDATE`, id).Scan(&oldContent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("message not found")
		}
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO message_edits (id, message_id, old_content, edited_at)
		VALUES ($1, $2, $3, $4)
	`, domain.NewMessageID(), id, oldContent, editedAt)
	if err != nil {
		r.log.Error("Failed to save edit history", "error", err, "message_id", id)
		return nil, fmt.Errorf("insert edit: %w", err)
	}

	m, err := scanMessage(tx.QueryRow(ctx, `
		UPDATE messages
		SET content = $2, is_edited = TRUE, last_edited_at = $3
		WHERE id = $1
		RETURNING `+messageColumns, id, content, editedAt))
	if err != nil {
		r.log.Error("Failed to update message", "error", err, "message_id", id)
		return nil, fmt.Errorf("update message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit edit: %w", err)
	}
	return m, nil
}

func (r *messageRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE messages SET is_deleted = TRUE WHERE id = $1`, id)
	if err != nil {
		r.log.Error("Failed to delete message", "error", err, "message_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("message not found")
	}
	return nil
}

func (r *messageRepository) ListHistory(ctx context.Context, id uuid.UUID) ([]*domain.MessageEdit, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, message_id, old_content, edited_at
		FROM message_edits
		WHERE message_id = $1
		ORDER BY edited_at ASC, id ASC
	`, id)
	if err != nil {
		r.log.Error("Failed to list edit history", "error", err, "message_id", id)
		return nil, err
	}
	defer rows.Close()

	edits := make([]*domain.MessageEdit, 0)
	for rows.Next() {
		e := &domain.MessageEdit{}
		if err := rows.Scan(&e.ID, &e.MessageID, &e.OldContent, &e.EditedAt); err != nil {
			return nil, err
		}
		edits = append(edits, e)
	}
	return edits, rows.Err()
}
