package repository

import (
	"context"
	"errors"
	"fmt"

	"chat_service/internal/domain"
	apperrors "chat_service/pkg/errors"
	"chat_service/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ParticipantRepository interface {
	// Add добавляет участника (unread_count = число уже существующих сообщений)
	// и, если передано, системное сообщение: в одной транзакции.
	Add(ctx context.Context, p *domain.Participant, system *domain.Message) error
	Remove(ctx context.Context, dialogID, userID uuid.UUID, system *domain.Message) error
	Get(ctx context.Context, dialogID, userID uuid.UUID) (*domain.Participant, error)
	ListByDialog(ctx context.Context, dialogID uuid.UUID) ([]*domain.Participant, error)
	ListParticipantIDs(ctx context.Context, dialogID uuid.UUID) ([]uuid.UUID, error)
	// ListContactIDs: пользователи, у которых есть общий диалог с userID.
	ListContactIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	// MarkRead двигает last_read только вперед. false: если позиция не изменилась.
	MarkRead(ctx context.Context, dialogID, userID, messageID uuid.UUID) (bool, error)
	SetArchived(ctx context.Context, dialogID, userID uuid.UUID, archived bool) error
	SetPinned(ctx context.Context, dialogID, userID uuid.UUID, pinned bool) error
	SetNotifications(ctx context.Context, dialogID, userID uuid.UUID, enabled bool) error
}

const participantColumns = `dialog_id, user_id, joined_at, joined_as, notifications_enabled,
		       is_archived, is_pinned, last_read_message_id, unread_count,
		       display_name, company, email, phone`

type participantRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewParticipantRepository(db *pgxpool.Pool, log logger.Logger) ParticipantRepository {
	return &participantRepository{db: db, log: log}
}

func scanParticipant(row pgx.Row) (*domain.Participant, error) {
	p := &domain.Participant{}
	err := row.Scan(
		&p.DialogID, &p.UserID, &p.JoinedAt, &p.JoinedAs, &p.NotificationsEnabled,
		&p.IsArchived, &p.IsPinned, &p.LastReadMessageID, &p.UnreadCount,
		&p.DisplayName, &p.Company, &p.Email, &p.Phone,
	)
	return p, err
}

func insertParticipant(ctx context.Context, q querier, p *domain.Participant) error {
	err := q.QueryRow(ctx, `
		INSERT INTO dialog_participants (dialog_id, user_id, joined_at, joined_as, notifications_enabled,
		                                 unread_count, display_name, company, email, phone)
		VALUES ($1, $2, $3, $4, $5,
		        (SELECT COUNT(*) FROM messages WHERE dialog_id = $1), $6, $7, $8, $9)
		RETURNING unread_count
	`, p.DialogID, p.UserID, p.JoinedAt, p.JoinedAs, p.NotificationsEnabled,
		p.DisplayName, p.Company, p.Email, p.Phone,
	).Scan(&p.UnreadCount)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.Conflict("user is already a participant")
		}
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return apperrors.NotFound("dialog not found")
		}
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (r *participantRepository) Add(ctx context.Context, p *domain.Participant, system *domain.Message) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertParticipant(ctx, tx, p); err != nil {
		r.log.Warn("Failed to add participant", "error", err, "dialog_id", p.DialogID, "user_id", p.UserID)
		return err
	}
	if system != nil {
		if err := insertMessage(ctx, tx, system); err != nil {
			r.log.Error("Failed to add system message", "error", err, "dialog_id", p.DialogID)
			return err
		}
		p.UnreadCount++
	}

	return tx.Commit(ctx)
}

func (r *participantRepository) Remove(ctx context.Context, dialogID, userID uuid.UUID, system *domain.Message) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM dialog_participants WHERE dialog_id = $1 AND user_id = $2`, dialogID, userID)
	if err != nil {
		r.log.Error("Failed to remove participant", "error", err, "dialog_id", dialogID, "user_id", userID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("participant not found")
	}
	if system != nil {
		if err := insertMessage(ctx, tx, system); err != nil {
			r.log.Error("Failed to add system message", "error", err, "dialog_id", dialogID)
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *participantRepository) Get(ctx context.Context, dialogID, userID uuid.UUID) (*domain.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM dialog_participants WHERE dialog_id = $1 AND user_id = $2`

	p, err := scanParticipant(r.db.QueryRow(ctx, query, dialogID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("participant not found")
		}
		r.log.Error("Failed to get participant", "error", err)
		return nil, err
	}
	return p, nil
}

func (r *participantRepository) ListByDialog(ctx context.Context, dialogID uuid.UUID) ([]*domain.Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM dialog_participants
		WHERE dialog_id = $1
		ORDER BY joined_at ASC
	`

	rows, err := r.db.Query(ctx, query, dialogID)
	if err != nil {
		r.log.Error("Failed to list participants", "error", err, "dialog_id", dialogID)
		return nil, err
	}
	defer rows.Close()

	participants := make([]*domain.Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (r *participantRepository) ListParticipantIDs(ctx context.Context, dialogID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT user_id FROM dialog_participants WHERE dialog_id = $1`, dialogID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *participantRepository) ListContactIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT other.user_id
		FROM dialog_participants self
		JOIN dialog_participants other ON other.dialog_id = self.dialog_id
		WHERE self.user_id = $1 AND other.user_id <> $1
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *participantRepository) MarkRead(ctx context.Context, dialogID, userID, messageID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE dialog_participants
		SET last_read_message_id = $3,
		    unread_count = (
		        SELECT COUNT(*) FROM messages
		        WHERE dialog_id = $1 AND id > $3 AND (sender_id IS NULL OR sender_id <> $2)
		    )
		WHERE dialog_id = $1 AND user_id = $2
		  AND (last_read_message_id IS NULL OR last_read_message_id < $3)
	`, dialogID, userID, messageID)
	if err != nil {
		r.log.Error("Failed to mark read", "error", err, "dialog_id", dialogID, "user_id", userID)
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *participantRepository) setFlag(ctx context.Context, column string, dialogID, userID uuid.UUID, value bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE dialog_participants SET `+column+` = $3 WHERE dialog_id = $1 AND user_id = $2`,
		dialogID, userID, value)
	if err != nil {
		r.log.Error("Failed to update participant", "error", err, "column", column)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("participant not found")
	}
	return nil
}

func (r *participantRepository) SetArchived(ctx context.Context, dialogID, userID uuid.UUID, archived bool) error {
	return r.setFlag(ctx, "is_archived", dialogID, userID, archived)
}

func (r *participantRepository) SetPinned(ctx context.Context, dialogID, userID uuid.UUID, pinned bool) error {
	return r.setFlag(ctx, "is_pinned", dialogID, userID, pinned)
}

func (r *participantRepository) SetNotifications(ctx context.Context, dialogID, userID uuid.UUID, enabled bool) error {
	return r.setFlag(ctx, "notifications_enabled", dialogID, userID, enabled)
}
