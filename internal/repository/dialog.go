package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat_service/internal/domain"
	apperrors "chat_service/pkg/errors"
	"chat_service/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DialogRepository interface {
	// Create сохраняет диалог, участников, правила доступа и системное сообщение атомарно.
	Create(ctx context.Context, dialog *domain.Dialog, participants []*domain.Participant, scopes []*domain.AccessScope, system *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Dialog, error)
	// GetView возвращает диалог со сводкой (последнее сообщение, число участников) без состояния пользователя.
	GetView(ctx context.Context, id uuid.UUID) (*domain.DialogView, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// ListForUser: диалоги, где пользователь участник. archived == nil, все.
	ListForUser(ctx context.Context, userID uuid.UUID, archived *bool) ([]*domain.DialogView, error)
	// ListCandidates: диалоги с правилами для tenant, где пользователь еще не участник.
	ListCandidates(ctx context.Context, tenantUID, userID uuid.UUID) ([]*domain.DialogView, error)
	// ArchiveInactive архивирует диалоги без активности с cutoff. Возвращает dialog -> пользователи.
	ArchiveInactive(ctx context.Context, cutoff time.Time) (map[uuid.UUID][]uuid.UUID, error)
}

const dialogViewSelect = `
		SELECT d.id, d.object_id, d.object_type, d.title, d.object_url, d.created_by, d.created_at,
		       (SELECT MAX(m.sent_at) FROM messages m WHERE m.dialog_id = d.id) AS last_message_at,
		       (SELECT COUNT(*) FROM dialog_participants dp WHERE dp.dialog_id = d.id) AS participants_count
		FROM dialogs d`

type dialogRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewDialogRepository(db *pgxpool.Pool, log logger.Logger) DialogRepository {
	return &dialogRepository{db: db, log: log}
}

func (r *dialogRepository) Create(ctx context.Context, dialog *domain.Dialog, participants []*domain.Participant, scopes []*domain.AccessScope, system *domain.Message) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO dialogs (id, object_id, object_type, title, object_url, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, dialog.ID, dialog.ObjectID, dialog.ObjectType, dialog.Title, dialog.ObjectURL, dialog.CreatedBy, dialog.CreatedAt)
	if err != nil {
		r.log.Error("Failed to create dialog", "error", err)
		return fmt.Errorf("insert dialog: %w", err)
	}

	for _, p := range participants {
		if err := insertParticipant(ctx, tx, p); err != nil {
			r.log.Error("Failed to add dialog participant", "error", err, "user_id", p.UserID)
			return err
		}
	}

	if err := insertScopes(ctx, tx, dialog.ID, scopes); err != nil {
		r.log.Error("Failed to create access scopes", "error", err)
		return err
	}

	if system != nil {
		if err := insertMessage(ctx, tx, system); err != nil {
			r.log.Error("Failed to create system message", "error", err)
			return err
		}
		for _, p := range participants {
			p.UnreadCount++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit dialog: %w", err)
	}
	return nil
}

func (r *dialogRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Dialog, error) {
	d := &domain.Dialog{}
	err := r.db.QueryRow(ctx, `
		SELECT id, object_id, object_type, title, object_url, created_by, created_at
		FROM dialogs
		WHERE id = $1
	`, id).Scan(&d.ID, &d.ObjectID, &d.ObjectType, &d.Title, &d.ObjectURL, &d.CreatedBy, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("dialog not found")
		}
		r.log.Error("Failed to get dialog", "error", err, "dialog_id", id)
		return nil, err
	}
	return d, nil
}

func scanDialogView(row pgx.Row) (*domain.DialogView, error) {
	v := &domain.DialogView{}
	err := row.Scan(
		&v.ID, &v.ObjectID, &v.ObjectType, &v.Title, &v.ObjectURL, &v.CreatedBy, &v.CreatedAt,
		&v.LastMessageAt, &v.ParticipantsCount,
	)
	return v, err
}

func (r *dialogRepository) GetView(ctx context.Context, id uuid.UUID) (*domain.DialogView, error) {
	v, err := scanDialogView(r.db.QueryRow(ctx, dialogViewSelect+` WHERE d.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("dialog not found")
		}
		r.log.Error("Failed to get dialog view", "error", err, "dialog_id", id)
		return nil, err
	}
	return v, nil
}

func (r *dialogRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM dialogs WHERE id = $1`, id)
	if err != nil {
		r.log.Error("Failed to delete dialog", "error", err, "dialog_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("dialog not found")
	}
	return nil
}

func (r *dialogRepository) ListForUser(ctx context.Context, userID uuid.UUID, archived *bool) ([]*domain.DialogView, error) {
	query := `
		SELECT d.id, d.object_id, d.object_type, d.title, d.object_url, d.created_by, d.created_at,
		       (SELECT MAX(m.sent_at) FROM messages m WHERE m.dialog_id = d.id) AS last_message_at,
		       (SELECT COUNT(*) FROM dialog_participants dp WHERE dp.dialog_id = d.id) AS participants_count,
		       ` + prefixed("p", participantColumns) + `
		FROM dialogs d
		JOIN dialog_participants p ON p.dialog_id = d.id
		WHERE p.user_id = $1 AND ($2::boolean IS NULL OR p.is_archived = $2)
		ORDER BY p.is_pinned DESC, COALESCE((SELECT MAX(m.sent_at) FROM messages m WHERE m.dialog_id = d.id), d.created_at) DESC
	`

	rows, err := r.db.Query(ctx, query, userID, archived)
	if err != nil {
		r.log.Error("Failed to list dialogs", "error", err, "user_id", userID)
		return nil, err
	}
	defer rows.Close()

	views := make([]*domain.DialogView, 0)
	for rows.Next() {
		v := &domain.DialogView{}
		p := &domain.Participant{}
		err := rows.Scan(
			&v.ID, &v.ObjectID, &v.ObjectType, &v.Title, &v.ObjectURL, &v.CreatedBy, &v.CreatedAt,
			&v.LastMessageAt, &v.ParticipantsCount,
			&p.DialogID, &p.UserID, &p.JoinedAt, &p.JoinedAs, &p.NotificationsEnabled,
			&p.IsArchived, &p.IsPinned, &p.LastReadMessageID, &p.UnreadCount,
			&p.DisplayName, &p.Company, &p.Email, &p.Phone,
		)
		if err != nil {
			r.log.Error("Failed to scan dialog", "error", err)
			return nil, err
		}
		v.ApplyParticipant(p)
		views = append(views, v)
	}
	return views, rows.Err()
}

func (r *dialogRepository) ListCandidates(ctx context.Context, tenantUID, userID uuid.UUID) ([]*domain.DialogView, error) {
	query := dialogViewSelect + `
		WHERE EXISTS (SELECT 1 FROM dialog_access_scopes s WHERE s.dialog_id = d.id AND s.tenant_uid = $1)
		  AND NOT EXISTS (SELECT 1 FROM dialog_participants p WHERE p.dialog_id = d.id AND p.user_id = $2)
		ORDER BY d.created_at DESC
	`

	rows, err := r.db.Query(ctx, query, tenantUID, userID)
	if err != nil {
		r.log.Error("Failed to list candidate dialogs", "error", err, "tenant_uid", tenantUID)
		return nil, err
	}
	defer rows.Close()

	views := make([]*domain.DialogView, 0)
	for rows.Next() {
		v, err := scanDialogView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

func (r *dialogRepository) ArchiveInactive(ctx context.Context, cutoff time.Time) (map[uuid.UUID][]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE dialog_participants p
		SET is_archived = TRUE
		FROM dialogs d
		WHERE p.dialog_id = d.id
		  AND NOT p.is_archived
		  AND COALESCE((SELECT MAX(m.sent_at) FROM messages m WHERE m.dialog_id = d.id), d.created_at) < $1
		RETURNING p.dialog_id, p.user_id
	`, cutoff)
	if err != nil {
		r.log.Error("Failed to archive inactive dialogs", "error", err)
		return nil, err
	}
	defer rows.Close()

	affected := make(map[uuid.UUID][]uuid.UUID)
	for rows.Next() {
		var dialogID, userID uuid.UUID
		if err := rows.Scan(&dialogID, &userID); err != nil {
			return nil, err
		}
		affected[dialogID] = append(affected[dialogID], userID)
	}
	return affected, rows.Err()
}

// prefixed добавляет алиас таблицы к каждому столбцу списка.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}
