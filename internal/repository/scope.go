package repository

import (
	"context"
	"fmt"
	"time"

	"chat_service/internal/domain"
	"chat_service/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ScopeRepository interface {
	ListByDialog(ctx context.Context, dialogID uuid.UUID) ([]*domain.AccessScope, error)
	ListByDialogs(ctx context.Context, dialogIDs []uuid.UUID) (map[uuid.UUID][]*domain.AccessScope, error)
	// Replace заменяет весь набор правил диалога в одной транзакции.
	Replace(ctx context.Context, dialogID uuid.UUID, scopes []*domain.AccessScope) error
}

type scopeRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewScopeRepository(db *pgxpool.Pool, log logger.Logger) ScopeRepository {
	return &scopeRepository{db: db, log: log}
}

func insertScopes(ctx context.Context, q querier, dialogID uuid.UUID, scopes []*domain.AccessScope) error {
	for _, s := range scopes {
		s.DialogID = dialogID
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = time.Now().UTC()
		}
		if s.ScopeLevel1 == nil {
			s.ScopeLevel1 = []string{}
		}
		if s.ScopeLevel2 == nil {
			s.ScopeLevel2 = []string{}
		}
		_, err := q.Exec(ctx, `
			INSERT INTO dialog_access_scopes (id, dialog_id, tenant_uid, scope_level1, scope_level2, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, s.ID, dialogID, s.TenantUID, s.ScopeLevel1, s.ScopeLevel2, s.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert access scope: %w", err)
		}
	}
	return nil
}

func (r *scopeRepository) ListByDialog(ctx context.Context, dialogID uuid.UUID) ([]*domain.AccessScope, error) {
	scopes, err := r.ListByDialogs(ctx, []uuid.UUID{dialogID})
	if err != nil {
		return nil, err
	}
	if scopes[dialogID] == nil {
		return []*domain.AccessScope{}, nil
	}
	return scopes[dialogID], nil
}

func (r *scopeRepository) ListByDialogs(ctx context.Context, dialogIDs []uuid.UUID) (map[uuid.UUID][]*domain.AccessScope, error) {
	result := make(map[uuid.UUID][]*domain.AccessScope, len(dialogIDs))
	if len(dialogIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, dialog_id, tenant_uid, scope_level1, scope_level2, created_at
		FROM dialog_access_scopes
		WHERE dialog_id = ANY($1)
		ORDER BY created_at ASC
	`, dialogIDs)
	if err != nil {
		r.log.Error("Failed to list access scopes", "error", err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		s := &domain.AccessScope{}
		if err := rows.Scan(&s.ID, &s.DialogID, &s.TenantUID, &s.ScopeLevel1, &s.ScopeLevel2, &s.CreatedAt); err != nil {
			return nil, err
		}
		result[s.DialogID] = append(result[s.DialogID], s)
	}
	return result, rows.Err()
}

func (r *scopeRepository) Replace(ctx context.Context, dialogID uuid.UUID, scopes []*domain.AccessScope) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM dialog_access_scopes WHERE dialog_id = $1`, dialogID); err != nil {
		r.log.Error("Failed to clear access scopes", "error", err, "dialog_id", dialogID)
		return err
	}
	if err := insertScopes(ctx, tx, dialogID, scopes); err != nil {
		r.log.Error("Failed to replace access scopes", "error", err, "dialog_id", dialogID)
		return err
	}
	return tx.Commit(ctx)
}
