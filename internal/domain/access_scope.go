package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccessScope определяет, кто может увидеть диалог и присоединиться к нему.
// Набор правил диалога заменяется целиком.
type AccessScope struct {
	ID          uuid.UUID `json:"id"`
	DialogID    uuid.UUID `json:"dialog_id"`
	TenantUID   uuid.UUID `json:"tenant_uid"`
	ScopeLevel1 []string  `json:"scope_level1"`
	ScopeLevel2 []string  `json:"scope_level2"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserScope приходит от хост-приложения в заголовке X-Scope-Config.
type UserScope struct {
	TenantUID   uuid.UUID `json:"tenant_uid"`
	ScopeLevel1 []string  `json:"scope_level1"`
	ScopeLevel2 []string  `json:"scope_level2"`
}

// Matches: tenant совпадает И (level1 пуст или пересекается) И (level2 пуст или пересекается).
// Пустой список на стороне правила: wildcard, на стороне пользователя, нет.
func (s *AccessScope) Matches(user UserScope) bool {
	if s.TenantUID != user.TenantUID {
		return false
	}
	return levelMatches(s.ScopeLevel1, user.ScopeLevel1) && levelMatches(s.ScopeLevel2, user.ScopeLevel2)
}

func levelMatches(required, have []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		for _, h := range have {
			if r == h {
				return true
			}
		}
	}
	return false
}

// CanAccess: правила диалога объединяются через ИЛИ.
func CanAccess(user UserScope, scopes []*AccessScope) bool {
	for _, s := range scopes {
		if s.Matches(user) {
			return true
		}
	}
	return false
}

// ValidateScopes проверяет набор правил перед сохранением.
func ValidateScopes(scopes []*AccessScope) error {
	for i, s := range scopes {
		if s.TenantUID == uuid.Nil {
			return &ScopeError{Index: i}
		}
	}
	return nil
}

type ScopeError struct {
	Index int
}

func (e *ScopeError) Error() string {
	return "access scope has empty tenant_uid"
}
