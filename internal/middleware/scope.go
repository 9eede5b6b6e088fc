package middleware

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"chat_service/internal/domain"
	apperrors "chat_service/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	ScopeHeader = "X-Scope-Config"
	scopeKey    = "user_scope"
)

// ScopeConfig разбирает X-Scope-Config, если он передан. Отсутствие заголовка не ошибка:
// его требуют только обработчики, которым нужны права доступа.
func ScopeConfig() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(ScopeHeader)
		if raw == "" {
			c.Next()
			return
		}

		scope, err := ParseScope(raw)
		if err != nil {
			abortWithError(c, apperrors.BadRequest("invalid %s: %v", ScopeHeader, err))
			return
		}
		c.Set(scopeKey, scope)
		c.Next()
	}
}

// ParseScope декодирует base64 JSON {tenant_uid, scope_level1, scope_level2}.
func ParseScope(raw string) (*domain.UserScope, error) {
	raw = strings.TrimSpace(raw)
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		if data, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "=")); err != nil {
			return nil, fmt.Errorf("not valid base64")
		}
	}

	var scope domain.UserScope
	if err := json.Unmarshal(data, &scope); err != nil {
		return nil, fmt.Errorf("not valid JSON")
	}
	if scope.TenantUID == uuid.Nil {
		return nil, fmt.Errorf("tenant_uid is required")
	}
	return &scope, nil
}

// Scope возвращает права пользователя или nil, если заголовка не было.
func Scope(c *gin.Context) *domain.UserScope {
	v, ok := c.Get(scopeKey)
	if !ok {
		return nil
	}
	scope, _ := v.(*domain.UserScope)
	return scope
}
