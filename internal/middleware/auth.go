package middleware

import (
	"fmt"
	"strings"

	"chat_service/internal/config"
	apperrors "chat_service/pkg/errors"
	"chat_service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const userIDKey = "user_id"

// UserClaims: claims токена, который выпускает хост-приложение.
type UserClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// AuthMiddleware проверяет пользовательские JWT (HS256).
type AuthMiddleware struct {
	jwtSecret []byte
	issuer    string
	log       logger.Logger
}

func NewAuthMiddleware(cfg config.JWTConfig, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		log:       log,
	}
}

// RequireAuth принимает токен из Authorization: Bearer или из query-параметра token.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			abortWithError(c, apperrors.Unauthorized("authorization token required"))
			return
		}

		userID, err := m.ParseToken(tokenString)
		if err != nil {
			m.log.Debug("Token validation failed", "error", err, "path", c.Request.URL.Path)
			abortWithError(c, apperrors.Unauthorized("invalid or expired token"))
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// ParseToken валидирует подпись и срок действия и возвращает user_id.
func (m *AuthMiddleware) ParseToken(tokenString string) (uuid.UUID, error) {
	var opts []jwt.ParserOption
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.jwtSecret, nil
	}, opts...)
	if err != nil {
		return uuid.Nil, err
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return uuid.Nil, fmt.Errorf("invalid token claims")
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user_id claim: %w", err)
	}
	return userID, nil
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	// Браузер не может выставить заголовок при открытии WebSocket
	return c.Query("token")
}

// UserID возвращает пользователя, установленного RequireAuth.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
