package middleware

import (
	"crypto/subtle"
	"strings"

	apperrors "chat_service/pkg/errors"
	"chat_service/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequireAdmin защищает management API статическим токеном.
// Пустой токен отключает проверку (локальная разработка).
func RequireAdmin(token string, log logger.Logger) gin.HandlerFunc {
	if token == "" {
		log.Warn("ADMIN_API_TOKEN is empty, management API is not protected")
		return func(c *gin.Context) { c.Next() }
	}
	expected := []byte(token)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) <= 7 || !strings.EqualFold(authHeader[:7], "Bearer ") {
			abortWithError(c, apperrors.Unauthorized("invalid authorization format, use: Bearer <token>"))
			return
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(authHeader[7:])), expected) != 1 {
			log.Warn("Invalid admin token", "client_ip", c.ClientIP())
			abortWithError(c, apperrors.Forbidden("invalid admin token"))
			return
		}
		c.Next()
	}
}
