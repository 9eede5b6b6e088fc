package middleware

import (
	"net/http"

	"chat_service/internal/service"
	apperrors "chat_service/pkg/errors"
	"chat_service/pkg/logger"

	"github.com/gin-gonic/gin"
)

type RateLimitMiddleware struct {
	rateLimitService service.RateLimitService
	log              logger.Logger
}

func NewRateLimitMiddleware(rateLimitService service.RateLimitService, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		log:              log,
	}
}

// LimitMessages ограничивает отправку сообщений на пользователя. Ставится после RequireAuth.
// При недоступном Redis запрос пропускается.
func (m *RateLimitMiddleware) LimitMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			c.Next()
			return
		}

		allowed, err := m.rateLimitService.AllowMessage(c.Request.Context(), userID)
		if err != nil {
			m.log.Error("Rate limit check failed", "error", err, "user_id", userID)
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": &apperrors.APIError{
				Code:    "RATE_LIMITED",
				Message: "too many messages, slow down",
			}})
			return
		}
		c.Next()
	}
}
