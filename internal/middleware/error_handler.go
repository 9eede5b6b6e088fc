package middleware

import (
	apperrors "chat_service/pkg/errors"
	"chat_service/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorHandler отдает последнюю ошибку из c.Errors в виде {"error": {"code", "message"}}.
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		status := apperrors.HTTPStatusFromError(err)
		if status >= 500 {
			log.Error("Request failed", "error", err, "method", c.Request.Method, "path", c.FullPath())
		}
		c.JSON(status, gin.H{"error": apperrors.NewAPIError(err)})
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperrors.HTTPStatusFromError(err), gin.H{"error": apperrors.NewAPIError(err)})
}
