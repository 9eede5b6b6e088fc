package handler

import (
	"net/http"

	"chat_service/internal/middleware"
	"chat_service/internal/realtime"
	"chat_service/internal/service"
	apperrors "chat_service/pkg/errors"
	"chat_service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handlers struct {
	Health     *HealthHandler
	Dialog     *DialogHandler
	Message    *MessageHandler
	Management *ManagementHandler
	WebSocket  *WebSocketHandler
}

type Deps struct {
	Services   *service.Services
	Hub        *realtime.Hub
	Auth       *middleware.AuthMiddleware
	Checks     []ReadinessCheck
	SendBuffer int
}

func NewHandlers(deps Deps, log logger.Logger) *Handlers {
	return &Handlers{
		Health:     NewHealthHandler(deps.Checks),
		Dialog:     NewDialogHandler(deps.Services.Dialog, deps.Services.Message, log),
		Message:    NewMessageHandler(deps.Services.Message, log),
		Management: NewManagementHandler(deps.Services.Management, log),
		WebSocket:  NewWebSocketHandler(deps.Hub, deps.Auth, deps.SendBuffer, log),
	}
}

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"data": data})
}

func respondOK(c *gin.Context) {
	respondData(c, http.StatusOK, gin.H{"success": true})
}

// respondError передает ошибку в middleware.ErrorHandler.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, apperrors.BadRequest("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, apperrors.Unauthorized("user not authenticated"))
	}
	return userID, ok
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, apperrors.BadRequest("invalid request body: %v", err))
		return false
	}
	return true
}
