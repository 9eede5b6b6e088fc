package handler

import (
	"net/http"

	"chat_service/internal/middleware"
	"chat_service/internal/realtime"
	apperrors "chat_service/pkg/errors"
	"chat_service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Доступ определяется токеном, а не Origin
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketHandler struct {
	hub        *realtime.Hub
	auth       *middleware.AuthMiddleware
	sendBuffer int
	log        logger.Logger
}

func NewWebSocketHandler(hub *realtime.Hub, auth *middleware.AuthMiddleware, sendBuffer int, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:        hub,
		auth:       auth,
		sendBuffer: sendBuffer,
		log:        log,
	}
}

// Handle: GET /ws?token=<jwt>. Токен проверяется до апгрейда соединения.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		respondError(c, apperrors.Unauthorized("token query parameter required"))
		return
	}
	userID, err := h.auth.ParseToken(token)
	if err != nil {
		h.log.Debug("WebSocket token rejected", "error", err)
		respondError(c, apperrors.Unauthorized("invalid or expired token"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", "error", err, "user_id", userID)
		return
	}

	client := realtime.NewClient(conn, userID, h.hub, h.sendBuffer, h.log)
	client.Serve(c.Request.Context())
}
