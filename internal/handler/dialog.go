package handler

import (
	"net/http"
	"strconv"

	"chat_service/internal/domain"
	"chat_service/internal/middleware"
	"chat_service/internal/service"
	apperrors "chat_service/pkg/errors"
	"chat_service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type DialogHandler struct {
	dialogService  service.DialogService
	messageService service.MessageService
	log            logger.Logger
}

func NewDialogHandler(dialogService service.DialogService, messageService service.MessageService, log logger.Logger) *DialogHandler {
	return &DialogHandler{
		dialogService:  dialogService,
		messageService: messageService,
		log:            log,
	}
}

// List: диалоги пользователя, ?archived=true|false фильтрует по архиву.
func (h *DialogHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var archived *bool
	if raw := c.Query("archived"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, apperrors.BadRequest("archived must be true or false"))
			return
		}
		archived = &v
	}

	dialogs, err := h.dialogService.ListForUser(c.Request.Context(), userID, archived)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, dialogs)
}

func (h *DialogHandler) Available(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	scope, ok := requireScope(c)
	if !ok {
		return
	}

	dialogs, err := h.dialogService.ListAvailable(c.Request.Context(), userID, *scope)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, dialogs)
}

func (h *DialogHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	dialogID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	dialog, err := h.dialogService.Get(c.Request.Context(), userID, middleware.Scope(c), dialogID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, dialog)
}

func (h *DialogHandler) Join(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	dialogID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	scope, ok := requireScope(c)
	if !ok {
		return
	}

	var profile domain.Profile
	if c.Request.ContentLength != 0 && !bindJSON(c, &profile) {
		return
	}

	p, err := h.dialogService.Join(c.Request.Context(), userID, *scope, dialogID, profile)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, p)
}

func (h *DialogHandler) Leave(c *gin.Context) {
	h.participantAction(c, func(c *gin.Context, userID, dialogID uuid.UUID) error {
		return h.dialogService.Leave(c.Request.Context(), userID, dialogID)
	})
}

func (h *DialogHandler) Archive(c *gin.Context)   { h.setArchived(c, true) }
func (h *DialogHandler) Unarchive(c *gin.Context) { h.setArchived(c, false) }
func (h *DialogHandler) Pin(c *gin.Context)       { h.setPinned(c, true) }
func (h *DialogHandler) Unpin(c *gin.Context)     { h.setPinned(c, false) }

func (h *DialogHandler) setArchived(c *gin.Context, archived bool) {
	h.participantAction(c, func(c *gin.Context, userID, dialogID uuid.UUID) error {
		return h.dialogService.SetArchived(c.Request.Context(), userID, dialogID, archived)
	})
}

func (h *DialogHandler) setPinned(c *gin.Context, pinned bool) {
	h.participantAction(c, func(c *gin.Context, userID, dialogID uuid.UUID) error {
		return h.dialogService.SetPinned(c.Request.Context(), userID, dialogID, pinned)
	})
}

type SetNotificationsRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *DialogHandler) SetNotifications(c *gin.Context) {
	var req SetNotificationsRequest
	if !bindJSON(c, &req) {
		return
	}
	h.participantAction(c, func(c *gin.Context, userID, dialogID uuid.UUID) error {
		return h.dialogService.SetNotifications(c.Request.Context(), userID, dialogID, *req.Enabled)
	})
}

type MarkReadRequest struct {
	LastReadMessageID uuid.UUID `json:"last_read_message_id" binding:"required"`
}

func (h *DialogHandler) MarkRead(c *gin.Context) {
	var req MarkReadRequest
	if !bindJSON(c, &req) {
		return
	}
	h.participantAction(c, func(c *gin.Context, userID, dialogID uuid.UUID) error {
		return h.messageService.MarkRead(c.Request.Context(), userID, dialogID, req.LastReadMessageID)
	})
}

func (h *DialogHandler) Participants(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	dialogID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	participants, err := h.dialogService.ListParticipants(c.Request.Context(), userID, dialogID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, participants)
}

// participantAction: общий каркас для изменений состояния участника без тела ответа.
func (h *DialogHandler) participantAction(c *gin.Context, action func(c *gin.Context, userID, dialogID uuid.UUID) error) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	dialogID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := action(c, userID, dialogID); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c)
}

func requireScope(c *gin.Context) (*domain.UserScope, bool) {
	scope := middleware.Scope(c)
	if scope == nil {
		respondError(c, apperrors.BadRequest("%s header required", middleware.ScopeHeader))
		return nil, false
	}
	return scope, true
}
