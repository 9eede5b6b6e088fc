package handler

import (
	"net/http"
	"strconv"

	"chat_service/internal/domain"
	"chat_service/internal/service"
	apperrors "chat_service/pkg/errors"
	"chat_service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MessageHandler struct {
	messageService service.MessageService
	log            logger.Logger
}

func NewMessageHandler(messageService service.MessageService, log logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		log:            log,
	}
}

// List: ?limit=&before=|after=|around= (не более одного курсора).
func (h *MessageHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	dialogID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	req, err := pageRequest(c)
	if err != nil {
		respondError(c, err)
		return
	}

	page, err := h.messageService.List(c.Request.Context(), userID, dialogID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, page)
}

func pageRequest(c *gin.Context) (domain.PageRequest, error) {
	var req domain.PageRequest
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return req, apperrors.BadRequest("limit must be an integer")
		}
		req.Limit = limit
	}

	cursors := []struct {
		name string
		dst  **uuid.UUID
	}{
		{"before", &req.Before},
		{"after", &req.After},
		{"around", &req.Around},
	}
	for _, cur := range cursors {
		raw := c.Query(cur.name)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return req, apperrors.BadRequest("invalid %s cursor", cur.name)
		}
		*cur.dst = &id
	}
	return req, nil
}

type SendMessageRequest struct {
	Content     string                   `json:"content"`
	ReplyTo     *uuid.UUID               `json:"reply_to"`
	Attachments []domain.AttachmentInput `json:"attachments"`
}

func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	dialogID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req SendMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	message, err := h.messageService.Send(c.Request.Context(), service.SendMessageInput{
		DialogID:    dialogID,
		SenderID:    userID,
		Content:     req.Content,
		ReplyToID:   req.ReplyTo,
		Attachments: req.Attachments,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, message)
}

func (h *MessageHandler) Get(c *gin.Context) {
	userID, dialogID, messageID, ok := messageParams(c)
	if !ok {
		return
	}

	message, err := h.messageService.Get(c.Request.Context(), userID, dialogID, messageID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, message)
}

type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *MessageHandler) Edit(c *gin.Context) {
	userID, dialogID, messageID, ok := messageParams(c)
	if !ok {
		return
	}
	var req EditMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	message, err := h.messageService.Edit(c.Request.Context(), userID, dialogID, messageID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, message)
}

func (h *MessageHandler) Delete(c *gin.Context) {
	userID, dialogID, messageID, ok := messageParams(c)
	if !ok {
		return
	}

	if err := h.messageService.Delete(c.Request.Context(), userID, dialogID, messageID); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c)
}

func (h *MessageHandler) History(c *gin.Context) {
	userID, dialogID, messageID, ok := messageParams(c)
	if !ok {
		return
	}

	edits, err := h.messageService.History(c.Request.Context(), userID, dialogID, messageID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, edits)
}

func messageParams(c *gin.Context) (userID, dialogID, messageID uuid.UUID, ok bool) {
	if userID, ok = currentUser(c); !ok {
		return
	}
	if dialogID, ok = uuidParam(c, "id"); !ok {
		return
	}
	messageID, ok = uuidParam(c, "messageId")
	return
}
