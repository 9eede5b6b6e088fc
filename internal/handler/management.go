package handler

import (
	"net/http"

	"chat_service/internal/domain"
	"chat_service/internal/service"
	"chat_service/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ManagementHandler: серверный API хост-приложения, закрыт admin-токеном.
type ManagementHandler struct {
	managementService service.ManagementService
	log               logger.Logger
}

func NewManagementHandler(managementService service.ManagementService, log logger.Logger) *ManagementHandler {
	return &ManagementHandler{
		managementService: managementService,
		log:               log,
	}
}

func (h *ManagementHandler) CreateDialog(c *gin.Context) {
	var req service.CreateDialogInput
	if !bindJSON(c, &req) {
		return
	}

	dialog, err := h.managementService.CreateDialog(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, dialog)
}

func (h *ManagementHandler) DeleteDialog(c *gin.Context) {
	dialogID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.managementService.DeleteDialog(c.Request.Context(), dialogID); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c)
}

func (h *ManagementHandler) AddParticipant(c *gin.Context) {
	dialogID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req service.MemberInput
	if !bindJSON(c, &req) {
		return
	}

	p, err := h.managementService.AddParticipant(c.Request.Context(), dialogID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, p)
}

func (h *ManagementHandler) RemoveParticipant(c *gin.Context) {
	dialogID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	userID, ok := uuidParam(c, "userId")
	if !ok {
		return
	}
	if err := h.managementService.RemoveParticipant(c.Request.Context(), dialogID, userID); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c)
}

type ReplaceScopesRequest struct {
	AccessScopes []*domain.AccessScope `json:"access_scopes"`
}

func (h *ManagementHandler) ReplaceScopes(c *gin.Context) {
	dialogID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req ReplaceScopesRequest
	if !bindJSON(c, &req) {
		return
	}

	scopes, err := h.managementService.ReplaceScopes(c.Request.Context(), dialogID, req.AccessScopes)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, scopes)
}
