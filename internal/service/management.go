package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"chat_service/internal/domain"
	"chat_service/internal/repository"
	"chat_service/internal/webhook"
	apperrors "chat_service/pkg/errors"
	"chat_service/pkg/logger"

	"github.com/google/uuid"
)

type MemberInput struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
	domain.Profile
}

type CreateDialogInput struct {
	ObjectID     uuid.UUID             `json:"object_id" binding:"required"`
	ObjectType   string                `json:"object_type" binding:"required"`
	Title        *string               `json:"title,omitempty"`
	ObjectURL    *string               `json:"object_url,omitempty"`
	Creator      MemberInput           `json:"creator" binding:"required"`
	Members      []MemberInput         `json:"members"`
	AccessScopes []*domain.AccessScope `json:"access_scopes"`
}

// ManagementService: серверный API хост-приложения для диалогов и участников.
type ManagementService interface {
	CreateDialog(ctx context.Context, in CreateDialogInput) (*domain.Dialog, error)
	DeleteDialog(ctx context.Context, dialogID uuid.UUID) error
	AddParticipant(ctx context.Context, dialogID uuid.UUID, member MemberInput) (*domain.Participant, error)
	RemoveParticipant(ctx context.Context, dialogID, userID uuid.UUID) error
	ReplaceScopes(ctx context.Context, dialogID uuid.UUID, scopes []*domain.AccessScope) ([]*domain.AccessScope, error)
}

type managementService struct {
	dialogRepo      repository.DialogRepository
	scopeRepo       repository.ScopeRepository
	participantRepo repository.ParticipantRepository
	publisher       EventPublisher
	webhooks        WebhookSender
	notifications   NotificationService
	locks           *DialogLocks
	log             logger.Logger
	now             func() time.Time
}

func NewManagementService(
	repos *repository.Repositories,
	locks *DialogLocks,
	publisher EventPublisher,
	webhooks WebhookSender,
	notifications NotificationService,
	log logger.Logger,
) ManagementService {
	return &managementService{
		dialogRepo:      repos.Dialog,
		scopeRepo:       repos.Scope,
		participantRepo: repos.Participant,
		publisher:       publisher,
		webhooks:        webhooks,
		notifications:   notifications,
		locks:           locks,
		log:             log,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func validateScopes(scopes []*domain.AccessScope) error {
	if err := domain.ValidateScopes(scopes); err != nil {
		var scopeErr *domain.ScopeError
		if errors.As(err, &scopeErr) {
			return apperrors.BadRequest("access_scopes[%d]: tenant_uid is required", scopeErr.Index)
		}
		return apperrors.BadRequest("%s", err.Error())
	}
	return nil
}

func (s *managementService) CreateDialog(ctx context.Context, in CreateDialogInput) (*domain.Dialog, error) {
	if in.ObjectID == uuid.Nil || strings.TrimSpace(in.ObjectType) == "" {
		return nil, apperrors.BadRequest("object_id and object_type are required")
	}
	if in.Creator.UserID == uuid.Nil {
		return nil, apperrors.BadRequest("creator.user_id is required")
	}
	if err := validateScopes(in.AccessScopes); err != nil {
		return nil, err
	}

	now := s.now()
	creatorID := in.Creator.UserID
	dialog := &domain.Dialog{
		ID:         uuid.New(),
		ObjectID:   in.ObjectID,
		ObjectType: in.ObjectType,
		Title:      in.Title,
		ObjectURL:  in.ObjectURL,
		CreatedBy:  &creatorID,
		CreatedAt:  now,
	}

	creator := domain.NewParticipant(dialog.ID, creatorID, domain.JoinedAsCreator, now)
	creator.ApplyProfile(in.Creator.Profile)
	participants := []*domain.Participant{creator}
	seen := map[uuid.UUID]bool{creatorID: true}
	for _, m := range in.Members {
		if m.UserID == uuid.Nil || seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true
		p := domain.NewParticipant(dialog.ID, m.UserID, domain.JoinedAsMember, now)
		p.ApplyProfile(m.Profile)
		participants = append(participants, p)
	}

	names := make([]domain.SystemParticipant, len(participants))
	for i, p := range participants {
		names[i] = domain.SystemParticipant{Name: p.Name(), Company: p.Company}
	}
	system := newSystemMessage(dialog.ID, domain.ChatCreatedContent(names), now)

	if err := s.dialogRepo.Create(ctx, dialog, participants, in.AccessScopes, system); err != nil {
		return nil, err
	}

	for _, p := range participants {
		s.webhooks.Send(webhook.ParticipantJoined(dialog, p))
	}
	s.log.Info("Dialog created", "dialog_id", dialog.ID, "object_id", dialog.ObjectID, "participants", len(participants))
	return dialog, nil
}

func (s *managementService) DeleteDialog(ctx context.Context, dialogID uuid.UUID) error {
	if err := s.dialogRepo.Delete(ctx, dialogID); err != nil {
		return err
	}
	s.notifications.CancelDialog(dialogID)
	s.log.Info("Dialog deleted", "dialog_id", dialogID)
	return nil
}

func (s *managementService) AddParticipant(ctx context.Context, dialogID uuid.UUID, member MemberInput) (*domain.Participant, error) {
	if member.UserID == uuid.Nil {
		return nil, apperrors.BadRequest("user_id is required")
	}
	dialog, err := s.dialogRepo.GetByID(ctx, dialogID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := domain.NewParticipant(dialogID, member.UserID, domain.JoinedAsMember, now)
	p.ApplyProfile(member.Profile)
	content := domain.ParticipantJoinedContent(p.Name(), p.Company)
	_, err = s.locks.writeSystemMessage(ctx, s.publisher, dialogID, content, now, func(system *domain.Message) error {
		return s.participantRepo.Add(ctx, p, system)
	})
	if err != nil {
		return nil, err
	}

	_ = s.publisher.PublishToDialog(ctx, dialogID, domain.NewDialogEvent(domain.EventParticipantJoined, dialogID,
		domain.ParticipantEventPayload{UserID: p.UserID, JoinedAs: p.JoinedAs}))
	s.webhooks.Send(webhook.ParticipantJoined(dialog, p))

	s.log.Info("Participant added", "dialog_id", dialogID, "user_id", member.UserID)
	return p, nil
}

func (s *managementService) RemoveParticipant(ctx context.Context, dialogID, userID uuid.UUID) error {
	dialog, err := s.dialogRepo.GetByID(ctx, dialogID)
	if err != nil {
		return err
	}
	p, err := s.participantRepo.Get(ctx, dialogID, userID)
	if err != nil {
		return err
	}
	if p.IsCreator() {
		return apperrors.BadRequest("dialog creator cannot be removed")
	}

	_, err = s.locks.writeSystemMessage(ctx, s.publisher, dialogID, domain.ParticipantRemovedContent(p.Name()), s.now(),
		func(system *domain.Message) error {
			return s.participantRepo.Remove(ctx, dialogID, userID, system)
		})
	if err != nil {
		return err
	}
	s.notifications.Cancel(dialogID, userID)

	payload := domain.ParticipantEventPayload{UserID: userID}
	_ = s.publisher.PublishToDialog(ctx, dialogID, domain.NewDialogEvent(domain.EventParticipantLeft, dialogID, payload))
	s.publisher.PublishToUsers(ctx, []uuid.UUID{userID}, domain.NewDialogEvent(domain.EventParticipantLeft, dialogID, payload))
	s.webhooks.Send(webhook.ParticipantLeft(dialog, userID))

	s.log.Info("Participant removed", "dialog_id", dialogID, "user_id", userID)
	return nil
}

func (s *managementService) ReplaceScopes(ctx context.Context, dialogID uuid.UUID, scopes []*domain.AccessScope) ([]*domain.AccessScope, error) {
	if err := validateScopes(scopes); err != nil {
		return nil, err
	}
	if _, err := s.dialogRepo.GetByID(ctx, dialogID); err != nil {
		return nil, err
	}
	if err := s.scopeRepo.Replace(ctx, dialogID, scopes); err != nil {
		return nil, err
	}
	return s.scopeRepo.ListByDialog(ctx, dialogID)
}
