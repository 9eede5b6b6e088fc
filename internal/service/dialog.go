package service

import (
	"context"
	"errors"
	"time"

	"chat_service/internal/domain"
	"chat_service/internal/repository"
	"chat_service/internal/webhook"
	apperrors "chat_service/pkg/errors"
	"chat_service/pkg/logger"

	"github.com/google/uuid"
)

type DialogService interface {
	ListForUser(ctx context.Context, userID uuid.UUID, archived *bool) ([]*domain.DialogView, error)
	// ListAvailable: диалоги, к которым пользователь может присоединиться по своим правам.
	ListAvailable(ctx context.Context, userID uuid.UUID, scope domain.UserScope) ([]*domain.DialogView, error)
	Get(ctx context.Context, userID uuid.UUID, scope *domain.UserScope, dialogID uuid.UUID) (*domain.DialogView, error)
	Join(ctx context.Context, userID uuid.UUID, scope domain.UserScope, dialogID uuid.UUID, profile domain.Profile) (*domain.Participant, error)
	Leave(ctx context.Context, userID, dialogID uuid.UUID) error
	SetArchived(ctx context.Context, userID, dialogID uuid.UUID, archived bool) error
	SetPinned(ctx context.Context, userID, dialogID uuid.UUID, pinned bool) error
	SetNotifications(ctx context.Context, userID, dialogID uuid.UUID, enabled bool) error
	ListParticipants(ctx context.Context, userID, dialogID uuid.UUID) ([]*domain.ParticipantInfo, error)
}

type dialogService struct {
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

func NewDialogService(
	repos *repository.Repositories,
	locks *DialogLocks,
	publisher EventPublisher,
	webhooks WebhookSender,
	notifications NotificationService,
	log logger.Logger,
) DialogService {
	return &dialogService{
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

func (s *dialogService) ListForUser(ctx context.Context, userID uuid.UUID, archived *bool) ([]*domain.DialogView, error) {
	return s.dialogRepo.ListForUser(ctx, userID, archived)
}

func (s *dialogService) ListAvailable(ctx context.Context, userID uuid.UUID, scope domain.UserScope) ([]*domain.DialogView, error) {
	if scope.TenantUID == uuid.Nil {
		return nil, apperrors.BadRequest("scope config with tenant_uid is required")
	}
	candidates, err := s.dialogRepo.ListCandidates(ctx, scope.TenantUID, userID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	ids := make([]uuid.UUID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	scopes, err := s.scopeRepo.ListByDialogs(ctx, ids)
	if err != nil {
		return nil, err
	}

	available := make([]*domain.DialogView, 0, len(candidates))
	for _, c := range candidates {
		if domain.CanAccess(scope, scopes[c.ID]) {
			c.CanJoin = true
			available = append(available, c)
		}
	}
	return available, nil
}

// Get: участник видит свое состояние, не участник: только если подходит по правам.
func (s *dialogService) Get(ctx context.Context, userID uuid.UUID, scope *domain.UserScope, dialogID uuid.UUID) (*domain.DialogView, error) {
	view, err := s.dialogRepo.GetView(ctx, dialogID)
	if err != nil {
		return nil, err
	}

	p, err := s.participantRepo.Get(ctx, dialogID, userID)
	if err == nil {
		view.ApplyParticipant(p)
		return view, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	if scope == nil {
		return nil, apperrors.Forbidden("you are not a participant of this dialog")
	}
	scopes, err := s.scopeRepo.ListByDialog(ctx, dialogID)
	if err != nil {
		return nil, err
	}
	if !domain.CanAccess(*scope, scopes) {
		return nil, apperrors.Forbidden("you do not have access to this dialog")
	}
	view.CanJoin = true
	return view, nil
}

func (s *dialogService) Join(ctx context.Context, userID uuid.UUID, scope domain.UserScope, dialogID uuid.UUID, profile domain.Profile) (*domain.Participant, error) {
	dialog, err := s.dialogRepo.GetByID(ctx, dialogID)
	if err != nil {
		return nil, err
	}
	scopes, err := s.scopeRepo.ListByDialog(ctx, dialogID)
	if err != nil {
		return nil, err
	}
	if !domain.CanAccess(scope, scopes) {
		return nil, apperrors.Forbidden("you do not have access to this dialog")
	}

	now := s.now()
	p := domain.NewParticipant(dialogID, userID, domain.JoinedAsMember, now)
	p.ApplyProfile(profile)
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
	s.log.Info("User joined dialog", "dialog_id", dialogID, "user_id", userID)
	return p, nil
}

func (s *dialogService) Leave(ctx context.Context, userID, dialogID uuid.UUID) error {
	dialog, err := s.dialogRepo.GetByID(ctx, dialogID)
	if err != nil {
		return err
	}
	p, err := requireParticipant(ctx, s.participantRepo, dialogID, userID)
	if err != nil {
		return err
	}
	if p.IsCreator() {
		return apperrors.Forbidden("dialog creator cannot leave the dialog")
	}

	_, err = s.locks.writeSystemMessage(ctx, s.publisher, dialogID, domain.ParticipantLeftContent(p.Name()), s.now(),
		func(system *domain.Message) error {
			return s.participantRepo.Remove(ctx, dialogID, userID, system)
		})
	if err != nil {
		return err
	}
	s.notifications.Cancel(dialogID, userID)

	payload := domain.ParticipantEventPayload{UserID: userID}
	_ = s.publisher.PublishToDialog(ctx, dialogID, domain.NewDialogEvent(domain.EventParticipantLeft, dialogID, payload))
	// Ушедший уже не участник, но должен узнать о своем выходе на других устройствах.
	s.publisher.PublishToUsers(ctx, []uuid.UUID{userID}, domain.NewDialogEvent(domain.EventParticipantLeft, dialogID, payload))
	s.webhooks.Send(webhook.ParticipantLeft(dialog, userID))

	s.log.Info("User left dialog", "dialog_id", dialogID, "user_id", userID)
	return nil
}

func (s *dialogService) SetArchived(ctx context.Context, userID, dialogID uuid.UUID, archived bool) error {
	if err := s.participantRepo.SetArchived(ctx, dialogID, userID, archived); err != nil {
		return asForbidden(err)
	}
	eventType := domain.EventDialogUnarchived
	if archived {
		eventType = domain.EventDialogArchived
	}
	s.publisher.PublishToUsers(ctx, []uuid.UUID{userID}, domain.NewDialogEvent(eventType, dialogID, nil))
	return nil
}

func (s *dialogService) SetPinned(ctx context.Context, userID, dialogID uuid.UUID, pinned bool) error {
	return asForbidden(s.participantRepo.SetPinned(ctx, dialogID, userID, pinned))
}

func (s *dialogService) SetNotifications(ctx context.Context, userID, dialogID uuid.UUID, enabled bool) error {
	if err := s.participantRepo.SetNotifications(ctx, dialogID, userID, enabled); err != nil {
		return asForbidden(err)
	}
	if !enabled {
		s.notifications.Cancel(dialogID, userID)
	}
	return nil
}

func (s *dialogService) ListParticipants(ctx context.Context, userID, dialogID uuid.UUID) ([]*domain.ParticipantInfo, error) {
	if _, err := requireParticipant(ctx, s.participantRepo, dialogID, userID); err != nil {
		return nil, err
	}
	participants, err := s.participantRepo.ListByDialog(ctx, dialogID)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(participants))
	for i, p := range participants {
		ids[i] = p.UserID
	}
	online := s.publisher.OnlineUsers(ctx, ids)

	infos := make([]*domain.ParticipantInfo, len(participants))
	for i, p := range participants {
		infos[i] = &domain.ParticipantInfo{Participant: *p, IsOnline: online[p.UserID]}
	}
	return infos, nil
}

func newSystemMessage(dialogID uuid.UUID, content string, now time.Time) *domain.Message {
	return &domain.Message{
		ID:          domain.NewMessageID(),
		DialogID:    dialogID,
		MessageType: domain.MessageTypeSystem,
		Content:     content,
		SentAt:      now,
		Attachments: []*domain.Attachment{},
	}
}

// asForbidden: изменение чужого состояния участника выглядит для клиента как Forbidden.
func asForbidden(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return apperrors.Forbidden("you are not a participant of this dialog")
	}
	return err
}
