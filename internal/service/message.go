package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"chat_service/internal/domain"
	"chat_service/internal/metrics"
	"chat_service/internal/repository"
	"chat_service/internal/webhook"
	apperrors "chat_service/pkg/errors"
	"chat_service/pkg/logger"

	"github.com/google/uuid"
)

type SendMessageInput struct {
	DialogID    uuid.UUID
	SenderID    uuid.UUID
	Content     string
	ReplyToID   *uuid.UUID
	Attachments []domain.AttachmentInput
}

type MessageService interface {
	List(ctx context.Context, userID, dialogID uuid.UUID, req domain.PageRequest) (*domain.MessagePage, error)
	Get(ctx context.Context, userID, dialogID, messageID uuid.UUID) (*domain.Message, error)
	Send(ctx context.Context, in SendMessageInput) (*domain.Message, error)
	Edit(ctx context.Context, userID, dialogID, messageID uuid.UUID, content string) (*domain.Message, error)
	Delete(ctx context.Context, userID, dialogID, messageID uuid.UUID) error
	MarkRead(ctx context.Context, userID, dialogID, messageID uuid.UUID) error
	History(ctx context.Context, userID, dialogID, messageID uuid.UUID) ([]*domain.MessageEdit, error)
}

type messageService struct {
	dialogRepo      repository.DialogRepository
	participantRepo repository.ParticipantRepository
	messageRepo     repository.MessageRepository
	attachmentRepo  repository.AttachmentRepository
	publisher       EventPublisher
	webhooks        WebhookSender
	notifications   NotificationService
	store           AttachmentStore
	log             logger.Logger
	metrics         *metrics.Metrics
	locks           *DialogLocks
	now             func() time.Time
}

func NewMessageService(
	repos *repository.Repositories,
	locks *DialogLocks,
	publisher EventPublisher,
	webhooks WebhookSender,
	notifications NotificationService,
	store AttachmentStore,
	log logger.Logger,
	m *metrics.Metrics,
) MessageService {
	return &messageService{
		dialogRepo:      repos.Dialog,
		participantRepo: repos.Participant,
		messageRepo:     repos.Message,
		attachmentRepo:  repos.Attachment,
		publisher:       publisher,
		webhooks:        webhooks,
		notifications:   notifications,
		store:           store,
		log:             log,
		metrics:         m,
		locks:           locks,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// requireParticipant возвращает Forbidden, если пользователь не участник диалога.
func requireParticipant(ctx context.Context, repo repository.ParticipantRepository, dialogID, userID uuid.UUID) (*domain.Participant, error) {
	p, err := repo.Get(ctx, dialogID, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Forbidden("you are not a participant of this dialog")
		}
		return nil, err
	}
	return p, nil
}

func normalizePage(req domain.PageRequest) (domain.PageRequest, error) {
	cursors := 0
	for _, c := range []*uuid.UUID{req.Before, req.After, req.Around} {
		if c != nil {
			cursors++
		}
	}
	if cursors > 1 {
		return req, apperrors.BadRequest("only one of before, after, around may be set")
	}
	if req.Limit < 0 || req.Limit > domain.MaxPageLimit {
		return req, apperrors.BadRequest("limit must be between 1 and %d", domain.MaxPageLimit)
	}
	if req.Limit == 0 {
		req.Limit = domain.DefaultPageLimit
	}
	return req, nil
}

func (s *messageService) List(ctx context.Context, userID, dialogID uuid.UUID, req domain.PageRequest) (*domain.MessagePage, error) {
	req, err := normalizePage(req)
	if err != nil {
		return nil, err
	}
	p, err := requireParticipant(ctx, s.participantRepo, dialogID, userID)
	if err != nil {
		return nil, err
	}

	var page *domain.MessagePage
	switch {
	case req.Before != nil:
		page, err = s.listBefore(ctx, dialogID, req.Before, req.Limit)
		if page != nil {
			page.HasMoreAfter = true
		}
	case req.After != nil:
		page, err = s.listAfter(ctx, dialogID, *req.After, req.Limit)
		if page != nil {
			page.HasMoreBefore = true
		}
	case req.Around != nil:
		page, err = s.listAround(ctx, dialogID, *req.Around, req.Limit)
	default:
		page, err = s.listBefore(ctx, dialogID, nil, req.Limit)
		if err == nil {
			page.FirstUnreadMessageID, err = s.messageRepo.FirstAfter(ctx, dialogID, p.LastReadMessageID)
		}
	}
	if err != nil {
		return nil, err
	}

	if err := s.enrich(ctx, page.Messages); err != nil {
		return nil, err
	}
	for i, m := range page.Messages {
		page.Messages[i] = m.Masked()
	}
	return page, nil
}

func (s *messageService) listBefore(ctx context.Context, dialogID uuid.UUID, before *uuid.UUID, limit int) (*domain.MessagePage, error) {
	msgs, err := s.messageRepo.ListBefore(ctx, dialogID, before, limit+1)
	if err != nil {
		return nil, err
	}
	page := &domain.MessagePage{}
	if len(msgs) > limit {
		page.HasMoreBefore = true
		msgs = msgs[:limit]
	}
	page.Messages = msgs
	return page, nil
}

func (s *messageService) listAfter(ctx context.Context, dialogID uuid.UUID, after uuid.UUID, limit int) (*domain.MessagePage, error) {
	msgs, err := s.messageRepo.ListAfter(ctx, dialogID, after, limit+1)
	if err != nil {
		return nil, err
	}
	page := &domain.MessagePage{}
	if len(msgs) > limit {
		page.HasMoreAfter = true
		msgs = msgs[:limit]
	}
	page.Messages = msgs
	return page, nil
}

// listAround: якорь и до limit/2 сообщений с каждой стороны, по возрастанию.
func (s *messageService) listAround(ctx context.Context, dialogID, anchorID uuid.UUID, limit int) (*domain.MessagePage, error) {
	anchor, err := s.messageRepo.GetByID(ctx, anchorID)
	if err != nil {
		return nil, err
	}
	if anchor.DialogID != dialogID {
		return nil, apperrors.NotFound("message not found")
	}

	half := limit / 2
	before, err := s.messageRepo.ListBefore(ctx, dialogID, &anchorID, half+1)
	if err != nil {
		return nil, err
	}
	after, err := s.messageRepo.ListAfter(ctx, dialogID, anchorID, half+1)
	if err != nil {
		return nil, err
	}

	page := &domain.MessagePage{}
	if len(before) > half {
		page.HasMoreBefore = true
		before = before[:half]
	}
	if len(after) > half {
		page.HasMoreAfter = true
		after = after[:half]
	}

	msgs := make([]*domain.Message, 0, len(before)+1+len(after))
	for i := len(before) - 1; i >= 0; i-- {
		msgs = append(msgs, before[i])
	}
	msgs = append(msgs, anchor)
	msgs = append(msgs, after...)
	page.Messages = msgs
	return page, nil
}

// enrich подгружает вложения и, если есть хранилище, подписанные ссылки на них.
func (s *messageService) enrich(ctx context.Context, msgs []*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	byMessage, err := s.attachmentRepo.ListByMessages(ctx, ids)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		m.Attachments = byMessage[m.ID]
		if m.Attachments == nil {
			m.Attachments = []*domain.Attachment{}
		}
		s.presign(ctx, m.Attachments)
	}
	return nil
}

func (s *messageService) presign(ctx context.Context, attachments []*domain.Attachment) {
	if s.store == nil {
		return
	}
	for _, a := range attachments {
		url, err := s.store.PresignGet(ctx, a.StorageKey)
		if err != nil {
			s.log.Warn("Failed to presign attachment", "error", err, "attachment_id", a.ID)
			continue
		}
		a.URL = url
		if a.ThumbnailKey != nil {
			thumb, err := s.store.PresignGet(ctx, *a.ThumbnailKey)
			if err == nil {
				a.ThumbnailURL = &thumb
			}
		}
	}
}

func (s *messageService) getInDialog(ctx context.Context, dialogID, messageID uuid.UUID) (*domain.Message, error) {
	m, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.DialogID != dialogID {
		return nil, apperrors.NotFound("message not found")
	}
	return m, nil
}

func (s *messageService) Get(ctx context.Context, userID, dialogID, messageID uuid.UUID) (*domain.Message, error) {
	if _, err := requireParticipant(ctx, s.participantRepo, dialogID, userID); err != nil {
		return nil, err
	}
	m, err := s.getInDialog(ctx, dialogID, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.enrich(ctx, []*domain.Message{m}); err != nil {
		return nil, err
	}
	return m.Masked(), nil
}

func (s *messageService) validateAttachments(ctx context.Context, inputs []domain.AttachmentInput) error {
	if len(inputs) > domain.MaxAttachmentsPerMessage {
		return apperrors.BadRequest("too many attachments (max %d)", domain.MaxAttachmentsPerMessage)
	}
	for _, a := range inputs {
		if a.StorageKey == "" || a.Filename == "" {
			return apperrors.BadRequest("attachment requires s3_key and filename")
		}
		if !domain.IsValidAttachmentSize(a.Size) {
			return apperrors.BadRequest("attachment %q has invalid size", a.Filename)
		}
		if !domain.IsAllowedAttachmentType(a.ContentType) {
			return apperrors.BadRequest("attachment type %q is not allowed", a.ContentType)
		}
		if s.store != nil {
			ok, err := s.store.Exists(ctx, a.StorageKey)
			if err != nil {
				return err
			}
			if !ok {
				return apperrors.BadRequest("attachment %q was not uploaded", a.Filename)
			}
		}
	}
	return nil
}

func (s *messageService) Send(ctx context.Context, in SendMessageInput) (*domain.Message, error) {
	dialog, err := s.dialogRepo.GetByID(ctx, in.DialogID)
	if err != nil {
		return nil, err
	}
	if _, err := requireParticipant(ctx, s.participantRepo, in.DialogID, in.SenderID); err != nil {
		return nil, err
	}

	content := strings.TrimSpace(in.Content)
	if content == "" && len(in.Attachments) == 0 {
		return nil, apperrors.BadRequest("message must have content or attachments")
	}
	if err := s.validateAttachments(ctx, in.Attachments); err != nil {
		return nil, err
	}
	if in.ReplyToID != nil {
		parent, err := s.messageRepo.GetByID(ctx, *in.ReplyToID)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		if err != nil || parent.DialogID != in.DialogID {
			return nil, apperrors.BadRequest("reply_to message is not in this dialog")
		}
	}

	now := s.now()
	senderID := in.SenderID
	msg := &domain.Message{
		DialogID:    in.DialogID,
		SenderID:    &senderID,
		MessageType: domain.MessageTypeUser,
		Content:     content,
		ReplyToID:   in.ReplyToID,
		SentAt:      now,
	}
	attachments := make([]*domain.Attachment, 0, len(in.Attachments))

	lock := s.locks.forDialog(in.DialogID)
	lock.Lock()
	msg.ID = domain.NewMessageID()
	for _, a := range in.Attachments {
		attachments = append(attachments, &domain.Attachment{
			ID:           domain.NewMessageID(),
			MessageID:    msg.ID,
			Filename:     a.Filename,
			ContentType:  a.ContentType,
			Size:         a.Size,
			StorageKey:   a.StorageKey,
			Width:        a.Width,
			Height:       a.Height,
			ThumbnailKey: a.ThumbnailKey,
			CreatedAt:    now,
		})
	}
	unarchived, err := s.messageRepo.Create(ctx, msg, attachments)
	if err != nil {
		lock.Unlock()
		s.log.Error("Failed to send message", "error", err, "dialog_id", in.DialogID)
		return nil, err
	}
	s.presign(ctx, msg.Attachments)
	_ = s.publisher.PublishToDialog(ctx, in.DialogID, domain.NewDialogEvent(domain.EventMessageNew, in.DialogID, msg))
	lock.Unlock()

	s.metrics.MessagesSent.Inc()
	if len(unarchived) > 0 {
		s.publisher.PublishToUsers(ctx, unarchived, domain.NewDialogEvent(domain.EventDialogUnarchived, in.DialogID, nil))
	}
	s.webhooks.Send(webhook.MessageNew(dialog, msg))
	s.scheduleNotifications(ctx, msg)

	s.log.Debug("Message sent", "dialog_id", in.DialogID, "message_id", msg.ID)
	return msg, nil
}

func (s *messageService) scheduleNotifications(ctx context.Context, msg *domain.Message) {
	participants, err := s.participantRepo.ListByDialog(ctx, msg.DialogID)
	if err != nil {
		s.log.Warn("Failed to schedule notifications", "error", err, "dialog_id", msg.DialogID)
		return
	}
	for _, p := range participants {
		if msg.IsSentBy(p.UserID) || !p.NotificationsEnabled {
			continue
		}
		s.notifications.Schedule(msg.DialogID, p.UserID, msg.ID)
	}
}

// ownMessage: сообщение из диалога, не удалено и отправлено userID.
func (s *messageService) ownMessage(ctx context.Context, userID, dialogID, messageID uuid.UUID) (*domain.Message, error) {
	if _, err := requireParticipant(ctx, s.participantRepo, dialogID, userID); err != nil {
		return nil, err
	}
	m, err := s.getInDialog(ctx, dialogID, messageID)
	if err != nil {
		return nil, err
	}
	if m.IsDeleted {
		return nil, apperrors.NotFound("message not found")
	}
	if m.MessageType == domain.MessageTypeSystem || !m.IsSentBy(userID) {
		return nil, apperrors.Forbidden("only the sender can modify this message")
	}
	return m, nil
}

func (s *messageService) Edit(ctx context.Context, userID, dialogID, messageID uuid.UUID, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.BadRequest("content must not be empty")
	}
	if _, err := s.ownMessage(ctx, userID, dialogID, messageID); err != nil {
		return nil, err
	}

	updated, err := s.messageRepo.Update(ctx, messageID, content, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.enrich(ctx, []*domain.Message{updated}); err != nil {
		return nil, err
	}

	_ = s.publisher.PublishToDialog(ctx, dialogID, domain.NewDialogEvent(domain.EventMessageEdited, dialogID, updated))
	s.log.Debug("Message edited", "dialog_id", dialogID, "message_id", messageID)
	return updated, nil
}

func (s *messageService) Delete(ctx context.Context, userID, dialogID, messageID uuid.UUID) error {
	if _, err := s.ownMessage(ctx, userID, dialogID, messageID); err != nil {
		return err
	}
	if err := s.messageRepo.SoftDelete(ctx, messageID); err != nil {
		return err
	}

	_ = s.publisher.PublishToDialog(ctx, dialogID, domain.NewDialogEvent(domain.EventMessageDeleted, dialogID,
		domain.MessageDeletedPayload{MessageID: messageID}))
	s.log.Debug("Message deleted", "dialog_id", dialogID, "message_id", messageID)
	return nil
}

func (s *messageService) MarkRead(ctx context.Context, userID, dialogID, messageID uuid.UUID) error {
	if _, err := requireParticipant(ctx, s.participantRepo, dialogID, userID); err != nil {
		return err
	}
	if _, err := s.getInDialog(ctx, dialogID, messageID); err != nil {
		return err
	}

	moved, err := s.participantRepo.MarkRead(ctx, dialogID, userID, messageID)
	if err != nil {
		return err
	}
	s.notifications.Cancel(dialogID, userID)
	if !moved {
		return nil
	}

	_ = s.publisher.PublishToDialog(ctx, dialogID, domain.NewDialogEvent(domain.EventMessageRead, dialogID,
		domain.MessageReadPayload{UserID: userID, LastReadMessageID: messageID}))
	return nil
}

func (s *messageService) History(ctx context.Context, userID, dialogID, messageID uuid.UUID) ([]*domain.MessageEdit, error) {
	if _, err := requireParticipant(ctx, s.participantRepo, dialogID, userID); err != nil {
		return nil, err
	}
	m, err := s.getInDialog(ctx, dialogID, messageID)
	if err != nil {
		return nil, err
	}
	if m.IsDeleted {
		return []*domain.MessageEdit{}, nil
	}
	return s.messageRepo.ListHistory(ctx, messageID)
}
