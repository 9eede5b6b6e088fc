package service

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"chat_service/internal/metrics"
	"chat_service/internal/repository"
	"chat_service/internal/webhook"
	"chat_service/pkg/logger"

	"github.com/google/uuid"
)

const (
	notificationShards  = 32
	notificationTimeout = 10 * time.Second
)

// NotificationService откладывает уведомление о непрочитанном: одно на пару
// (диалог, получатель) за окно задержки, по последнему сообщению.
type NotificationService interface {
	Schedule(dialogID, recipientID, messageID uuid.UUID)
	Cancel(dialogID, recipientID uuid.UUID)
	CancelDialog(dialogID uuid.UUID)
	Pending() int
	Shutdown()
}

// Stopper: остановка отложенного вызова, как у *time.Timer.
type Stopper interface {
	Stop() bool
}

// AfterFunc планирует f через d. По умолчанию time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Stopper

func realAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

type pendingKey struct {
	dialogID    uuid.UUID
	recipientID uuid.UUID
}

type pendingEntry struct {
	messageID uuid.UUID
	timer     Stopper
}

type pendingShard struct {
	mu      sync.Mutex
	entries map[pendingKey]*pendingEntry
}

type notificationService struct {
	shards       [notificationShards]*pendingShard
	delay        time.Duration
	afterFunc    AfterFunc
	dialogs      repository.DialogRepository
	participants repository.ParticipantRepository
	messages     repository.MessageRepository
	webhooks     WebhookSender
	ctx          context.Context
	cancel       context.CancelFunc
	log          logger.Logger
	metrics      *metrics.Metrics
}

func NewNotificationService(
	repos *repository.Repositories,
	webhooks WebhookSender,
	delay time.Duration,
	afterFunc AfterFunc,
	log logger.Logger,
	m *metrics.Metrics,
) NotificationService {
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &notificationService{
		delay:        delay,
		afterFunc:    afterFunc,
		dialogs:      repos.Dialog,
		participants: repos.Participant,
		messages:     repos.Message,
		webhooks:     webhooks,
		ctx:          ctx,
		cancel:       cancel,
		log:          log,
		metrics:      m,
	}
	for i := range s.shards {
		s.shards[i] = &pendingShard{entries: make(map[pendingKey]*pendingEntry)}
	}
	return s
}

func (s *notificationService) shard(key pendingKey) *pendingShard {
	h := fnv.New32a()
	h.Write(key.dialogID[:])
	h.Write(key.recipientID[:])
	return s.shards[h.Sum32()%notificationShards]
}

// Schedule: новая запись запускает таймер, существующая только запоминает
// последнее сообщение, срок не сдвигается.
func (s *notificationService) Schedule(dialogID, recipientID, messageID uuid.UUID) {
	key := pendingKey{dialogID: dialogID, recipientID: recipientID}
	sh := s.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if entry, ok := sh.entries[key]; ok {
		entry.messageID = messageID
		return
	}
	entry := &pendingEntry{messageID: messageID}
	entry.timer = s.afterFunc(s.delay, func() { s.fire(key, entry) })
	sh.entries[key] = entry
	s.metrics.NotificationsPending.Inc()
}

func (s *notificationService) Cancel(dialogID, recipientID uuid.UUID) {
	key := pendingKey{dialogID: dialogID, recipientID: recipientID}
	sh := s.shard(key)

	sh.mu.Lock()
	entry, ok := sh.entries[key]
	if ok {
		delete(sh.entries, key)
	}
	sh.mu.Unlock()

	if ok {
		entry.timer.Stop()
		s.metrics.NotificationsPending.Dec()
	}
}

func (s *notificationService) CancelDialog(dialogID uuid.UUID) {
	for _, sh := range s.shards {
		var stopped []*pendingEntry
		sh.mu.Lock()
		for key, entry := range sh.entries {
			if key.dialogID == dialogID {
				delete(sh.entries, key)
				stopped = append(stopped, entry)
			}
		}
		sh.mu.Unlock()

		for _, entry := range stopped {
			entry.timer.Stop()
			s.metrics.NotificationsPending.Dec()
		}
	}
}

func (s *notificationService) Pending() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

func (s *notificationService) Shutdown() {
	s.cancel()
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, entry := range sh.entries {
			entry.timer.Stop()
			delete(sh.entries, key)
			s.metrics.NotificationsPending.Dec()
		}
		sh.mu.Unlock()
	}
}

func (s *notificationService) fire(key pendingKey, entry *pendingEntry) {
	sh := s.shard(key)
	sh.mu.Lock()
	if sh.entries[key] != entry {
		sh.mu.Unlock()
		return
	}
	delete(sh.entries, key)
	messageID := entry.messageID
	sh.mu.Unlock()
	s.metrics.NotificationsPending.Dec()

	ctx, cancel := context.WithTimeout(s.ctx, notificationTimeout)
	defer cancel()

	result := s.notify(ctx, key, messageID)
	s.metrics.NotificationsFired.WithLabelValues(result).Inc()
}

// notify перепроверяет состояние получателя на момент срабатывания.
func (s *notificationService) notify(ctx context.Context, key pendingKey, messageID uuid.UUID) string {
	p, err := s.participants.Get(ctx, key.dialogID, key.recipientID)
	if err != nil {
		s.log.Debug("Notification skipped, recipient left", "dialog_id", key.dialogID, "user_id", key.recipientID)
		return "skipped"
	}
	if !p.NotificationsEnabled || p.UnreadCount == 0 {
		return "skipped"
	}

	dialog, err := s.dialogs.GetByID(ctx, key.dialogID)
	if err != nil {
		s.log.Warn("Notification dropped, dialog not loaded", "error", err, "dialog_id", key.dialogID)
		return "error"
	}
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		s.log.Warn("Notification dropped, message not loaded", "error", err, "message_id", messageID)
		return "error"
	}
	if msg.IsDeleted {
		return "skipped"
	}

	s.webhooks.Send(webhook.NotificationPending(dialog, msg, key.recipientID))
	s.log.Debug("Notification sent", "dialog_id", key.dialogID, "user_id", key.recipientID, "message_id", messageID)
	return "sent"
}
