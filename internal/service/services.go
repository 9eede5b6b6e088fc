package service

import (
	"context"

	"chat_service/internal/config"
	"chat_service/internal/domain"
	"chat_service/internal/metrics"
	"chat_service/internal/repository"
	"chat_service/internal/webhook"
	"chat_service/pkg/logger"

	"github.com/google/uuid"
)

// EventPublisher: доставка событий подключенным клиентам (realtime.Hub).
type EventPublisher interface {
	PublishToDialog(ctx context.Context, dialogID uuid.UUID, event domain.Event) error
	PublishToUsers(ctx context.Context, userIDs []uuid.UUID, event domain.Event)
	OnlineUsers(ctx context.Context, ids []uuid.UUID) map[uuid.UUID]bool
}

// WebhookSender: асинхронная отправка событий хост-приложению.
type WebhookSender interface {
	Send(event webhook.Event)
}

// AttachmentStore: объектное хранилище вложений. nil, если не настроено.
type AttachmentStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	PresignGet(ctx context.Context, key string) (string, error)
}

type Services struct {
	Message      MessageService
	Dialog       DialogService
	Management   ManagementService
	Notification NotificationService
	Archive      ArchiveScheduler
	RateLimit    RateLimitService
}

type Deps struct {
	Publisher EventPublisher
	Webhooks  WebhookSender
	Store     AttachmentStore
	Metrics   *metrics.Metrics
}

func NewServices(repos *repository.Repositories, deps Deps, cfg *config.Config, log logger.Logger) *Services {
	locks := NewDialogLocks()
	notifications := NewNotificationService(repos, deps.Webhooks, cfg.Notification.Delay, nil, log, deps.Metrics)

	services := &Services{
		Message:      NewMessageService(repos, locks, deps.Publisher, deps.Webhooks, notifications, deps.Store, log, deps.Metrics),
		Dialog:       NewDialogService(repos, locks, deps.Publisher, deps.Webhooks, notifications, log),
		Management:   NewManagementService(repos, locks, deps.Publisher, deps.Webhooks, notifications, log),
		Notification: notifications,
		Archive:      NewArchiveScheduler(repos.Dialog, deps.Publisher, cfg.Archive, log, deps.Metrics),
		RateLimit:    NewRateLimitService(repos.RateLimit, cfg.RateLimit, log),
	}

	log.Info("Services initialized")

	return services
}
