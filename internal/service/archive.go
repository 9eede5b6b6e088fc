package service

import (
	"context"
	"time"

	"chat_service/internal/config"
	"chat_service/internal/domain"
	"chat_service/internal/metrics"
	"chat_service/internal/repository"
	"chat_service/pkg/logger"

	"github.com/robfig/cron/v3"
)

// ArchiveScheduler периодически архивирует диалоги без активности.
type ArchiveScheduler interface {
	// RunOnce возвращает число заархивированных записей участников.
	RunOnce(ctx context.Context) (int, error)
	Start() error
	Stop(ctx context.Context) error
}

type archiveScheduler struct {
	dialogRepo repository.DialogRepository
	publisher  EventPublisher
	cfg        config.ArchiveConfig
	cron       *cron.Cron
	now        func() time.Time
	log        logger.Logger
	metrics    *metrics.Metrics
}

func NewArchiveScheduler(
	dialogRepo repository.DialogRepository,
	publisher EventPublisher,
	cfg config.ArchiveConfig,
	log logger.Logger,
	m *metrics.Metrics,
) ArchiveScheduler {
	return &archiveScheduler{
		dialogRepo: dialogRepo,
		publisher:  publisher,
		cfg:        cfg,
		cron:       cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
		metrics:    m,
	}
}

func (s *archiveScheduler) Start() error {
	_, err := s.cron.AddFunc(s.cfg.Cron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Error("Auto-archive run failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("Auto-archive scheduler started", "schedule", s.cfg.Cron, "after", s.cfg.After)
	return nil
}

// Stop ждет завершения текущего запуска, но не дольше ctx.
func (s *archiveScheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *archiveScheduler) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.After)
	affected, err := s.dialogRepo.ArchiveInactive(ctx, cutoff)
	if err != nil {
		s.metrics.ArchiveRuns.WithLabelValues("error").Inc()
		return 0, err
	}

	total := 0
	for dialogID, users := range affected {
		total += len(users)
		s.publisher.PublishToUsers(ctx, users, domain.NewDialogEvent(domain.EventDialogArchived, dialogID, nil))
	}

	s.metrics.ArchiveRuns.WithLabelValues("success").Inc()
	s.metrics.DialogsArchived.Add(float64(total))
	if total > 0 {
		s.log.Info("Archived inactive dialogs", "dialogs", len(affected), "participants", total, "cutoff", cutoff)
	}
	return total, nil
}
