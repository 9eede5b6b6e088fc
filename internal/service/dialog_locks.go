package service

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"chat_service/internal/domain"

	"github.com/google/uuid"
)

const dialogLockStripes = 64

// DialogLocks сериализует запись сообщений в один диалог: id выдается, сообщение
// сохраняется и message.new публикуется под одной полосой, поэтому клиенты
// получают события диалога в порядке id. Один экземпляр на все сервисы.
type DialogLocks struct {
	stripes [dialogLockStripes]sync.Mutex
}

func NewDialogLocks() *DialogLocks {
	return &DialogLocks{}
}

func (l *DialogLocks) forDialog(dialogID uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(dialogID[:])
	return &l.stripes[h.Sum32()%dialogLockStripes]
}

// writeSystemMessage создает системное сообщение, сохраняет его через write
// и публикует message.new, не отпуская полосу диалога.
func (l *DialogLocks) writeSystemMessage(
	ctx context.Context,
	publisher EventPublisher,
	dialogID uuid.UUID,
	content string,
	now time.Time,
	write func(system *domain.Message) error,
) (*domain.Message, error) {
	lock := l.forDialog(dialogID)
	lock.Lock()
	defer lock.Unlock()

	system := newSystemMessage(dialogID, content, now)
	if err := write(system); err != nil {
		return nil, err
	}
	_ = publisher.PublishToDialog(ctx, dialogID, domain.NewDialogEvent(domain.EventMessageNew, dialogID, system))
	return system, nil
}
