package realtime

import (
	"context"
	"encoding/json"
	"time"

	"chat_service/internal/config"
	"chat_service/internal/domain"
	"chat_service/internal/metrics"
	"chat_service/pkg/logger"

	"github.com/google/uuid"
)

// ParticipantIndex: откуда хаб берет адресатов в момент публикации.
type ParticipantIndex interface {
	ListParticipantIDs(ctx context.Context, dialogID uuid.UUID) ([]uuid.UUID, error)
	ListContactIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// PresenceStore: общее для инстансов зеркало присутствия (Redis).
type PresenceStore interface {
	SetOnline(ctx context.Context, userID uuid.UUID, lastSeen time.Time, ttl time.Duration) error
	SetOffline(ctx context.Context, userID uuid.UUID) error
	OnlineUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error)
}

type Hub struct {
	registry      *Registry
	index         ParticipantIndex
	presence      PresenceStore
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	log           logger.Logger
	metrics       *metrics.Metrics
}

// NewHub: presence может быть nil, тогда присутствие только локальное.
func NewHub(index ParticipantIndex, presence PresenceStore, cfg config.PresenceConfig, log logger.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		registry:      NewRegistry(),
		index:         index,
		presence:      presence,
		ttl:           cfg.TTL,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
		log:           log,
		metrics:       m,
	}
}

func (h *Hub) Register(ctx context.Context, conn Conn) {
	now := h.now()
	first := h.registry.Add(conn, now)
	h.metrics.Connections.Inc()

	h.sendTo(ctx, conn, domain.Event{
		Type:    domain.EventConnected,
		Payload: domain.ConnectedPayload{UserID: conn.UserID(), ConnectionID: conn.ID()},
	})

	if h.presence != nil {
		_ = h.presence.SetOnline(ctx, conn.UserID(), now, h.ttl)
	}
	if first {
		h.log.Debug("User online", "user_id", conn.UserID())
		h.publishPresence(ctx, conn.UserID(), true, nil)
	}
}

// Heartbeat продлевает жизнь подключения и отвечает pong.
func (h *Hub) Heartbeat(ctx context.Context, conn Conn) {
	now := h.now()
	if !h.registry.Touch(conn, now) {
		return
	}
	if h.presence != nil {
		_ = h.presence.SetOnline(ctx, conn.UserID(), now, h.ttl)
	}
	h.sendTo(ctx, conn, domain.Event{Type: domain.EventPong})
}

func (h *Hub) Unregister(ctx context.Context, conn Conn) {
	h.unregister(ctx, conn, h.now())
}

func (h *Hub) unregister(ctx context.Context, conn Conn, now time.Time) {
	removed, last := h.registry.Remove(conn)
	if !removed {
		return
	}
	h.metrics.Connections.Dec()
	if !last {
		return
	}

	if h.presence != nil {
		_ = h.presence.SetOffline(ctx, conn.UserID())
	}
	h.log.Debug("User offline", "user_id", conn.UserID())
	h.publishPresence(ctx, conn.UserID(), false, &now)
}

// Sweep закрывает подключения без heartbeat дольше TTL.
func (h *Hub) Sweep(ctx context.Context, now time.Time) int {
	expired := h.registry.Expired(now.Add(-h.ttl))
	for _, conn := range expired {
		h.log.Info("Closing stale connection", "user_id", conn.UserID(), "connection_id", conn.ID())
		conn.Close()
		h.unregister(ctx, conn, now)
	}
	return len(expired)
}

// CloseAll закрывает все подключения инстанса при остановке сервера.
func (h *Hub) CloseAll(ctx context.Context) int {
	conns := h.registry.All()
	now := h.now()
	for _, conn := range conns {
		conn.Close()
		h.unregister(ctx, conn, now)
	}
	return len(conns)
}

// Run периодически запускает Sweep до отмены ctx.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Sweep(ctx, h.now())
		}
	}
}

// PublishToDialog рассылает событие всем текущим участникам диалога.
func (h *Hub) PublishToDialog(ctx context.Context, dialogID uuid.UUID, event domain.Event) error {
	ids, err := h.index.ListParticipantIDs(ctx, dialogID)
	if err != nil {
		h.log.Error("Failed to resolve dialog participants", "error", err, "dialog_id", dialogID)
		return err
	}
	h.PublishToUsers(ctx, ids, event)
	return nil
}

func (h *Hub) PublishToUsers(ctx context.Context, userIDs []uuid.UUID, event domain.Event) {
	frame, err := json.Marshal(event)
	if err != nil {
		h.log.Error("Failed to marshal event", "error", err, "type", event.Type)
		return
	}
	for _, userID := range userIDs {
		for _, conn := range h.registry.Conns(userID) {
			h.deliver(ctx, conn, frame)
		}
	}
}

// OnlineUsers объединяет локальный реестр и зеркало в Redis.
func (h *Hub) OnlineUsers(ctx context.Context, ids []uuid.UUID) map[uuid.UUID]bool {
	online := make(map[uuid.UUID]bool, len(ids))
	var remote []uuid.UUID
	for _, id := range ids {
		if h.registry.IsOnline(id) {
			online[id] = true
		} else {
			remote = append(remote, id)
		}
	}
	if h.presence != nil && len(remote) > 0 {
		mirrored, err := h.presence.OnlineUsers(ctx, remote)
		if err == nil {
			for id, ok := range mirrored {
				if ok {
					online[id] = true
				}
			}
		}
	}
	return online
}

func (h *Hub) ConnectionCount() int {
	return h.registry.Count()
}

// publishPresence уведомляет только контакты пользователя, не всех подключенных.
func (h *Hub) publishPresence(ctx context.Context, userID uuid.UUID, online bool, lastSeen *time.Time) {
	contacts, err := h.index.ListContactIDs(ctx, userID)
	if err != nil {
		h.log.Warn("Failed to resolve contacts for presence", "error", err, "user_id", userID)
		return
	}
	h.PublishToUsers(ctx, contacts, domain.Event{
		Type:    domain.EventPresenceUpdate,
		Payload: domain.PresencePayload{UserID: userID, Online: online, LastSeen: lastSeen},
	})
}

func (h *Hub) sendTo(ctx context.Context, conn Conn, event domain.Event) {
	frame, err := json.Marshal(event)
	if err != nil {
		h.log.Error("Failed to marshal event", "error", err, "type", event.Type)
		return
	}
	h.deliver(ctx, conn, frame)
}

// deliver: медленное подключение не задерживает остальных, его кадр
// отбрасывается, а само подключение закрывается.
func (h *Hub) deliver(ctx context.Context, conn Conn, frame []byte) {
	if conn.Send(frame) {
		return
	}
	h.metrics.FramesDropped.Inc()
	h.log.Warn("Send buffer full, closing connection", "user_id", conn.UserID(), "connection_id", conn.ID())
	conn.Close()
	h.Unregister(ctx, conn)
}
