package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat_service/internal/config"
	"chat_service/internal/domain"
	"chat_service/internal/metrics"
	"chat_service/internal/repository"
	"chat_service/internal/webhook"
	apperrors "chat_service/pkg/errors"
	"chat_service/pkg/logger"

	"github.com/google/uuid"
)

// memStore: хранилище в памяти с той же семантикой, что у репозиториев на pgx.
type memStore struct {
	mu           sync.Mutex
	dialogs      map[uuid.UUID]*domain.Dialog
	scopes       map[uuid.UUID][]*domain.AccessScope
	participants map[uuid.UUID]map[uuid.UUID]*domain.Participant
	messages     map[uuid.UUID]*domain.Message
	edits        map[uuid.UUID][]*domain.MessageEdit
	attachments  map[uuid.UUID][]*domain.Attachment
	failCreate   error
	failGet      error
}

func newMemStore() *memStore {
	return &memStore{
		dialogs:      make(map[uuid.UUID]*domain.Dialog),
		scopes:       make(map[uuid.UUID][]*domain.AccessScope),
		participants: make(map[uuid.UUID]map[uuid.UUID]*domain.Participant),
		messages:     make(map[uuid.UUID]*domain.Message),
		edits:        make(map[uuid.UUID][]*domain.MessageEdit),
		attachments:  make(map[uuid.UUID][]*domain.Attachment),
	}
}

func (s *memStore) repositories() *repository.Repositories {
	return &repository.Repositories{
		Dialog:      memDialogs{s},
		Scope:       memScopes{s},
		Participant: memParticipants{s},
		Message:     memMessages{s},
		Attachment:  memAttachments{s},
	}
}

func copyMessage(m *domain.Message) *domain.Message {
	cp := *m
	return &cp
}

func copyParticipant(p *domain.Participant) *domain.Participant {
	cp := *p
	return &cp
}

// dialogMessages: сообщения диалога по возрастанию id. Вызывать под mu.
func (s *memStore) dialogMessages(dialogID uuid.UUID) []*domain.Message {
	var out []*domain.Message
	for _, m := range s.messages {
		if m.DialogID == dialogID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return domain.CompareIDs(out[i].ID, out[j].ID) < 0 })
	return out
}

func (s *memStore) insertMessage(m *domain.Message) {
	s.messages[m.ID] = copyMessage(m)
	for userID, p := range s.participants[m.DialogID] {
		if m.SenderID == nil || *m.SenderID != userID {
			p.UnreadCount++
		}
	}
}

func (s *memStore) insertParticipant(p *domain.Participant) error {
	if _, ok := s.dialogs[p.DialogID]; !ok {
		return apperrors.NotFound("dialog not found")
	}
	if _, ok := s.participants[p.DialogID][p.UserID]; ok {
		return apperrors.Conflict("user is already a participant")
	}
	if s.participants[p.DialogID] == nil {
		s.participants[p.DialogID] = make(map[uuid.UUID]*domain.Participant)
	}
	p.UnreadCount = len(s.dialogMessages(p.DialogID))
	s.participants[p.DialogID][p.UserID] = copyParticipant(p)
	return nil
}

// seedMessage добавляет сообщение напрямую, минуя сервис.
func (s *memStore) seedMessage(dialogID, senderID uuid.UUID, content string, sentAt time.Time) *domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &domain.Message{
		ID:          domain.NewMessageID(),
		DialogID:    dialogID,
		SenderID:    &senderID,
		MessageType: domain.MessageTypeUser,
		Content:     content,
		SentAt:      sentAt,
	}
	s.insertMessage(m)
	return m
}

func (s *memStore) participant(dialogID, userID uuid.UUID) *domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[dialogID][userID]
	if !ok {
		return nil
	}
	return copyParticipant(p)
}

type memDialogs struct{ s *memStore }

func (r memDialogs) Create(_ context.Context, dialog *domain.Dialog, participants []*domain.Participant, scopes []*domain.AccessScope, system *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *dialog
	r.s.dialogs[dialog.ID] = &cp
	for _, p := range participants {
		if err := r.s.insertParticipant(p); err != nil {
			return err
		}
	}
	for _, sc := range scopes {
		sc.DialogID = dialog.ID
		if sc.ID == uuid.Nil {
			sc.ID = uuid.New()
		}
	}
	r.s.scopes[dialog.ID] = scopes
	if system != nil {
		r.s.insertMessage(system)
		for _, p := range participants {
			p.UnreadCount++
		}
	}
	return nil
}

func (r memDialogs) GetByID(_ context.Context, id uuid.UUID) (*domain.Dialog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.dialogs[id]
	if !ok {
		return nil, apperrors.NotFound("dialog not found")
	}
	cp := *d
	return &cp, nil
}

func (r memDialogs) view(d *domain.Dialog) *domain.DialogView {
	v := &domain.DialogView{Dialog: *d, ParticipantsCount: len(r.s.participants[d.ID])}
	msgs := r.s.dialogMessages(d.ID)
	if len(msgs) > 0 {
		at := msgs[len(msgs)-1].SentAt
		v.LastMessageAt = &at
	}
	return v
}

func (r memDialogs) GetView(_ context.Context, id uuid.UUID) (*domain.DialogView, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.dialogs[id]
	if !ok {
		return nil, apperrors.NotFound("dialog not found")
	}
	return r.view(d), nil
}

func (r memDialogs) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.dialogs[id]; !ok {
		return apperrors.NotFound("dialog not found")
	}
	delete(r.s.dialogs, id)
	delete(r.s.participants, id)
	delete(r.s.scopes, id)
	for mid, m := range r.s.messages {
		if m.DialogID == id {
			delete(r.s.messages, mid)
		}
	}
	return nil
}

func (r memDialogs) ListForUser(_ context.Context, userID uuid.UUID, archived *bool) ([]*domain.DialogView, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	views := make([]*domain.DialogView, 0)
	for id, d := range r.s.dialogs {
		p, ok := r.s.participants[id][userID]
		if !ok || (archived != nil && p.IsArchived != *archived) {
			continue
		}
		v := r.view(d)
		v.ApplyParticipant(p)
		views = append(views, v)
	}
	return views, nil
}

func (r memDialogs) ListCandidates(_ context.Context, tenantUID, userID uuid.UUID) ([]*domain.DialogView, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	views := make([]*domain.DialogView, 0)
	for id, d := range r.s.dialogs {
		if _, ok := r.s.participants[id][userID]; ok {
			continue
		}
		for _, sc := range r.s.scopes[id] {
			if sc.TenantUID == tenantUID {
				views = append(views, r.view(d))
				break
			}
		}
	}
	return views, nil
}

func (r memDialogs) ArchiveInactive(_ context.Context, cutoff time.Time) (map[uuid.UUID][]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	affected := make(map[uuid.UUID][]uuid.UUID)
	for id, d := range r.s.dialogs {
		activity := d.CreatedAt
		if msgs := r.s.dialogMessages(id); len(msgs) > 0 {
			activity = msgs[len(msgs)-1].SentAt
		}
		if !activity.Before(cutoff) {
			continue
		}
		for userID, p := range r.s.participants[id] {
			if !p.IsArchived {
				p.IsArchived = true
				affected[id] = append(affected[id], userID)
			}
		}
	}
	return affected, nil
}

type memScopes struct{ s *memStore }

func (r memScopes) ListByDialog(_ context.Context, dialogID uuid.UUID) ([]*domain.AccessScope, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]*domain.AccessScope{}, r.s.scopes[dialogID]...), nil
}

func (r memScopes) ListByDialogs(_ context.Context, dialogIDs []uuid.UUID) (map[uuid.UUID][]*domain.AccessScope, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[uuid.UUID][]*domain.AccessScope)
	for _, id := range dialogIDs {
		out[id] = r.s.scopes[id]
	}
	return out, nil
}

func (r memScopes) Replace(_ context.Context, dialogID uuid.UUID, scopes []*domain.AccessScope) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sc := range scopes {
		sc.DialogID = dialogID
	}
	r.s.scopes[dialogID] = scopes
	return nil
}

type memParticipants struct{ s *memStore }

func (r memParticipants) Add(_ context.Context, p *domain.Participant, system *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.insertParticipant(p); err != nil {
		return err
	}
	if system != nil {
		r.s.insertMessage(system)
		p.UnreadCount++
	}
	return nil
}

func (r memParticipants) Remove(_ context.Context, dialogID, userID uuid.UUID, system *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.participants[dialogID][userID]; !ok {
		return apperrors.NotFound("participant not found")
	}
	delete(r.s.participants[dialogID], userID)
	if system != nil {
		r.s.insertMessage(system)
	}
	return nil
}

func (r memParticipants) Get(_ context.Context, dialogID, userID uuid.UUID) (*domain.Participant, error) {
	if p := r.s.participant(dialogID, userID); p != nil {
		return p, nil
	}
	return nil, apperrors.NotFound("participant not found")
}

func (r memParticipants) ListByDialog(_ context.Context, dialogID uuid.UUID) ([]*domain.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*domain.Participant, 0)
	for _, p := range r.s.participants[dialogID] {
		out = append(out, copyParticipant(p))
	}
	return out, nil
}

func (r memParticipants) ListParticipantIDs(_ context.Context, dialogID uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]uuid.UUID, 0)
	for id := range r.s.participants[dialogID] {
		out = append(out, id)
	}
	return out, nil
}

func (r memParticipants) ListContactIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	for _, members := range r.s.participants {
		if _, ok := members[userID]; !ok {
			continue
		}
		for id := range members {
			if id != userID {
				seen[id] = true
			}
		}
	}
	out := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

func (r memParticipants) MarkRead(_ context.Context, dialogID, userID, messageID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[dialogID][userID]
	if !ok {
		return false, nil
	}
	if p.LastReadMessageID != nil && domain.CompareIDs(*p.LastReadMessageID, messageID) >= 0 {
		return false, nil
	}
	unread := 0
	for _, m := range r.s.dialogMessages(dialogID) {
		if domain.CompareIDs(m.ID, messageID) > 0 && !m.IsSentBy(userID) {
			unread++
		}
	}
	id := messageID
	p.LastReadMessageID = &id
	p.UnreadCount = unread
	return true, nil
}

func (r memParticipants) set(dialogID, userID uuid.UUID, apply func(p *domain.Participant)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[dialogID][userID]
	if !ok {
		return apperrors.NotFound("participant not found")
	}
	apply(p)
	return nil
}

func (r memParticipants) SetArchived(_ context.Context, dialogID, userID uuid.UUID, archived bool) error {
	return r.set(dialogID, userID, func(p *domain.Participant) { p.IsArchived = archived })
}

func (r memParticipants) SetPinned(_ context.Context, dialogID, userID uuid.UUID, pinned bool) error {
	return r.set(dialogID, userID, func(p *domain.Participant) { p.IsPinned = pinned })
}

func (r memParticipants) SetNotifications(_ context.Context, dialogID, userID uuid.UUID, enabled bool) error {
	return r.set(dialogID, userID, func(p *domain.Participant) { p.NotificationsEnabled = enabled })
}

type memMessages struct{ s *memStore }

func (r memMessages) Create(_ context.Context, message *domain.Message, attachments []*domain.Attachment) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failCreate != nil {
		return nil, r.s.failCreate
	}
	r.s.insertMessage(message)
	if message.SenderID != nil {
		if p, ok := r.s.participants[message.DialogID][*message.SenderID]; ok {
			if p.LastReadMessageID == nil || domain.CompareIDs(*p.LastReadMessageID, message.ID) < 0 {
				id := message.ID
				p.LastReadMessageID = &id
			}
		}
	}
	if len(attachments) > 0 {
		r.s.attachments[message.ID] = attachments
	}
	var unarchived []uuid.UUID
	for userID, p := range r.s.participants[message.DialogID] {
		if p.IsArchived {
			p.IsArchived = false
			unarchived = append(unarchived, userID)
		}
	}
	message.Attachments = attachments
	return unarchived, nil
}

func (r memMessages) GetByID(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failGet != nil {
		return nil, r.s.failGet
	}
	m, ok := r.s.messages[id]
	if !ok {
		return nil, apperrors.NotFound("message not found")
	}
	return copyMessage(m), nil
}

func (r memMessages) ListBefore(_ context.Context, dialogID uuid.UUID, before *uuid.UUID, limit int) ([]*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msgs := r.s.dialogMessages(dialogID)
	out := make([]*domain.Message, 0)
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if before == nil || domain.CompareIDs(msgs[i].ID, *before) < 0 {
			out = append(out, copyMessage(msgs[i]))
		}
	}
	return out, nil
}

func (r memMessages) ListAfter(_ context.Context, dialogID uuid.UUID, after uuid.UUID, limit int) ([]*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*domain.Message, 0)
	for _, m := range r.s.dialogMessages(dialogID) {
		if len(out) == limit {
			break
		}
		if domain.CompareIDs(m.ID, after) > 0 {
			out = append(out, copyMessage(m))
		}
	}
	return out, nil
}

func (r memMessages) FirstAfter(_ context.Context, dialogID uuid.UUID, after *uuid.UUID) (*uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.dialogMessages(dialogID) {
		if after == nil || domain.CompareIDs(m.ID, *after) > 0 {
			id := m.ID
			return &id, nil
		}
	}
	return nil, nil
}

func (r memMessages) Update(_ context.Context, id uuid.UUID, content string, editedAt time.Time) (*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return nil, apperrors.NotFound("message not found")
	}
	r.s.edits[id] = append(r.s.edits[id], &domain.MessageEdit{
		ID: domain.NewMessageID(), MessageID: id, OldContent: m.Content, EditedAt: editedAt,
	})
	m.Content = content
	m.IsEdited = true
	at := editedAt
	m.LastEditedAt = &at
	return copyMessage(m), nil
}

func (r memMessages) SoftDelete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return apperrors.NotFound("message not found")
	}
	m.IsDeleted = true
	return nil
}

func (r memMessages) ListHistory(_ context.Context, id uuid.UUID) ([]*domain.MessageEdit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]*domain.MessageEdit{}, r.s.edits[id]...), nil
}

type memAttachments struct{ s *memStore }

func (r memAttachments) ListByMessages(_ context.Context, ids []uuid.UUID) (map[uuid.UUID][]*domain.Attachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[uuid.UUID][]*domain.Attachment)
	for _, id := range ids {
		if a, ok := r.s.attachments[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

type publishedEvent struct {
	dialogID *uuid.UUID
	users    []uuid.UUID
	event    domain.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	online map[uuid.UUID]bool
}

func (p *recordingPublisher) PublishToDialog(_ context.Context, dialogID uuid.UUID, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := dialogID
	p.events = append(p.events, publishedEvent{dialogID: &id, event: event})
	return nil
}

func (p *recordingPublisher) PublishToUsers(_ context.Context, userIDs []uuid.UUID, event domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{users: append([]uuid.UUID(nil), userIDs...), event: event})
}

func (p *recordingPublisher) OnlineUsers(_ context.Context, ids []uuid.UUID) map[uuid.UUID]bool {
	out := make(map[uuid.UUID]bool)
	for _, id := range ids {
		if p.online[id] {
			out[id] = true
		}
	}
	return out
}

func (p *recordingPublisher) ofType(eventType string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type recordingWebhooks struct {
	mu     sync.Mutex
	events []webhook.Event
}

func (w *recordingWebhooks) Send(event webhook.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
}

func (w *recordingWebhooks) ofType(eventType string) []webhook.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []webhook.Event
	for _, e := range w.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// manualTimers: таймеры, которые срабатывают только по вызову fireAll.
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

func (m *manualTimers) afterFunc(d time.Duration, f func()) Stopper {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{delay: d, f: f}
	m.timers = append(m.timers, t)
	return t
}

func (m *manualTimers) fireAll() {
	m.mu.Lock()
	timers := append([]*manualTimer(nil), m.timers...)
	m.mu.Unlock()
	for _, t := range timers {
		if !t.stopped && !t.fired {
			t.fired = true
			t.f()
		}
	}
}

func (m *manualTimers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

type fakeStore struct {
	keys map[string]bool
}

func (f *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	return f.keys[key], nil
}

func (f *fakeStore) PresignGet(_ context.Context, key string) (string, error) {
	return "https://files.example.com/" + key + "?sig=1", nil
}

// testEnv собирает сервисы поверх memStore.
type testEnv struct {
	store         *memStore
	publisher     *recordingPublisher
	webhooks      *recordingWebhooks
	timers        *manualTimers
	locks         *DialogLocks
	notifications NotificationService
	messages      MessageService
	dialogs       DialogService
	management    ManagementService
	archive       *archiveScheduler
}

func newTestEnv(attachments AttachmentStore) *testEnv {
	store := newMemStore()
	repos := store.repositories()
	publisher := &recordingPublisher{online: map[uuid.UUID]bool{}}
	webhooks := &recordingWebhooks{}
	timers := &manualTimers{}
	log := logger.NewNop()
	m := metrics.NewNop()
	locks := NewDialogLocks()

	notifications := NewNotificationService(repos, webhooks, 30*time.Second, timers.afterFunc, log, m)
	return &testEnv{
		store:         store,
		publisher:     publisher,
		webhooks:      webhooks,
		timers:        timers,
		locks:         locks,
		notifications: notifications,
		messages:      NewMessageService(repos, locks, publisher, webhooks, notifications, attachments, log, m),
		dialogs:       NewDialogService(repos, locks, publisher, webhooks, notifications, log),
		management:    NewManagementService(repos, locks, publisher, webhooks, notifications, log),
		archive:       NewArchiveScheduler(repos.Dialog, publisher, configArchive(), log, m).(*archiveScheduler),
	}
}

func configArchive() config.ArchiveConfig {
	return config.ArchiveConfig{Cron: "0 */5 * * * *", After: 72 * time.Hour}
}

// createDialog создает диалог с создателем и участниками через ManagementService.
func (e *testEnv) createDialog(creator uuid.UUID, members ...uuid.UUID) *domain.Dialog {
	in := CreateDialogInput{
		ObjectID:   uuid.New(),
		ObjectType: "tender",
		Creator:    MemberInput{UserID: creator},
	}
	for _, m := range members {
		in.Members = append(in.Members, MemberInput{UserID: m})
	}
	d, err := e.management.CreateDialog(context.Background(), in)
	if err != nil {
		panic(err)
	}
	return d
}
