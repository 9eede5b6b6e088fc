package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"chat_service/internal/domain"
	apperrors "chat_service/pkg/errors"

	"github.com/google/uuid"
)

func ptr[T any](v T) *T { return &v }

// seedConversation создает диалог с двумя участниками и n сообщениями от alice.
func seedConversation(t *testing.T, env *testEnv, n int) (dialog *domain.Dialog, alice, bob uuid.UUID, msgs []*domain.Message) {
	t.Helper()
	alice, bob = uuid.New(), uuid.New()
	dialog = env.createDialog(alice, bob)
	for i := 0; i < n; i++ {
		m, err := env.messages.Send(context.Background(), SendMessageInput{
			DialogID: dialog.ID,
			SenderID: alice,
			Content:  fmt.Sprintf("message %d", i),
		})
		if err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		msgs = append(msgs, m)
	}
	return dialog, alice, bob, msgs
}

func contents(msgs []*domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func assertContents(t *testing.T, got []*domain.Message, want ...string) {
	t.Helper()
	g := contents(got)
	if len(g) != len(want) {
		t.Fatalf("messages: want=%v got=%v", want, g)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("message %d: want=%q got=%q (all %v)", i, want[i], g[i], g)
		}
	}
}

func assertKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("error: want kind %v got %v", kind, err)
	}
}

func TestListLatestPage(t *testing.T) {
	env := newTestEnv(nil)
	dialog, _, bob, _ := seedConversation(t, env, 10)

	page, err := env.messages.List(context.Background(), bob, dialog.ID, domain.PageRequest{Limit: 3})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	assertContents(t, page.Messages, "message 9", "message 8", "message 7")
	if !page.HasMoreBefore || page.HasMoreAfter {
		t.Fatalf("flags: before=%v after=%v", page.HasMoreBefore, page.HasMoreAfter)
	}
	if page.FirstUnreadMessageID == nil {
		t.Fatalf("first unread must be set for a reader who never read")
	}
}

func TestListBeforeAndAfterCursors(t *testing.T) {
	env := newTestEnv(nil)
	dialog, _, bob, msgs := seedConversation(t, env, 10)
	ctx := context.Background()

	before, err := env.messages.List(ctx, bob, dialog.ID, domain.PageRequest{Limit: 3, Before: &msgs[5].ID})
	if err != nil {
		t.Fatalf("List before: %v", err)
	}
	assertContents(t, before.Messages, "message 4", "message 3", "message 2")
	if !before.HasMoreBefore || !before.HasMoreAfter {
		t.Fatalf("before flags: %+v", before)
	}

	after, err := env.messages.List(ctx, bob, dialog.ID, domain.PageRequest{Limit: 3, After: &msgs[5].ID})
	if err != nil {
		t.Fatalf("List after: %v", err)
	}
	assertContents(t, after.Messages, "message 6", "message 7", "message 8")
	if !after.HasMoreAfter || !after.HasMoreBefore {
		t.Fatalf("after flags: %+v", after)
	}

	tail, err := env.messages.List(ctx, bob, dialog.ID, domain.PageRequest{Limit: 5, After: &msgs[7].ID})
	if err != nil {
		t.Fatalf("List tail: %v", err)
	}
	assertContents(t, tail.Messages, "message 8", "message 9")
	if tail.HasMoreAfter {
		t.Fatalf("tail must not report more after")
	}
}

func TestListAroundCentersOnAnchor(t *testing.T) {
	env := newTestEnv(nil)
	dialog, _, bob, msgs := seedConversation(t, env, 10)
	ctx := context.Background()

	page, err := env.messages.List(ctx, bob, dialog.ID, domain.PageRequest{Limit: 4, Around: &msgs[5].ID})
	if err != nil {
		t.Fatalf("List around: %v", err)
	}
	assertContents(t, page.Messages, "message 3", "message 4", "message 5", "message 6", "message 7")
	if !page.HasMoreBefore || !page.HasMoreAfter {
		t.Fatalf("around flags: %+v", page)
	}

	edge, err := env.messages.List(ctx, bob, dialog.ID, domain.PageRequest{Limit: 4, Around: &msgs[9].ID})
	if err != nil {
		t.Fatalf("List around newest: %v", err)
	}
	assertContents(t, edge.Messages, "message 7", "message 8", "message 9")
	if edge.HasMoreAfter {
		t.Fatalf("newest anchor must not report more after")
	}

	other := env.createDialog(bob)
	foreign := env.store.seedMessage(other.ID, bob, "elsewhere", time.Now())
	_, err = env.messages.List(ctx, bob, dialog.ID, domain.PageRequest{Around: &foreign.ID})
	assertKind(t, err, apperrors.ErrNotFound)
}

func TestListWalkBackwardsVisitsEveryMessageOnce(t *testing.T) {
	env := newTestEnv(nil)
	dialog, _, bob, _ := seedConversation(t, env, 23)
	ctx := context.Background()

	seen := map[uuid.UUID]bool{}
	var cursor *uuid.UUID
	for pages := 0; ; pages++ {
		if pages > 10 {
			t.Fatalf("pagination does not terminate")
		}
		page, err := env.messages.List(ctx, bob, dialog.ID, domain.PageRequest{Limit: 5, Before: cursor})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		for _, m := range page.Messages {
			if seen[m.ID] {
				t.Fatalf("message %s returned twice", m.ID)
			}
			seen[m.ID] = true
		}
		if !page.HasMoreBefore {
			break
		}
		last := page.Messages[len(page.Messages)-1].ID
		cursor = &last
	}
	// 23 сообщения пользователя и системное о создании диалога
	if len(seen) != 24 {
		t.Fatalf("visited: want=24 got=%d", len(seen))
	}
}

// walkAfter идет вперед от cursor страницами по limit и возвращает id по возрастанию.
func walkAfter(t *testing.T, env *testEnv, userID, dialogID, cursor uuid.UUID, limit int) []uuid.UUID {
	t.Helper()
	var ids []uuid.UUID
	for pages := 0; ; pages++ {
		if pages > 20 {
			t.Fatalf("forward pagination does not terminate")
		}
		page, err := env.messages.List(context.Background(), userID, dialogID, domain.PageRequest{Limit: limit, After: &cursor})
		if err != nil {
			t.Fatalf("List after: %v", err)
		}
		for _, m := range page.Messages {
			ids = append(ids, m.ID)
		}
		if !page.HasMoreAfter || len(page.Messages) == 0 {
			return ids
		}
		cursor = page.Messages[len(page.Messages)-1].ID
	}
}

// walkBefore идет назад от cursor и возвращает id по убыванию.
func walkBefore(t *testing.T, env *testEnv, userID, dialogID, cursor uuid.UUID, limit int) []uuid.UUID {
	t.Helper()
	var ids []uuid.UUID
	for pages := 0; ; pages++ {
		if pages > 20 {
			t.Fatalf("backward pagination does not terminate")
		}
		page, err := env.messages.List(context.Background(), userID, dialogID, domain.PageRequest{Limit: limit, Before: &cursor})
		if err != nil {
			t.Fatalf("List before: %v", err)
		}
		for _, m := range page.Messages {
			ids = append(ids, m.ID)
		}
		if !page.HasMoreBefore || len(page.Messages) == 0 {
			return ids
		}
		cursor = page.Messages[len(page.Messages)-1].ID
	}
}

func TestListAfterThenBeforeRoundTrip(t *testing.T) {
	const limit = 5
	for _, n := range []int{1, 4, limit, 2 * limit, 13} {
		t.Run(fmt.Sprintf("%d messages", n), func(t *testing.T) {
			env := newTestEnv(nil)
			dialog, _, bob, msgs := seedConversation(t, env, n)

			// Самое старое сообщение диалога: системное о создании.
			oldest, err := env.messages.List(context.Background(), bob, dialog.ID, domain.PageRequest{Limit: 100})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			origin := oldest.Messages[len(oldest.Messages)-1].ID

			forward := walkAfter(t, env, bob, dialog.ID, origin, limit)
			if len(forward) != n {
				t.Fatalf("forward: want=%d got=%d", n, len(forward))
			}
			for i, id := range forward {
				if id != msgs[i].ID {
					t.Fatalf("forward %d: want=%s got=%s", i, msgs[i].ID, id)
				}
			}

			last := forward[len(forward)-1]
			backward := walkBefore(t, env, bob, dialog.ID, last, limit)
			if len(backward) != n {
				t.Fatalf("backward: want=%d got=%d", n, len(backward))
			}
			want := append([]uuid.UUID{origin}, forward[:n-1]...)
			for i, id := range backward {
				if expected := want[len(want)-1-i]; id != expected {
					t.Fatalf("backward %d: want=%s got=%s", i, expected, id)
				}
			}
		})
	}
}

func TestListValidation(t *testing.T) {
	env := newTestEnv(nil)
	dialog, _, bob, msgs := seedConversation(t, env, 2)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.PageRequest
	}{
		{"limit too large", domain.PageRequest{Limit: 101}},
		{"negative limit", domain.PageRequest{Limit: -1}},
		{"two cursors", domain.PageRequest{Before: &msgs[0].ID, After: &msgs[1].ID}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.messages.List(ctx, bob, dialog.ID, tc.req)
			assertKind(t, err, apperrors.ErrBadRequest)
		})
	}

	page, err := env.messages.List(ctx, bob, dialog.ID, domain.PageRequest{Limit: 100})
	if err != nil || len(page.Messages) != 3 {
		t.Fatalf("limit 100 must be accepted: %v", err)
	}

	_, err = env.messages.List(ctx, uuid.New(), dialog.ID, domain.PageRequest{})
	assertKind(t, err, apperrors.ErrForbidden)
}

func TestSendIncrementsUnreadForOthersOnly(t *testing.T) {
	env := newTestEnv(nil)
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	dialog := env.createDialog(alice, bob, carol)
	ctx := context.Background()

	base := map[uuid.UUID]int{}
	for _, u := range []uuid.UUID{alice, bob, carol} {
		base[u] = env.store.participant(dialog.ID, u).UnreadCount
	}

	for i := 0; i < 3; i++ {
		if _, err := env.messages.Send(ctx, SendMessageInput{DialogID: dialog.ID, SenderID: alice, Content: "hi"}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	if got := env.store.participant(dialog.ID, alice).UnreadCount; got != base[alice] {
		t.Fatalf("sender unread changed: want=%d got=%d", base[alice], got)
	}
	for _, u := range []uuid.UUID{bob, carol} {
		if got := env.store.participant(dialog.ID, u).UnreadCount; got != base[u]+3 {
			t.Fatalf("recipient unread: want=%d got=%d", base[u]+3, got)
		}
	}
	if got := len(env.publisher.ofType(domain.EventMessageNew)); got < 3 {
		t.Fatalf("message.new events: want>=3 got=%d", got)
	}
}

func TestSendValidation(t *testing.T) {
	env := newTestEnv(&fakeStore{keys: map[string]bool{"uploads/a.png": true}})
	dialog, alice, _, msgs := seedConversation(t, env, 1)
	ctx := context.Background()

	other := env.createDialog(alice)
	foreign := env.store.seedMessage(other.ID, alice, "x", time.Now())

	cases := []struct {
		name string
		in   SendMessageInput
		kind error
	}{
		{"empty", SendMessageInput{Content: "   "}, apperrors.ErrBadRequest},
		{"reply to other dialog", SendMessageInput{Content: "re", ReplyToID: &foreign.ID}, apperrors.ErrBadRequest},
		{"reply to unknown", SendMessageInput{Content: "re", ReplyToID: ptr(uuid.New())}, apperrors.ErrBadRequest},
		{"not uploaded", SendMessageInput{Attachments: []domain.AttachmentInput{
			{StorageKey: "uploads/missing.png", Filename: "m.png", ContentType: "image/png", Size: 10},
		}}, apperrors.ErrBadRequest},
		{"disallowed type", SendMessageInput{Attachments: []domain.AttachmentInput{
			{StorageKey: "uploads/a.png", Filename: "a.exe", ContentType: "application/x-msdownload", Size: 10},
		}}, apperrors.ErrBadRequest},
		{"too large", SendMessageInput{Attachments: []domain.AttachmentInput{
			{StorageKey: "uploads/a.png", Filename: "a.png", ContentType: "image/png", Size: domain.MaxAttachmentSize + 1},
		}}, apperrors.ErrBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.in.DialogID = dialog.ID
			tc.in.SenderID = alice
			_, err := env.messages.Send(ctx, tc.in)
			assertKind(t, err, tc.kind)
		})
	}

	_, err := env.messages.Send(ctx, SendMessageInput{DialogID: dialog.ID, SenderID: uuid.New(), Content: "intruder"})
	assertKind(t, err, apperrors.ErrForbidden)

	_, err = env.messages.Send(ctx, SendMessageInput{DialogID: uuid.New(), SenderID: alice, Content: "nowhere"})
	assertKind(t, err, apperrors.ErrNotFound)

	reply, err := env.messages.Send(ctx, SendMessageInput{
		DialogID:  dialog.ID,
		SenderID:  alice,
		ReplyToID: &msgs[0].ID,
		Attachments: []domain.AttachmentInput{
			{StorageKey: "uploads/a.png", Filename: "a.png", ContentType: "image/png", Size: 10},
		},
	})
	if err != nil {
		t.Fatalf("valid reply with attachment: %v", err)
	}
	if len(reply.Attachments) != 1 || reply.Attachments[0].URL == "" {
		t.Fatalf("attachment must be stored with presigned url: %+v", reply.Attachments)
	}
}

func TestSendFailureSurfacesAndPublishesNothing(t *testing.T) {
	env := newTestEnv(nil)
	dialog, alice, _, _ := seedConversation(t, env, 0)
	before := len(env.publisher.ofType(domain.EventMessageNew))

	env.store.failCreate = errors.New("connection reset")
	_, err := env.messages.Send(context.Background(), SendMessageInput{DialogID: dialog.ID, SenderID: alice, Content: "hi"})
	if err == nil {
		t.Fatalf("expected store failure")
	}
	if got := len(env.publisher.ofType(domain.EventMessageNew)); got != before {
		t.Fatalf("no event expected on failure")
	}
	if env.notifications.Pending() != 0 {
		t.Fatalf("no notification expected on failure")
	}
}

func TestSendReplyLookupFailureIsNotBadRequest(t *testing.T) {
	env := newTestEnv(nil)
	dialog, alice, _, msgs := seedConversation(t, env, 1)

	env.store.failGet = errors.New("connection reset")
	_, err := env.messages.Send(context.Background(), SendMessageInput{
		DialogID:  dialog.ID,
		SenderID:  alice,
		Content:   "re",
		ReplyToID: &msgs[0].ID,
	})
	if err == nil {
		t.Fatalf("expected store failure")
	}
	if errors.Is(err, apperrors.ErrBadRequest) {
		t.Fatalf("store failure reported as bad request: %v", err)
	}
	if got := apperrors.CodeFromError(err); got != "INTERNAL_ERROR" {
		t.Fatalf("code: want=INTERNAL_ERROR got=%s", got)
	}
}

func TestSendMovesSenderReadMarker(t *testing.T) {
	env := newTestEnv(nil)
	dialog, alice, bob, _ := seedConversation(t, env, 0)
	ctx := context.Background()

	fromBob, err := env.messages.Send(ctx, SendMessageInput{DialogID: dialog.ID, SenderID: bob, Content: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := env.messages.MarkRead(ctx, alice, dialog.ID, fromBob.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	own, err := env.messages.Send(ctx, SendMessageInput{DialogID: dialog.ID, SenderID: alice, Content: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	p := env.store.participant(dialog.ID, alice)
	if p.LastReadMessageID == nil || *p.LastReadMessageID != own.ID {
		t.Fatalf("sender read marker: want=%s got=%v", own.ID, p.LastReadMessageID)
	}
	if p.UnreadCount != 0 {
		t.Fatalf("sender unread: want=0 got=%d", p.UnreadCount)
	}

	page, err := env.messages.List(ctx, alice, dialog.ID, domain.PageRequest{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.FirstUnreadMessageID != nil {
		t.Fatalf("own message must not be first unread, got %s", *page.FirstUnreadMessageID)
	}

	reply, err := env.messages.Send(ctx, SendMessageInput{DialogID: dialog.ID, SenderID: bob, Content: "welcome"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	page, err = env.messages.List(ctx, alice, dialog.ID, domain.PageRequest{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.FirstUnreadMessageID == nil || *page.FirstUnreadMessageID != reply.ID {
		t.Fatalf("first unread: want=%s got=%v", reply.ID, page.FirstUnreadMessageID)
	}
}

func TestMarkReadIsForwardOnly(t *testing.T) {
	env := newTestEnv(nil)
	dialog, _, bob, msgs := seedConversation(t, env, 5)
	ctx := context.Background()

	if err := env.messages.MarkRead(ctx, bob, dialog.ID, msgs[2].ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if got := env.store.participant(dialog.ID, bob).UnreadCount; got != 2 {
		t.Fatalf("unread after reading 3rd of 5: want=2 got=%d", got)
	}

	if err := env.messages.MarkRead(ctx, bob, dialog.ID, msgs[4].ID); err != nil {
		t.Fatalf("MarkRead newest: %v", err)
	}
	p := env.store.participant(dialog.ID, bob)
	if p.UnreadCount != 0 || *p.LastReadMessageID != msgs[4].ID {
		t.Fatalf("after newest: unread=%d last=%v", p.UnreadCount, p.LastReadMessageID)
	}

	events := len(env.publisher.ofType(domain.EventMessageRead))
	for _, id := range []uuid.UUID{msgs[4].ID, msgs[1].ID} {
		if err := env.messages.MarkRead(ctx, bob, dialog.ID, id); err != nil {
			t.Fatalf("repeat MarkRead: %v", err)
		}
	}
	p = env.store.participant(dialog.ID, bob)
	if *p.LastReadMessageID != msgs[4].ID || p.UnreadCount != 0 {
		t.Fatalf("mark read moved backwards: %+v", p)
	}
	if got := len(env.publisher.ofType(domain.EventMessageRead)); got != events {
		t.Fatalf("no-op mark read must not publish, events %d -> %d", events, got)
	}

	page, err := env.messages.List(ctx, bob, dialog.ID, domain.PageRequest{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.FirstUnreadMessageID != nil {
		t.Fatalf("everything read, first unread must be nil")
	}

	err = env.messages.MarkRead(ctx, bob, dialog.ID, uuid.New())
	assertKind(t, err, apperrors.ErrNotFound)
}

func TestEditKeepsHistory(t *testing.T) {
	env := newTestEnv(nil)
	dialog, alice, bob, msgs := seedConversation(t, env, 1)
	ctx := context.Background()
	id := msgs[0].ID

	if _, err := env.messages.Edit(ctx, alice, dialog.ID, id, "second"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	edited, err := env.messages.Edit(ctx, alice, dialog.ID, id, "third")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Content != "third" || !edited.IsEdited || edited.LastEditedAt == nil {
		t.Fatalf("edited message: %+v", edited)
	}

	history, err := env.messages.History(ctx, bob, dialog.ID, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].OldContent != "message 0" || history[1].OldContent != "second" {
		t.Fatalf("history: %+v", history)
	}

	_, err = env.messages.Edit(ctx, bob, dialog.ID, id, "hijack")
	assertKind(t, err, apperrors.ErrForbidden)

	if len(env.publisher.ofType(domain.EventMessageEdited)) != 2 {
		t.Fatalf("message.edited events: want=2")
	}
}

func TestDeleteMasksContent(t *testing.T) {
	env := newTestEnv(nil)
	dialog, alice, bob, msgs := seedConversation(t, env, 1)
	ctx := context.Background()
	id := msgs[0].ID

	err := env.messages.Delete(ctx, bob, dialog.ID, id)
	assertKind(t, err, apperrors.ErrForbidden)

	if err := env.messages.Delete(ctx, alice, dialog.ID, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	m, err := env.messages.Get(ctx, bob, dialog.ID, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !m.IsDeleted || m.Content != "" {
		t.Fatalf("deleted message must be masked: %+v", m)
	}

	page, err := env.messages.List(ctx, bob, dialog.ID, domain.PageRequest{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, pm := range page.Messages {
		if pm.ID == id && pm.Content != "" {
			t.Fatalf("deleted message leaked in list")
		}
	}

	_, err = env.messages.Edit(ctx, alice, dialog.ID, id, "undo")
	assertKind(t, err, apperrors.ErrNotFound)
	err = env.messages.Delete(ctx, alice, dialog.ID, id)
	assertKind(t, err, apperrors.ErrNotFound)
}

func TestSystemMessagesCannotBeEdited(t *testing.T) {
	env := newTestEnv(nil)
	dialog, alice, _, _ := seedConversation(t, env, 0)
	ctx := context.Background()

	page, err := env.messages.List(ctx, alice, dialog.ID, domain.PageRequest{})
	if err != nil || len(page.Messages) != 1 {
		t.Fatalf("expected chat_created system message: %v", err)
	}
	system := page.Messages[0]
	if system.MessageType != domain.MessageTypeSystem || system.SenderID != nil {
		t.Fatalf("unexpected first message: %+v", system)
	}

	_, err = env.messages.Edit(ctx, alice, dialog.ID, system.ID, "nope")
	assertKind(t, err, apperrors.ErrForbidden)
}
