package engine

import (
	"context"
	"errors"
	"testing"

	"relaydb/pkg/events"
	"relaydb/pkg/fanout"
	"relaydb/pkg/models"
	"relaydb/pkg/store"
)

// setup opens a fresh store and wires the standard hook set, mirroring app
// startup.
func setup(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	events.Reset()
	fanout.SetPolicy(fanout.PolicyUnique)
	RegisterHooks()
	t.Cleanup(func() {
		events.Reset()
		_ = store.Close()
	})
}

func seedDirectSetup(t *testing.T) (alice, bob models.User, conv models.Conversation) {
	t.Helper()
	ctx := context.Background()
	var err error
	if alice, err = CreateUser(ctx, "alice@example.com", "Alice"); err != nil {
		t.Fatalf("create alice: %v", err)
	}
	if bob, err = CreateUser(ctx, "bob@example.com", "Bob"); err != nil {
		t.Fatalf("create bob: %v", err)
	}
	if conv, err = CreateConversation(ctx, []string{alice.ID, bob.ID}); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return alice, bob, conv
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	setup(t)
	ctx := context.Background()
	if _, err := CreateUser(ctx, "alice@example.com", "Alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := CreateUser(ctx, "alice@example.com", "Impostor"); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation for duplicate email, got %v", err)
	}
}

func TestCreateMessageNotifiesReceiver(t *testing.T) {
	setup(t)
	alice, bob, conv := seedDirectSetup(t)
	ctx := context.Background()

	m, err := CreateMessage(ctx, models.Message{
		Sender: alice.ID, Receiver: bob.ID, Conversation: conv.ID, Body: "hi bob",
	})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if m.ID == "" || m.SentTS == 0 {
		t.Fatalf("identity not assigned: %+v", m)
	}

	notifs, err := ListNotifications(bob.ID, true)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifs) != 1 || notifs[0].Type != models.NotifyNewMessage || notifs[0].Message != m.ID {
		t.Fatalf("receiver should hold exactly one new-message notification, got %+v", notifs)
	}
	if notifs, _ := ListNotifications(alice.ID, false); len(notifs) != 0 {
		t.Fatalf("sender must not be notified, got %+v", notifs)
	}

	// The conversation's activity timestamp advanced with the message.
	c, err := GetConversation(conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if c.UpdatedTS < m.SentTS {
		t.Fatalf("conversation not touched: conv=%d msg=%d", c.UpdatedTS, m.SentTS)
	}
}

func TestGroupMessageNotifiesAllButSender(t *testing.T) {
	setup(t)
	ctx := context.Background()
	var ids []string
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		u, err := CreateUser(ctx, email, "")
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		ids = append(ids, u.ID)
	}
	conv, err := CreateConversation(ctx, ids)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if _, err := CreateMessage(ctx, models.Message{Sender: ids[0], Conversation: conv.ID, Body: "hello all"}); err != nil {
		t.Fatalf("create message: %v", err)
	}

	for _, uid := range ids[1:] {
		notifs, err := ListNotifications(uid, false)
		if err != nil {
			t.Fatalf("list for %s: %v", uid, err)
		}
		if len(notifs) != 1 {
			t.Fatalf("participant %s should hold one notification, got %d", uid, len(notifs))
		}
	}
	if notifs, _ := ListNotifications(ids[0], false); len(notifs) != 0 {
		t.Fatalf("sender must not be notified, got %+v", notifs)
	}
}

func TestEditMessageRecordsHistoryAndNotifies(t *testing.T) {
	setup(t)
	alice, bob, conv := seedDirectSetup(t)
	ctx := context.Background()

	m, err := CreateMessage(ctx, models.Message{Sender: alice.ID, Receiver: bob.ID, Conversation: conv.ID, Body: "v1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	edited, err := EditMessage(ctx, m.ID, "v2", alice.ID)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !edited.Edited || edited.EditedBy != alice.ID || edited.Body != "v2" {
		t.Fatalf("unexpected edited row: %+v", edited)
	}

	hist, err := GetEditHistory(m.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || hist[0].OldBody != "v1" {
		t.Fatalf("history must hold the pre-edit body, got %+v", hist)
	}

	orig, err := GetOriginalContent(m.ID)
	if err != nil || orig != "v1" {
		t.Fatalf("original content: got %q (%v)", orig, err)
	}

	notifs, err := ListNotifications(bob.ID, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var editNotifs int
	for _, n := range notifs {
		if n.Type == models.NotifyMessageEdit {
			editNotifs++
		}
	}
	if editNotifs != 1 {
		t.Fatalf("expected one edit notification, got %d (%+v)", editNotifs, notifs)
	}
}

func TestVetoedEditLeavesNoTrace(t *testing.T) {
	setup(t)
	alice, bob, conv := seedDirectSetup(t)
	ctx := context.Background()

	m, err := CreateMessage(ctx, models.Message{Sender: alice.ID, Receiver: bob.ID, Conversation: conv.ID, Body: "v1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// A veto registered after the standard hooks runs once the edit
	// recorder has already staged its snapshot.
	veto := errors.New("body edits frozen")
	events.OnBeforeMessageWrite(func(_ context.Context, old, next *models.Message) error {
		if old != nil && old.Body != next.Body {
			return veto
		}
		return nil
	})

	if _, err := EditMessage(ctx, m.ID, "v2", alice.ID); !errors.Is(err, veto) {
		t.Fatalf("expected the veto to surface, got %v", err)
	}

	got, err := GetMessage(m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Body != "v1" || got.Edited {
		t.Fatalf("aborted edit must leave the row untouched, got %+v", got)
	}
	hist, err := GetEditHistory(m.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 0 {
		t.Fatalf("aborted edit must not persist history, got %+v", hist)
	}

	// The next non-body update must not inherit the aborted edit: marking
	// the message read delivers no edit notification.
	if _, err := MarkMessageRead(ctx, m.ID, bob.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	notifs, err := ListNotifications(bob.ID, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, n := range notifs {
		if n.Type == models.NotifyMessageEdit {
			t.Fatalf("aborted edit produced an edit notification: %+v", notifs)
		}
	}
}

func TestEditMessageSameBodyIsNoop(t *testing.T) {
	setup(t)
	alice, bob, conv := seedDirectSetup(t)
	ctx := context.Background()

	m, err := CreateMessage(ctx, models.Message{Sender: alice.ID, Receiver: bob.ID, Conversation: conv.ID, Body: "v1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	same, err := EditMessage(ctx, m.ID, "v1", alice.ID)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if same.Edited {
		t.Fatal("same-body edit must not mark the row edited")
	}
	hist, err := GetEditHistory(m.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 0 {
		t.Fatalf("no history expected, got %+v", hist)
	}
}

func TestEditHistoryNewestFirst(t *testing.T) {
	setup(t)
	alice, bob, conv := seedDirectSetup(t)
	ctx := context.Background()

	m, err := CreateMessage(ctx, models.Message{Sender: alice.ID, Receiver: bob.ID, Conversation: conv.ID, Body: "v1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, body := range []string{"v2", "v3"} {
		if _, err := EditMessage(ctx, m.ID, body, alice.ID); err != nil {
			t.Fatalf("edit to %s: %v", body, err)
		}
	}
	hist, err := GetEditHistory(m.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || hist[0].OldBody != "v2" || hist[1].OldBody != "v1" {
		t.Fatalf("expected newest-first history, got %+v", hist)
	}
}

func TestMarkMessageRead(t *testing.T) {
	setup(t)
	alice, bob, conv := seedDirectSetup(t)
	ctx := context.Background()

	m, err := CreateMessage(ctx, models.Message{Sender: alice.ID, Receiver: bob.ID, Conversation: conv.ID, Body: "hi"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := MarkMessageRead(ctx, m.ID, alice.ID); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("only the receiver may mark read, got %v", err)
	}
	read, err := MarkMessageRead(ctx, m.ID, bob.ID)
	if err != nil || !read.Read {
		t.Fatalf("mark read: %+v (%v)", read, err)
	}

	// Read flips never create history or edit notifications.
	hist, _ := GetEditHistory(m.ID)
	if len(hist) != 0 {
		t.Fatalf("read flip produced history: %+v", hist)
	}

	unread, err := UnreadMessages(bob.ID)
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if len(unread) != 0 {
		t.Fatalf("expected no unread messages, got %+v", unread)
	}
}

func TestMarkConversationRead(t *testing.T) {
	setup(t)
	alice, bob, conv := seedDirectSetup(t)
	ctx := context.Background()

	for _, body := range []string{"one", "two", "three"} {
		if _, err := CreateMessage(ctx, models.Message{Sender: alice.ID, Receiver: bob.ID, Conversation: conv.ID, Body: body}); err != nil {
			t.Fatalf("create %s: %v", body, err)
		}
	}
	flipped, err := MarkConversationRead(ctx, conv.ID, bob.ID)
	if err != nil || flipped != 3 {
		t.Fatalf("expected 3 flipped, got %d (%v)", flipped, err)
	}
	flipped, err = MarkConversationRead(ctx, conv.ID, bob.ID)
	if err != nil || flipped != 0 {
		t.Fatalf("second pass should flip nothing, got %d (%v)", flipped, err)
	}
}

func TestDeleteUserTriggersCleanup(t *testing.T) {
	setup(t)
	alice, bob, conv := seedDirectSetup(t)
	ctx := context.Background()

	if _, err := CreateMessage(ctx, models.Message{Sender: alice.ID, Receiver: bob.ID, Conversation: conv.ID, Body: "hi"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := DeleteUser(ctx, bob.ID); err != nil {
		t.Fatalf("delete bob: %v", err)
	}
	// Alice remains a participant, so the conversation survives.
	if _, err := GetConversation(conv.ID); err != nil {
		t.Fatalf("conversation should survive: %v", err)
	}

	if _, err := DeleteUser(ctx, alice.ID); err != nil {
		t.Fatalf("delete alice: %v", err)
	}
	// The cleanup hook removes the now participant-less conversation.
	if _, err := GetConversation(conv.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("emptied conversation should be cleaned up, got %v", err)
	}

	if _, err := DeleteUser(ctx, bob.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("deleting a deleted user: expected ErrNotFound, got %v", err)
	}
}

func TestThreadedRepliesThroughEngine(t *testing.T) {
	setup(t)
	alice, bob, conv := seedDirectSetup(t)
	ctx := context.Background()

	root, err := CreateMessage(ctx, models.Message{Sender: alice.ID, Conversation: conv.ID, Body: "root"})
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	reply, err := CreateMessage(ctx, models.Message{Sender: bob.ID, Conversation: conv.ID, Body: "reply", Parent: root.ID})
	if err != nil {
		t.Fatalf("create reply: %v", err)
	}
	if _, err := CreateMessage(ctx, models.Message{Sender: alice.ID, Conversation: conv.ID, Body: "nested", Parent: reply.ID}); err != nil {
		t.Fatalf("create nested: %v", err)
	}

	node, err := GetThreadedReplies(root.ID, 5)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if node.Count() != 3 {
		t.Fatalf("expected 3 nodes, got %d", node.Count())
	}

	// Deleting the root takes the whole subtree with it.
	stats, err := DeleteMessage(ctx, root.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if stats.MessagesDeleted != 3 {
		t.Fatalf("expected 3 deleted, got %d", stats.MessagesDeleted)
	}
}

func TestMarkNotificationReadThroughEngine(t *testing.T) {
	setup(t)
	alice, bob, conv := seedDirectSetup(t)
	ctx := context.Background()

	if _, err := CreateMessage(ctx, models.Message{Sender: alice.ID, Receiver: bob.ID, Conversation: conv.ID, Body: "hi"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	notifs, err := ListNotifications(bob.ID, true)
	if err != nil || len(notifs) != 1 {
		t.Fatalf("expected one unread notification, got %+v (%v)", notifs, err)
	}
	if err := MarkNotificationRead(bob.ID, notifs[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	notifs, err = ListNotifications(bob.ID, true)
	if err != nil || len(notifs) != 0 {
		t.Fatalf("expected no unread notifications, got %+v (%v)", notifs, err)
	}
}
