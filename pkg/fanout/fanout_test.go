package fanout

import (
	"context"
	"testing"

	"relaydb/pkg/models"
	"relaydb/pkg/store"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func seedConv(t *testing.T, id string, participants ...string) {
	t.Helper()
	if err := store.SaveConversation(models.Conversation{ID: id, Participants: participants}); err != nil {
		t.Fatalf("save conversation: %v", err)
	}
}

func TestRecipientsDirectMessage(t *testing.T) {
	openTestStore(t)
	m := models.Message{ID: "msg-1", Sender: "user-a", Receiver: "user-b", Conversation: "conv-1"}
	got, err := Recipients(&m)
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(got) != 1 || got[0] != "user-b" {
		t.Fatalf("expected [user-b], got %v", got)
	}
}

func TestRecipientsSelfMessageIsEmpty(t *testing.T) {
	openTestStore(t)
	m := models.Message{ID: "msg-1", Sender: "user-a", Receiver: "user-a", Conversation: "conv-1"}
	got, err := Recipients(&m)
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("self-addressed message must not notify, got %v", got)
	}
}

func TestRecipientsGroupExcludesSender(t *testing.T) {
	openTestStore(t)
	seedConv(t, "conv-1", "user-a", "user-b", "user-c")
	m := models.Message{ID: "msg-1", Sender: "user-a", Conversation: "conv-1"}
	got, err := Recipients(&m)
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 recipients, got %v", got)
	}
	for _, uid := range got {
		if uid == "user-a" {
			t.Fatal("sender must never be a recipient")
		}
	}
}

func TestRecipientsMissingConversation(t *testing.T) {
	openTestStore(t)
	m := models.Message{ID: "msg-1", Sender: "user-a", Conversation: "conv-gone"}
	got, err := Recipients(&m)
	if err != nil {
		t.Fatalf("missing conversation must not error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no recipients, got %v", got)
	}
}

func TestOnMessageWrittenFansOutOnCreateOnly(t *testing.T) {
	openTestStore(t)
	SetPolicy(PolicyUnique)
	seedConv(t, "conv-1", "user-a", "user-b", "user-c")
	m := models.Message{ID: "msg-1", Sender: "user-a", Conversation: "conv-1", Body: "hi"}

	if err := OnMessageWritten(context.Background(), &m, true); err != nil {
		t.Fatalf("on written: %v", err)
	}
	for _, uid := range []string{"user-b", "user-c"} {
		notifs, err := store.ListUserNotifications(uid, false)
		if err != nil {
			t.Fatalf("list notifications for %s: %v", uid, err)
		}
		if len(notifs) != 1 || notifs[0].Type != models.NotifyNewMessage || notifs[0].Message != "msg-1" {
			t.Fatalf("unexpected notifications for %s: %+v", uid, notifs)
		}
	}
	if notifs, _ := store.ListUserNotifications("user-a", false); len(notifs) != 0 {
		t.Fatalf("sender must not be notified, got %+v", notifs)
	}

	// Updates do not fan out through OnMessageWritten.
	if err := OnMessageWritten(context.Background(), &m, false); err != nil {
		t.Fatalf("on written update: %v", err)
	}
	if notifs, _ := store.ListUserNotifications("user-b", false); len(notifs) != 1 {
		t.Fatalf("update fanned out, got %+v", notifs)
	}
}

func TestUniquePolicySuppressesRepeatDelivery(t *testing.T) {
	openTestStore(t)
	SetPolicy(PolicyUnique)
	t.Cleanup(func() { SetPolicy(PolicyUnique) })
	seedConv(t, "conv-1", "user-a", "user-b")
	m := models.Message{ID: "msg-1", Sender: "user-a", Conversation: "conv-1", Body: "hi"}

	if err := OnMessageWritten(context.Background(), &m, true); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := OnMessageWritten(context.Background(), &m, true); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	notifs, err := store.ListUserNotifications("user-b", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(notifs) != 1 {
		t.Fatalf("unique policy should suppress the repeat, got %d", len(notifs))
	}

	SetPolicy(PolicyAllowDuplicates)
	if err := OnMessageWritten(context.Background(), &m, true); err != nil {
		t.Fatalf("third delivery: %v", err)
	}
	notifs, _ = store.ListUserNotifications("user-b", false)
	if len(notifs) != 2 {
		t.Fatalf("allow-duplicates should write a fresh row, got %d", len(notifs))
	}
}

func TestOnMessageEditedUsesEditType(t *testing.T) {
	openTestStore(t)
	SetPolicy(PolicyUnique)
	seedConv(t, "conv-1", "user-a", "user-b")
	m := models.Message{ID: "msg-1", Sender: "user-a", Conversation: "conv-1", Body: "v2", Edited: true}

	OnMessageEdited(context.Background(), &m)
	notifs, err := store.ListUserNotifications("user-b", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(notifs) != 1 || notifs[0].Type != models.NotifyMessageEdit {
		t.Fatalf("expected one edit notification, got %+v", notifs)
	}
}

func TestFanoutFailureDoesNotSurface(t *testing.T) {
	// No store open: delivery fails internally but the handler contract
	// is to swallow it.
	m := models.Message{ID: "msg-1", Sender: "user-a", Receiver: "user-b", Conversation: "conv-1", Body: "hi"}
	if err := OnMessageWritten(context.Background(), &m, true); err != nil {
		t.Fatalf("fan-out failure must not propagate, got %v", err)
	}
}
