package threads

import (
	"errors"
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

// seedChain writes root -> reply-1 -> reply-2 -> ... depth levels deep.
func seedChain(t *testing.T, depth int) {
	t.Helper()
	parent := ""
	for i := 0; i <= depth; i++ {
		id := "msg-0"
		if i > 0 {
			id = "msg-" + string(rune('0'+i))
		}
		m := models.Message{ID: id, Sender: "user-a", Conversation: "conv-1", Body: "b", SentTS: int64(i + 1), Parent: parent}
		if err := store.SaveMessage(m, true); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
		parent = id
	}
}

func TestResolveNestedReplies(t *testing.T) {
	openTestStore(t)
	root := models.Message{ID: "msg-root", Sender: "user-a", Conversation: "conv-1", Body: "root", SentTS: 1}
	if err := store.SaveMessage(root, true); err != nil {
		t.Fatalf("save root: %v", err)
	}
	for i, id := range []string{"msg-r1", "msg-r2"} {
		m := models.Message{ID: id, Sender: "user-b", Conversation: "conv-1", Body: "reply", SentTS: int64(10 + i), Parent: "msg-root"}
		if err := store.SaveMessage(m, true); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	nested := models.Message{ID: "msg-r1a", Sender: "user-a", Conversation: "conv-1", Body: "nested", SentTS: 20, Parent: "msg-r1"}
	if err := store.SaveMessage(nested, true); err != nil {
		t.Fatalf("save nested: %v", err)
	}

	node, err := Resolve("msg-root", DefaultMaxDepth)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(node.Replies) != 2 {
		t.Fatalf("expected 2 direct replies, got %d", len(node.Replies))
	}
	// Siblings ordered by sent timestamp.
	if node.Replies[0].Message.ID != "msg-r1" || node.Replies[1].Message.ID != "msg-r2" {
		t.Fatalf("unexpected sibling order: %s, %s", node.Replies[0].Message.ID, node.Replies[1].Message.ID)
	}
	if len(node.Replies[0].Replies) != 1 || node.Replies[0].Replies[0].Message.ID != "msg-r1a" {
		t.Fatalf("nested reply missing: %+v", node.Replies[0].Replies)
	}
	if node.Count() != 4 {
		t.Fatalf("expected 4 nodes, got %d", node.Count())
	}
}

func TestResolveDepthZeroReturnsRootOnly(t *testing.T) {
	openTestStore(t)
	seedChain(t, 3)

	node, err := Resolve("msg-0", 0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(node.Replies) != 0 {
		t.Fatalf("depth 0 must not attach replies, got %d", len(node.Replies))
	}

	neg, err := Resolve("msg-0", -3)
	if err != nil {
		t.Fatalf("resolve negative: %v", err)
	}
	if len(neg.Replies) != 0 {
		t.Fatalf("negative depth behaves as 0, got %d replies", len(neg.Replies))
	}
}

func TestResolveTruncatesDeepChains(t *testing.T) {
	openTestStore(t)
	seedChain(t, 8)

	node, err := Resolve("msg-0", 2)
	if err != nil {
		t.Fatalf("deep chains truncate, never error: %v", err)
	}
	// Root plus exactly two levels.
	if node.Count() != 3 {
		t.Fatalf("expected 3 nodes at depth 2, got %d", node.Count())
	}

	full, err := Resolve("msg-0", DefaultMaxDepth)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if full.Count() != DefaultMaxDepth+1 {
		t.Fatalf("expected %d nodes, got %d", DefaultMaxDepth+1, full.Count())
	}
}

func TestResolveUnknownRoot(t *testing.T) {
	openTestStore(t)
	if _, err := Resolve("msg-missing", DefaultMaxDepth); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
