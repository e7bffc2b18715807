package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"relaydb/pkg/config"
	"relaydb/pkg/engine"
	"relaydb/pkg/events"
	"relaydb/pkg/fanout"
	"relaydb/pkg/models"
	"relaydb/pkg/store"
)

const testBackendKey = "backend-key"

// setupAPI opens a fresh store, wires the engine hooks and returns the
// router. Requests carry X-Role-Name the way the gateway middleware sets
// it after API key authentication.
func setupAPI(t *testing.T) http.Handler {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	events.Reset()
	fanout.SetPolicy(fanout.PolicyUnique)
	engine.RegisterHooks()
	config.SetRuntime(&config.RuntimeConfig{
		BackendKeys: map[string]struct{}{testBackendKey: {}},
	})
	t.Cleanup(func() {
		events.Reset()
		config.SetRuntime(nil)
		_ = store.Close()
	})
	return NewRouter()
}

func signActor(userID string) string {
	mac := hmac.New(sha256.New, []byte(testBackendKey))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

func doJSON(t *testing.T, h http.Handler, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if role != "" {
		req.Header.Set("X-Role-Name", role)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func createTestUser(t *testing.T, r http.Handler, email string) models.User {
	t.Helper()
	rec := doJSON(t, r, http.MethodPost, "/v1/users", "backend", map[string]string{"email": email})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user %s: %d %s", email, rec.Code, rec.Body.String())
	}
	return decode[models.User](t, rec)
}

func createTestConv(t *testing.T, r http.Handler, participants ...string) models.Conversation {
	t.Helper()
	rec := doJSON(t, r, http.MethodPost, "/v1/conversations", "backend", map[string]any{"participants": participants})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create conversation: %d %s", rec.Code, rec.Body.String())
	}
	return decode[models.Conversation](t, rec)
}

func sendTestMessage(t *testing.T, r http.Handler, payload map[string]string) models.Message {
	t.Helper()
	rec := doJSON(t, r, http.MethodPost, "/v1/messages", "backend", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create message: %d %s", rec.Code, rec.Body.String())
	}
	return decode[models.Message](t, rec)
}

func TestUserLifecycle(t *testing.T) {
	r := setupAPI(t)

	u := createTestUser(t, r, "alice@example.com")
	if u.ID == "" || u.Email != "alice@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}

	rec := doJSON(t, r, http.MethodPost, "/v1/users", "backend", map[string]string{"email": "not-an-email"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed email should be 400, got %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodGet, "/v1/users/"+u.ID, "backend", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get user: %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodGet, "/v1/users/user-missing", "backend", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing user should be 404, got %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodGet, "/v1/users", "backend", nil)
	list := decode[struct {
		Users []models.User `json:"users"`
	}](t, rec)
	if len(list.Users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(list.Users))
	}

	// Frontend callers may not delete accounts, even correctly signed.
	req := httptest.NewRequest(http.MethodDelete, "/v1/users/"+u.ID, nil)
	req.Header.Set("X-Role-Name", "frontend")
	req.Header.Set("X-User-ID", u.ID)
	req.Header.Set("X-User-Signature", signActor(u.ID))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("frontend delete should be 403, got %d", rr.Code)
	}
	rec = doJSON(t, r, http.MethodDelete, "/v1/users/"+u.ID, "backend", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("backend delete: %d %s", rec.Code, rec.Body.String())
	}
}

func TestMessageFlow(t *testing.T) {
	r := setupAPI(t)
	alice := createTestUser(t, r, "alice@example.com")
	bob := createTestUser(t, r, "bob@example.com")
	conv := createTestConv(t, r, alice.ID, bob.ID)

	m := sendTestMessage(t, r, map[string]string{
		"sender": alice.ID, "receiver": bob.ID, "conversation": conv.ID, "body": "hello bob",
	})
	if m.Sender != alice.ID || m.Read {
		t.Fatalf("unexpected message: %+v", m)
	}

	// Sending into an unknown conversation fails validation.
	rec := doJSON(t, r, http.MethodPost, "/v1/messages", "backend", map[string]string{
		"sender": alice.ID, "conversation": "conv-ghost", "body": "x",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown conversation should be 400, got %d", rec.Code)
	}

	// Bob's unread feed sees the message.
	rec = doJSON(t, r, http.MethodGet, "/v1/users/"+bob.ID+"/unread", "backend", nil)
	unread := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, rec)
	if len(unread.Messages) != 1 || unread.Messages[0].ID != m.ID {
		t.Fatalf("unexpected unread feed: %+v", unread)
	}

	// Bob marks it read (acting user via X-User-ID under a backend key).
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/"+m.ID+"/read", nil)
	req.Header.Set("X-Role-Name", "backend")
	req.Header.Set("X-User-ID", bob.ID)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("mark read: %d %s", rr.Code, rr.Body.String())
	}

	rec = doJSON(t, r, http.MethodGet, "/v1/users/"+bob.ID+"/unread", "backend", nil)
	unread = decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, rec)
	if len(unread.Messages) != 0 {
		t.Fatalf("unread feed should be empty, got %+v", unread)
	}

	// Conversation listing includes the message.
	rec = doJSON(t, r, http.MethodGet, "/v1/conversations/"+conv.ID+"/messages", "backend", nil)
	msgs := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, rec)
	if len(msgs.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs.Messages))
	}
}

func TestEditAndHistoryEndpoints(t *testing.T) {
	r := setupAPI(t)
	alice := createTestUser(t, r, "alice@example.com")
	bob := createTestUser(t, r, "bob@example.com")
	conv := createTestConv(t, r, alice.ID, bob.ID)
	m := sendTestMessage(t, r, map[string]string{
		"sender": alice.ID, "receiver": bob.ID, "conversation": conv.ID, "body": "v1",
	})

	rec := doJSON(t, r, http.MethodPut, "/v1/messages/"+m.ID, "backend", map[string]string{
		"body": "v2", "editor": alice.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit: %d %s", rec.Code, rec.Body.String())
	}
	edited := decode[models.Message](t, rec)
	if !edited.Edited || edited.Body != "v2" {
		t.Fatalf("unexpected edited message: %+v", edited)
	}

	rec = doJSON(t, r, http.MethodGet, "/v1/messages/"+m.ID+"/history", "backend", nil)
	hist := decode[struct {
		History []models.MessageHistory `json:"history"`
	}](t, rec)
	if len(hist.History) != 1 || hist.History[0].OldBody != "v1" {
		t.Fatalf("unexpected history: %+v", hist)
	}

	rec = doJSON(t, r, http.MethodGet, "/v1/messages/"+m.ID+"/original", "backend", nil)
	orig := decode[map[string]string](t, rec)
	if orig["original"] != "v1" {
		t.Fatalf("unexpected original: %v", orig)
	}
}

func TestRepliesEndpoint(t *testing.T) {
	r := setupAPI(t)
	alice := createTestUser(t, r, "alice@example.com")
	conv := createTestConv(t, r, alice.ID)
	root := sendTestMessage(t, r, map[string]string{
		"sender": alice.ID, "conversation": conv.ID, "body": "root",
	})
	reply := sendTestMessage(t, r, map[string]string{
		"sender": alice.ID, "conversation": conv.ID, "body": "reply", "parent": root.ID,
	})
	sendTestMessage(t, r, map[string]string{
		"sender": alice.ID, "conversation": conv.ID, "body": "nested", "parent": reply.ID,
	})

	rec := doJSON(t, r, http.MethodGet, "/v1/messages/"+root.ID+"/replies", "backend", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("replies: %d %s", rec.Code, rec.Body.String())
	}
	var node struct {
		Message models.Message `json:"message"`
		Replies []struct {
			Message models.Message `json:"message"`
			Replies []json.RawMessage `json:"replies"`
		} `json:"replies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &node); err != nil {
		t.Fatalf("decode tree: %v", err)
	}
	if len(node.Replies) != 1 || len(node.Replies[0].Replies) != 1 {
		t.Fatalf("unexpected tree shape: %s", rec.Body.String())
	}

	// depth=1 cuts the nested level.
	rec = doJSON(t, r, http.MethodGet, "/v1/messages/"+root.ID+"/replies?depth=1", "backend", nil)
	node.Replies = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &node); err != nil {
		t.Fatalf("decode shallow tree: %v", err)
	}
	if len(node.Replies) != 1 || len(node.Replies[0].Replies) != 0 {
		t.Fatalf("depth=1 should truncate, got %s", rec.Body.String())
	}
}

func TestNotificationsEndpoints(t *testing.T) {
	r := setupAPI(t)
	alice := createTestUser(t, r, "alice@example.com")
	bob := createTestUser(t, r, "bob@example.com")
	conv := createTestConv(t, r, alice.ID, bob.ID)
	m := sendTestMessage(t, r, map[string]string{
		"sender": alice.ID, "receiver": bob.ID, "conversation": conv.ID, "body": "hi",
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/notifications?unread=true", nil)
	req.Header.Set("X-Role-Name", "backend")
	req.Header.Set("X-User-ID", bob.ID)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list notifications: %d %s", rec.Code, rec.Body.String())
	}
	feed := decode[struct {
		Notifications []models.Notification `json:"notifications"`
	}](t, rec)
	if len(feed.Notifications) != 1 || feed.Notifications[0].Message != m.ID {
		t.Fatalf("unexpected feed: %+v", feed)
	}

	readPath := fmt.Sprintf("/v1/notifications/%s/read", feed.Notifications[0].ID)
	req = httptest.NewRequest(http.MethodPost, readPath, nil)
	req.Header.Set("X-Role-Name", "backend")
	req.Header.Set("X-User-ID", bob.ID)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark notification read: %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/notifications?unread=true", nil)
	req.Header.Set("X-Role-Name", "backend")
	req.Header.Set("X-User-ID", bob.ID)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	feed = decode[struct {
		Notifications []models.Notification `json:"notifications"`
	}](t, rec)
	if len(feed.Notifications) != 0 {
		t.Fatalf("expected empty unread feed, got %+v", feed)
	}
}

func TestDeleteUserEndpointCleansUp(t *testing.T) {
	r := setupAPI(t)
	alice := createTestUser(t, r, "alice@example.com")
	conv := createTestConv(t, r, alice.ID)
	sendTestMessage(t, r, map[string]string{
		"sender": alice.ID, "conversation": conv.ID, "body": "talking to myself",
	})

	rec := doJSON(t, r, http.MethodDelete, "/v1/users/"+alice.ID, "admin", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	stats := decode[store.CascadeStats](t, rec)
	if stats.MessagesDeleted != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	// The emptied conversation is swept by the after-delete hook.
	rec = doJSON(t, r, http.MethodGet, "/v1/conversations/"+conv.ID, "backend", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("conversation should be gone, got %d", rec.Code)
	}
}

func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	r := setupAPI(t)
	for _, path := range []string{"/v1/admin/health", "/v1/admin/stats", "/v1/admin/keys"} {
		rec := doJSON(t, r, http.MethodGet, path, "backend", nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s should be 403 for backend, got %d", path, rec.Code)
		}
		rec = doJSON(t, r, http.MethodGet, path, "admin", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s should be 200 for admin, got %d", path, rec.Code)
		}
	}
}

func TestSigningEndpoint(t *testing.T) {
	r := setupAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/_sign", bytes.NewBufferString(`{"userId":"user-1"}`))
	req.Header.Set("X-Role-Name", "backend")
	req.Header.Set("X-API-Key", "backend-key")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("sign: %d %s", rec.Code, rec.Body.String())
	}
	out := decode[map[string]string](t, rec)
	if out["userId"] != "user-1" || len(out["signature"]) != 64 {
		t.Fatalf("unexpected signing response: %v", out)
	}

	req = httptest.NewRequest(http.MethodPost, "/_sign", bytes.NewBufferString(`{"userId":"user-1"}`))
	req.Header.Set("X-Role-Name", "frontend")
	req.Header.Set("X-API-Key", "frontend-key")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("frontend signing should be 403, got %d", rec.Code)
	}
}

func TestUnknownRouteIs404JSON(t *testing.T) {
	r := setupAPI(t)
	rec := doJSON(t, r, http.MethodGet, "/v1/nope", "backend", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("404 body should be JSON, got %q", rec.Body.String())
	}
}
