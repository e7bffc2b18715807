package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"relaydb/pkg/logger"
	"relaydb/pkg/store"
	"relaydb/pkg/utils"
)

// RegisterAdmin registers admin-only routes onto the admin subrouter.
func RegisterAdmin(r *mux.Router) {
	r.HandleFunc("/health", adminHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", adminStats).Methods(http.MethodGet)
	r.HandleFunc("/keys", adminListKeys).Methods(http.MethodGet)
}

func adminHealth(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok", "service": "relaydb"})
}

func adminStats(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	users, _ := store.ListUsers()
	convs, _ := store.ListConversations()
	var msgCount int
	for _, c := range convs {
		ids, err := store.ListConversationMessageIDs(c.ID)
		if err != nil {
			continue
		}
		msgCount += len(ids)
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Users         int    `json:"users"`
		Conversations int    `json:"conversations"`
		Messages      int    `json:"messages"`
		DBSizeBytes   uint64 `json:"db_size_bytes"`
	}{Users: len(users), Conversations: len(convs), Messages: msgCount, DBSizeBytes: store.DBSizeBytes()})
}

// adminListKeys lists raw keys in the underlying store. Optional query
// param `prefix` limits keys by prefix.
func adminListKeys(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	keys, err := store.ListKeys(r.URL.Query().Get("prefix"))
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Keys []string `json:"keys"`
	}{Keys: keys})
}

// RegisterSigning registers the signing endpoint onto the provided router.
// Protected by the security middleware; the caller's API key value is the
// signing secret.
func RegisterSigning(r *mux.Router) {
	r.HandleFunc("/_sign", signHandler).Methods(http.MethodPost)
}

// signHandler generates an HMAC-SHA256 signature for a user id using the
// caller's API key as the secret. Only backend and admin roles may sign.
func signHandler(w http.ResponseWriter, r *http.Request) {
	if !isBackendOrAdmin(r) {
		logger.Warn("sign_forbidden", "role", r.Header.Get("X-Role-Name"), "remote", r.RemoteAddr)
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}

	auth := r.Header.Get("Authorization")
	var key string
	if len(auth) > 7 && (auth[:7] == "Bearer " || auth[:7] == "bearer ") {
		key = auth[7:]
	}
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}
	if key == "" {
		utils.JSONError(w, http.StatusUnauthorized, "missing api key")
		return
	}

	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.UserID == "" {
		utils.JSONError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(payload.UserID))
	sig := hex.EncodeToString(mac.Sum(nil))
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"userId": payload.UserID, "signature": sig})
}
