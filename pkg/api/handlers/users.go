package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"relaydb/pkg/engine"
	"relaydb/pkg/logger"
	"relaydb/pkg/models"
	"relaydb/pkg/utils"
)

// RegisterUsers registers user routes onto the provided router.
func RegisterUsers(r *mux.Router) {
	r.HandleFunc("/users", createUser).Methods(http.MethodPost)
	r.HandleFunc("/users", listUsers).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}", getUser).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}", deleteUser).Methods(http.MethodDelete)
	r.HandleFunc("/users/{id}/unread", listUnread).Methods(http.MethodGet)
}

// createUser handles POST /users. The body is JSON with "email" and an
// optional "display_name".
func createUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	u, err := engine.CreateUser(r.Context(), payload.Email, payload.DisplayName)
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("user_created", "user", u.ID)
	_ = utils.JSONWrite(w, http.StatusCreated, u)
}

func listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := engine.ListUsers()
	if err != nil {
		writeErr(w, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Users []models.User `json:"users"`
	}{Users: users})
}

func getUser(w http.ResponseWriter, r *http.Request) {
	u, err := engine.GetUser(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, u)
}

// deleteUser handles DELETE /users/{id}. Restricted to backend and admin
// keys; the cascade summary is returned so callers can audit what went
// with the account.
func deleteUser(w http.ResponseWriter, r *http.Request) {
	if !isBackendOrAdmin(r) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	id := mux.Vars(r)["id"]
	stats, err := engine.DeleteUser(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("user_deleted", "user", id, "messages", stats.MessagesDeleted)
	_ = utils.JSONWrite(w, http.StatusOK, stats)
}

// listUnread handles GET /users/{id}/unread: messages addressed to the
// user not yet marked read.
func listUnread(w http.ResponseWriter, r *http.Request) {
	msgs, err := engine.UnreadMessages(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Messages []models.Message `json:"messages"`
	}{Messages: msgs})
}
