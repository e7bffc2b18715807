package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"relaydb/pkg/auth"
	"relaydb/pkg/engine"
	"relaydb/pkg/models"
	"relaydb/pkg/utils"
)

// RegisterConversations registers conversation routes onto the provided router.
func RegisterConversations(r *mux.Router) {
	r.HandleFunc("/conversations", createConversation).Methods(http.MethodPost)
	r.HandleFunc("/conversations", listConversations).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}", getConversation).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/messages", listConversationMessages).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/read", markConversationRead).Methods(http.MethodPost)
}

// createConversation handles POST /conversations. The body is JSON with a
// "participants" array of user ids.
func createConversation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Participants []string `json:"participants"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	c, err := engine.CreateConversation(r.Context(), payload.Participants)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, c)
}

// listConversations handles GET /conversations. An optional "user" query
// parameter keeps only conversations the user participates in.
func listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := engine.ListConversations()
	if err != nil {
		writeErr(w, err)
		return
	}
	if userQ := r.URL.Query().Get("user"); userQ != "" {
		filtered := convs[:0]
		for _, c := range convs {
			if c.HasParticipant(userQ) {
				filtered = append(filtered, c)
			}
		}
		convs = filtered
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversations []models.Conversation `json:"conversations"`
	}{Conversations: convs})
}

func getConversation(w http.ResponseWriter, r *http.Request) {
	c, err := engine.GetConversation(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

// listConversationMessages handles GET /conversations/{id}/messages. An
// optional "limit" query parameter keeps only the newest n messages.
func listConversationMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		if n, err := strconv.Atoi(limStr); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := engine.ListConversationMessages(mux.Vars(r)["id"], limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversation string           `json:"conversation"`
		Messages     []models.Message `json:"messages"`
	}{Conversation: mux.Vars(r)["id"], Messages: msgs})
}

// markConversationRead handles POST /conversations/{id}/read: flips the
// read flag on every unread message addressed to the acting user.
func markConversationRead(w http.ResponseWriter, r *http.Request) {
	userID, status, msg := auth.ResolveActorFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	flipped, err := engine.MarkConversationRead(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]int{"marked_read": flipped})
}
