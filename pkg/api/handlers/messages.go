package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"relaydb/pkg/auth"
	"relaydb/pkg/engine"
	"relaydb/pkg/logger"
	"relaydb/pkg/models"
	"relaydb/pkg/threads"
	"relaydb/pkg/utils"
)

// RegisterMessages registers message routes onto the provided router.
func RegisterMessages(r *mux.Router) {
	r.HandleFunc("/messages", createMessage).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}", getMessage).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", editMessage).Methods(http.MethodPut)
	r.HandleFunc("/messages/{id}", deleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}/history", getHistory).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}/original", getOriginal).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}/replies", getReplies).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}/read", markRead).Methods(http.MethodPost)
}

// createMessage handles POST /messages. The sender is resolved from the
// signature headers (or supplied by trusted backend callers); body fields
// name the conversation, the text, and optionally a receiver and parent.
func createMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Sender       string `json:"sender"`
		Receiver     string `json:"receiver"`
		Conversation string `json:"conversation"`
		Body         string `json:"body"`
		Parent       string `json:"parent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	sender, status, msg := auth.ResolveActorFromRequest(r, payload.Sender)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	m, err := engine.CreateMessage(r.Context(), models.Message{
		Sender:       sender,
		Receiver:     payload.Receiver,
		Conversation: payload.Conversation,
		Body:         payload.Body,
		Parent:       payload.Parent,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Info("message_created", "msg", m.ID, "conversation", m.Conversation)
	_ = utils.JSONWrite(w, http.StatusCreated, m)
}

func getMessage(w http.ResponseWriter, r *http.Request) {
	m, err := engine.GetMessage(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

// editMessage handles PUT /messages/{id}. Only the body may change; the
// previous text is snapshotted into the edit history when it differs.
func editMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Body   string `json:"body"`
		Editor string `json:"editor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	editor, status, msg := auth.ResolveActorFromRequest(r, payload.Editor)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	m, err := engine.EditMessage(r.Context(), mux.Vars(r)["id"], payload.Body, editor)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

func deleteMessage(w http.ResponseWriter, r *http.Request) {
	stats, err := engine.DeleteMessage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, stats)
}

// getHistory handles GET /messages/{id}/history: edit snapshots, newest
// first.
func getHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := engine.GetEditHistory(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	if rows == nil {
		rows = []models.MessageHistory{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		ID      string                  `json:"id"`
		History []models.MessageHistory `json:"history"`
	}{ID: mux.Vars(r)["id"], History: rows})
}

// getOriginal handles GET /messages/{id}/original: the body the message
// was first sent with.
func getOriginal(w http.ResponseWriter, r *http.Request) {
	body, err := engine.GetOriginalContent(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{
		"id":       mux.Vars(r)["id"],
		"original": body,
	})
}

// getReplies handles GET /messages/{id}/replies. An optional "depth"
// query parameter bounds the tree; deeper branches are truncated.
func getReplies(w http.ResponseWriter, r *http.Request) {
	depth := threads.DefaultMaxDepth
	if dStr := r.URL.Query().Get("depth"); dStr != "" {
		if n, err := strconv.Atoi(dStr); err == nil {
			depth = n
		}
	}
	node, err := engine.GetThreadedReplies(mux.Vars(r)["id"], depth)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, node)
}

// markRead handles POST /messages/{id}/read for the acting user.
func markRead(w http.ResponseWriter, r *http.Request) {
	userID, status, msg := auth.ResolveActorFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	m, err := engine.MarkMessageRead(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}
