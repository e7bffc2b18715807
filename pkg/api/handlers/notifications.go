package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"relaydb/pkg/auth"
	"relaydb/pkg/engine"
	"relaydb/pkg/models"
	"relaydb/pkg/utils"
)

// RegisterNotifications registers notification routes onto the provided router.
func RegisterNotifications(r *mux.Router) {
	r.HandleFunc("/notifications", listNotifications).Methods(http.MethodGet)
	r.HandleFunc("/notifications/{id}/read", markNotificationRead).Methods(http.MethodPost)
}

// listNotifications handles GET /notifications for the acting user,
// newest first. "unread=true" keeps only unread rows.
func listNotifications(w http.ResponseWriter, r *http.Request) {
	userID, status, msg := auth.ResolveActorFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"
	notifs, err := engine.ListNotifications(userID, unreadOnly)
	if err != nil {
		writeErr(w, err)
		return
	}
	if notifs == nil {
		notifs = []models.Notification{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		User          string                `json:"user"`
		Notifications []models.Notification `json:"notifications"`
	}{User: userID, Notifications: notifs})
}

// markNotificationRead handles POST /notifications/{id}/read for the
// acting user.
func markNotificationRead(w http.ResponseWriter, r *http.Request) {
	userID, status, msg := auth.ResolveActorFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if err := engine.MarkNotificationRead(userID, mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}
