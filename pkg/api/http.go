// Package api assembles the HTTP surface: versioned resource routes,
// the admin subrouter and the signing helper endpoint.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"relaydb/pkg/api/handlers"
	"relaydb/pkg/auth"
	"relaydb/pkg/utils"
)

// NewRouter returns the application router. Authentication, CORS and rate
// limiting are applied by the gateway middleware wrapping this router, so
// handlers only enforce role-level restrictions.
func NewRouter() *mux.Router {
	r := mux.NewRouter()

	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.RegisterUsers(v1)
	handlers.RegisterConversations(v1)
	handlers.RegisterMessages(v1)
	handlers.RegisterNotifications(v1)

	admin := v1.PathPrefix("/admin").Subrouter()
	handlers.RegisterAdmin(admin)

	handlers.RegisterSigning(r)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		utils.JSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		utils.JSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Signature verification runs inside the router so mux vars and the
	// gateway-provided role header are already in place.
	r.Use(func(next http.Handler) http.Handler { return auth.RequireSignedActor(next) })

	return r
}
