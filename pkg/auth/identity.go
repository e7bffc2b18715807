package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"relaydb/pkg/config"
	"relaydb/pkg/logger"
	"relaydb/pkg/utils"
)

// Role represents the resolved caller role for a request.
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
	RoleAdmin
)

// SecConfig mirrors the security-related configuration used to drive
// authentication, CORS and rate limiting behavior. Put here so limiter.go
// and gateway.go can reference the shared type.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
	AdminKeys      map[string]struct{}
}

type ctxActorKey struct{}

// RequireSignedActor verifies HMAC signature headers and injects the
// verified user id into the request context. Backend and admin callers
// may omit the signature; frontend callers must sign the user id they
// act as with one of the backend keys.
func RequireSignedActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get("X-Role-Name")
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		sig := strings.TrimSpace(r.Header.Get("X-User-Signature"))

		if role == "backend" || role == "admin" {
			if sig == "" {
				// Trusted caller without a signature; handlers may accept a
				// user id from body or the X-User-ID header.
				next.ServeHTTP(w, r)
				return
			}
			// signature present -> verify it like any other caller
		}

		if sig == "" || userID == "" {
			logger.Warn("missing_signature_headers", "path", r.URL.Path, "remote", r.RemoteAddr)
			utils.JSONError(w, http.StatusUnauthorized, "missing signature headers")
			return
		}

		keys := config.GetBackendKeys()
		if len(keys) == 0 {
			logger.Error("no_signing_keys_configured")
			utils.JSONError(w, http.StatusInternalServerError, "server misconfigured: no signing secrets available")
			return
		}

		ok := false
		for k := range keys {
			mac := hmac.New(sha256.New, []byte(k))
			mac.Write([]byte(userID))
			expected := hex.EncodeToString(mac.Sum(nil))
			if hmac.Equal([]byte(expected), []byte(sig)) {
				ok = true
				break
			}
		}
		if !ok {
			logger.Warn("invalid_signature", "user", userID)
			utils.JSONError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		ctx := context.WithValue(r.Context(), ctxActorKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorIDFromContext returns the signature-verified user id or empty string.
func ActorIDFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxActorKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func validateActor(a string) (bool, string) {
	if a == "" {
		return false, "user id required"
	}
	if len(a) > 128 {
		return false, "user id too long"
	}
	return true, ""
}

// ResolveActorFromRequest is the canonical resolver handlers call to learn
// which user a request acts as. A signature-verified id is authoritative;
// any conflicting id from header, query or body is rejected. Without a
// signature, backend/admin callers may supply the id via body, X-User-ID
// header or query param; frontend callers get a 401.
func ResolveActorFromRequest(r *http.Request, bodyActor string) (string, int, string) {
	if id := ActorIDFromContext(r.Context()); id != "" {
		if q := strings.TrimSpace(r.URL.Query().Get("user")); q != "" && q != id {
			return "", http.StatusForbidden, "user mismatch between signature and query param"
		}
		if h := strings.TrimSpace(r.Header.Get("X-User-ID")); h != "" && h != id {
			return "", http.StatusForbidden, "user mismatch between signature and header"
		}
		if bodyActor != "" && bodyActor != id {
			return "", http.StatusForbidden, "user mismatch between signature and body"
		}
		return id, 0, ""
	}

	role := r.Header.Get("X-Role-Name")
	if role == "backend" || role == "admin" {
		for _, cand := range []string{bodyActor, strings.TrimSpace(r.Header.Get("X-User-ID")), strings.TrimSpace(r.URL.Query().Get("user"))} {
			if cand == "" {
				continue
			}
			if ok, msg := validateActor(cand); !ok {
				logger.Warn("invalid_backend_actor", "user", cand, "remote", r.RemoteAddr, "path", r.URL.Path)
				return "", http.StatusBadRequest, msg
			}
			return cand, 0, ""
		}
		return "", http.StatusBadRequest, "user id required for backend requests"
	}

	logger.Warn("missing_actor_signature", "role", role, "remote", r.RemoteAddr, "path", r.URL.Path)
	return "", http.StatusUnauthorized, "missing or invalid user signature"
}
