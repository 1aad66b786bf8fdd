package httpapi

import (
	"context"
	"net/http"

	"github.com/eventpulse/chat-service/pkg/auth"
	"github.com/eventpulse/chat-service/pkg/model"
)

type contextKey string

const claimsKey contextKey = "claims"

// requireAuth validates the bearer token and stashes the claims.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.authn.ValidateToken(r.Header.Get("Authorization"))
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, model.CodeUnauthenticated, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// actorMatches enforces that the user_id a request names is the
// authenticated user. The REST shapes carry explicit user ids; without
// this check any valid token could act as anyone.
func (a *API) actorMatches(w http.ResponseWriter, r *http.Request, userID string) bool {
	if userID == "" {
		a.writeError(w, http.StatusBadRequest, model.CodeUnknownEvent, "user_id is required")
		return false
	}
	claims, ok := r.Context().Value(claimsKey).(*auth.Claims)
	if !ok || claims.UserID != userID {
		a.writeError(w, http.StatusForbidden, model.CodeForbidden, "user_id does not match the authenticated user")
		return false
	}
	return true
}
