package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mailwise/inboxrag/internal/store"
)

type contextKey string

const userContextKey contextKey = "user"

// authenticate resolves the bearer token to a user and rejects requests
// without valid credentials.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		user, err := s.users.GetByExternalID(r.Context(), token)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unknown account")
				return
			}
			writeError(w, http.StatusInternalServerError, "authentication unavailable")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

// currentUser returns the authenticated user attached by the middleware.
func currentUser(r *http.Request) store.User {
	user, _ := r.Context().Value(userContextKey).(store.User)
	return user
}
