package api

import (
	"context"
	"log/slog"
	"net/http"

	"visiona-backend/internal/database"

	"gorm.io/gorm"
)

// Authentication is delegated to an external identity provider sitting in
// front of this service; the proxy forwards the verified principal in these
// headers. Absence of a principal fails every entry point before any other
// work happens.
const (
	principalIdHeader    = "X-Auth-Principal-Id"
	principalEmailHeader = "X-Auth-Principal-Email"
)

type contextKey string

const userContextKey contextKey = "visiona-user"

// PrincipalMiddleware resolves the forwarded principal into a user row,
// creating it lazily on first authenticated request.
func PrincipalMiddleware(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			externalId := r.Header.Get(principalIdHeader)
			if externalId == "" {
				http.Error(w, "unauthorized: no authenticated principal", http.StatusUnauthorized)
				return
			}

			user, err := database.GetOrCreateUser(r.Context(), db, externalId, r.Header.Get(principalEmailHeader))
			if err != nil {
				slog.Error("error resolving user for request", "error", err)
				http.Error(w, "error resolving user account", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
		})
	}
}

// RequestUser returns the authenticated user stored by PrincipalMiddleware.
func RequestUser(r *http.Request) (database.User, error) {
	user, ok := r.Context().Value(userContextKey).(database.User)
	if !ok {
		return database.User{}, CodedErrorf(http.StatusUnauthorized, "unauthorized: no authenticated principal")
	}
	return user, nil
}
