package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/teachniche/api/internal/middleware"
)

// Middleware validates the Authorization bearer token and stores the
// authenticated user ID in the request context. Requests without a valid
// access token are rejected with 401; handlers never see them.
func Middleware(svc *JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				unauthorized(w, "missing bearer token")
				return
			}

			claims, err := svc.ValidateToken(token)
			if err != nil {
				slog.WarnContext(r.Context(), "token validation failed", "error", err)
				unauthorized(w, "invalid or expired token")
				return
			}
			if claims.Type != TokenTypeAccess {
				unauthorized(w, "token is not an access token")
				return
			}

			ctx := middleware.SetUserID(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"auth_failed","message":"` + message + `"}}`))
}
