package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/pursue/internal/auth"
)

// InternalKeyHeader carries the shared key on internal trigger requests.
const InternalKeyHeader = "X-Internal-Key"

// TokenVerifier resolves a bearer token to a caller.
type TokenVerifier interface {
	Verify(raw string) (auth.AuthContext, error)
}

// RequireUser validates the bearer token and populates AuthContext.
func RequireUser(tokens TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}

			ac, err := tokens.Verify(raw)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					unauthorized(w, "token expired")
					return
				}
				logger.Debug("rejected bearer token", "error", err, "remote", RealIP(r))
				unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
		})
	}
}

// RequireInternalKey admits requests whose X-Internal-Key matches the bcrypt
// hash. An empty hash rejects everything.
func RequireInternalKey(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.CheckKey(keyHash, r.Header.Get(InternalKeyHeader)) {
				unauthorized(w, "invalid internal key")
				return
			}
			ctx := auth.WithAuth(r.Context(), auth.AuthContext{Internal: true})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
