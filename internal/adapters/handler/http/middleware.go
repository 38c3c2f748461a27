package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/ballotline/ballotline/internal/core/ports"
)

type contextKey string

const (
	SubjectKey contextKey = "subject"
	ScopesKey  contextKey = "scopes"
)

// RequireAuth extracts and verifies the bearer token, placing the subject
// and granted scopes into the request context. Verification failures are
// surfaced immediately and never retried; an unavailable key cache is an
// infra fault and maps to 503 so clients retry.
func RequireAuth(verifier ports.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			claims, err := verifier.Verify(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				if errors.Is(err, domain.ErrKeyUnavailable) {
					writeError(w, http.StatusServiceUnavailable, "verification keys unavailable, retry")
					return
				}
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, claims.Subject)
			ctx = context.WithValue(ctx, ScopesKey, claims.Scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func subjectFrom(r *http.Request) (string, bool) {
	subject, ok := r.Context().Value(SubjectKey).(string)
	return subject, ok && subject != ""
}

func hasScope(r *http.Request, required string) bool {
	scopes, ok := r.Context().Value(ScopesKey).([]string)
	if !ok {
		return false
	}
	for _, s := range scopes {
		if s == required {
			return true
		}
	}
	return false
}
