package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"log"
	"net/http"
	"strings"
)

// RequireToken protects mutating routes with a static bearer token.
// An empty token disables the check (local development).
func RequireToken(token string) func(http.Handler) http.Handler {
	if token == "" {
		return func(next http.Handler) http.Handler { return next }
	}

	want := sha256.Sum256([]byte(token))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r)
			if !ok {
				writeError(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			// Compare digests so the check is constant time regardless of length
			sum := sha256.Sum256([]byte(got))
			if !hmac.Equal(sum[:], want[:]) {
				log.Printf("🔐 Rejected admin token from %s", GetClientIP(r))
				RecordConnectionRejected("auth")
				writeError(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}
