// Package auth guards the operator API with a static bearer token.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Open lists paths served without a token.
var Open = map[string]bool{"/healthz": true, "/readyz": true, "/metrics": true}

// Middleware rejects requests without the bearer token. An empty token
// rejects every guarded request.
func Middleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if Open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			// Expect: Authorization: Bearer <token>
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				http.Error(w, "missing API token", http.StatusUnauthorized)
				return
			}

			got := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "invalid API token", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
