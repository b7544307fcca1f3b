package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// operatorKeyHeader carries the operator API key as an alternative to the
// Authorization bearer scheme. This key guards the local operator surface
// only; venue requests are authenticated separately with PX-* session
// headers by the crypto package.
const operatorKeyHeader = "X-Operator-Key"

// Auth returns middleware that validates operator API requests against the
// configured operator key. If operatorKey is empty, authentication is
// disabled and all requests pass through.
func Auth(operatorKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if operatorKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := operatorToken(r)
			if token == "" {
				writeUnauthorized(w, "missing operator key")
				return
			}

			// Constant-time comparison to prevent timing attacks.
			if subtle.ConstantTimeCompare([]byte(token), []byte(operatorKey)) != 1 {
				writeUnauthorized(w, "invalid operator key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// operatorToken extracts the key from Authorization: Bearer <key> or from
// the X-Operator-Key header.
func operatorToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.Header.Get(operatorKeyHeader))
}

// writeUnauthorized sends a 401 with the same JSON error shape the API
// handlers use.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer realm="makerbot operator API"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
