// Package middleware holds the HTTP middleware chain for the vault API:
// bearer/key authentication, CORS, and structured request logging.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth gates every request behind the configured server.api_key. Clients
// present it either as "Authorization: Bearer <key>" or in X-API-Key. An
// empty key disables the gate, which is the dev-mode default.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := presentedKey(r)
			if presented == "" {
				unauthorized(w, "missing api key")
				return
			}
			// Compare in constant time; the key is a shared secret.
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				unauthorized(w, "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// presentedKey pulls the key from the Bearer scheme or the X-API-Key header,
// in that order.
func presentedKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, rest, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
