package handler

import (
	"net/http"
	"strings"
)

// extractAPIKey pulls the client key from x-api-key or a bearer token,
// in that order.
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.Fields(auth)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return ""
}

// requireAPIKey guards the messages endpoints with the configured key.
func requireAPIKey(apiKey string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "authentication_error", "missing api key")
			return
		}
		if key != apiKey {
			writeError(w, http.StatusUnauthorized, "authentication_error", "invalid api key")
			return
		}
		next(w, r)
	}
}

// requireAdminKey guards the admin endpoints. When no admin key is
// configured the endpoints stay disabled.
func requireAdminKey(adminKey string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if adminKey == "" {
			writeError(w, http.StatusNotFound, "not_found_error", "admin api disabled")
			return
		}
		if extractAPIKey(r) != adminKey {
			writeError(w, http.StatusUnauthorized, "authentication_error", "invalid admin api key")
			return
		}
		next(w, r)
	}
}
