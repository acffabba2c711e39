package api

import (
	"net/http"
	"strings"

	"github.com/pysugar/quotawatch/internal/db"
	"gorm.io/gorm"
)

// APIKeyAuth validates the stored API key on machine-facing endpoints
// (token status polling, remote check triggers). Accepts Bearer and
// x-api-key forms. Allows all requests while no key is configured.
func APIKeyAuth(database *gorm.DB) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expectedKey := db.GetAPIKey(database)
			if expectedKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				if strings.TrimPrefix(authHeader, "Bearer ") == expectedKey {
					next.ServeHTTP(w, r)
					return
				}
			}

			if r.Header.Get("x-api-key") == expectedKey {
				next.ServeHTTP(w, r)
				return
			}

			writeError(w, http.StatusUnauthorized, "invalid API key")
		})
	}
}

// GetAPIKeyHandler returns the API key for pairing a client.
func GetAPIKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"apiKey": db.GetAPIKey(database)})
	}
}

// RegenerateAPIKeyHandler rotates the API key.
func RegenerateAPIKeyHandler(database *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"apiKey": db.RegenerateAPIKey(database)})
	}
}
