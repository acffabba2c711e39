// Package api exposes the localhost control surface: account management,
// interactive authorization, schedule configuration and manual checks.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pysugar/quotawatch/internal/db/models"
	"github.com/pysugar/quotawatch/internal/util"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// accountView is the API rendering of a stored credential. Tokens never
// leave the process unmasked.
type accountView struct {
	Email         string    `json:"email"`
	ProjectID     string    `json:"projectId,omitempty"`
	AccessToken   string    `json:"accessToken"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Scopes        []string  `json:"scopes,omitempty"`
	IsPrimary     bool      `json:"isPrimary"`
	IsInvalid     bool      `json:"isInvalid"`
	LastCheckedAt time.Time `json:"lastCheckedAt,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func viewOf(acc *models.Account) accountView {
	return accountView{
		Email:         acc.Email,
		ProjectID:     acc.ProjectID,
		AccessToken:   util.MaskToken(acc.AccessToken),
		ExpiresAt:     acc.ExpiresAt,
		Scopes:        acc.ScopeList(),
		IsPrimary:     acc.IsPrimary,
		IsInvalid:     acc.IsInvalid,
		LastCheckedAt: acc.LastCheckedAt,
		CreatedAt:     acc.CreatedAt,
	}
}
