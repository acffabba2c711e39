package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/quotawatch/internal/auth/token"
	"github.com/pysugar/quotawatch/internal/db"
	"github.com/pysugar/quotawatch/internal/util"
)

// AccountsHandler lists stored credentials with masked tokens.
func AccountsHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := store.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		views := make([]accountView, 0, len(accounts))
		for i := range accounts {
			views = append(views, viewOf(&accounts[i]))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": views})
	}
}

// ImportAccountHandler builds a credential from an externally-obtained
// refresh token.
func ImportAccountHandler(evaluator *token.Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refreshToken"`
			Email        string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
			writeError(w, http.StatusBadRequest, "refreshToken is required")
			return
		}

		account, err := evaluator.BuildFromRefreshToken(r.Context(), body.RefreshToken, body.Email)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, viewOf(account))
	}
}

// PromoteAccountHandler makes one account primary.
func PromoteAccountHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")
		if err := store.SetPrimary(email); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "primary": email})
	}
}

// RevokeAccountHandler deletes one account's credential. Terminal and
// non-reversible.
func RevokeAccountHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")
		ok, err := store.Has(email)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "account not found: "+email)
			return
		}
		if err := store.Delete(email); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "revoked", "email": email})
	}
}

// RevokeAllHandler deletes every stored credential.
func RevokeAllHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.DeleteAll(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "revoked_all"})
	}
}

// TokenStatusHandler evaluates a credential's health. The ?account=
// parameter selects an account; empty means the primary.
func TokenStatusHandler(evaluator *token.Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := evaluator.Status(r.Context(), r.URL.Query().Get("account"))
		payload := map[string]interface{}{
			"state": string(result.State),
			"email": result.Email,
		}
		if result.AccessToken != "" {
			payload["accessToken"] = util.MaskToken(result.AccessToken)
		}
		if result.Err != nil {
			payload["error"] = result.Err.Error()
		}

		status := http.StatusOK
		if result.State != token.StateOK {
			status = http.StatusConflict
		}
		writeJSON(w, status, payload)
	}
}
