package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/pysugar/quotawatch/internal/auth/google"
)

// AuthStartHandler begins an authorization session and returns the URL the
// user must open. Idempotent while a session is pending.
func AuthStartHandler(sessions *google.SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, err := sessions.Begin()
		if err != nil {
			if errors.Is(err, google.ErrNoPortAvailable) {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"authUrl": authURL})
	}
}

// AuthWaitHandler long-polls the pending session's outcome. ?timeout= is in
// seconds, capped at the default wait.
func AuthWaitHandler(sessions *google.SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timeout := google.DefaultAuthWait
		if s := r.URL.Query().Get("timeout"); s != "" {
			secs, err := strconv.Atoi(s)
			if err != nil || secs <= 0 {
				writeError(w, http.StatusBadRequest, "timeout must be a positive number of seconds")
				return
			}
			if d := time.Duration(secs) * time.Second; d < timeout {
				timeout = d
			}
		}

		account, err := sessions.Wait(r.Context(), timeout)
		if err != nil {
			switch {
			case errors.Is(err, google.ErrNoPendingSession):
				writeError(w, http.StatusConflict, err.Error())
			case errors.Is(err, google.ErrAuthorizationTimeout):
				writeError(w, http.StatusGatewayTimeout, err.Error())
			case errors.Is(err, google.ErrAuthorizationCancelled):
				writeError(w, http.StatusConflict, err.Error())
			default:
				var denied *google.DeniedError
				if errors.As(err, &denied) {
					writeError(w, http.StatusForbidden, denied.Error())
					return
				}
				writeError(w, http.StatusBadGateway, err.Error())
			}
			return
		}
		writeJSON(w, http.StatusOK, viewOf(account))
	}
}

// AuthCancelHandler cancels the pending session, if any.
func AuthCancelHandler(sessions *google.SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions.Cancel()
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}
