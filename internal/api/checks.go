package api

import (
	"net/http"
	"strconv"

	"github.com/pysugar/quotawatch/internal/db"
	"github.com/pysugar/quotawatch/internal/quota"
	"github.com/pysugar/quotawatch/internal/version"
)

// RunCheckHandler runs the quota check now, synchronously, and returns the
// records written for the run. ?account= limits it to one account.
func RunCheckHandler(checker *quota.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if email := r.URL.Query().Get("account"); email != "" {
			rec, err := checker.CheckAccount(r.Context(), email)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"records": []interface{}{rec}})
			return
		}

		records, err := checker.RunAll(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
	}
}

// CheckHistoryHandler returns recent check records, newest first.
func CheckHistoryHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			if n, err := strconv.Atoi(s); err == nil {
				limit = n
			}
		}
		records, err := store.RecentChecks(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"checks": records})
	}
}

// HealthHandler reports liveness and build info.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "ok",
			"version":   version.Version,
			"commit":    version.Commit,
			"buildTime": version.BuildTime,
		})
	}
}
