package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/quotawatch/internal/auth/google"
	"github.com/pysugar/quotawatch/internal/auth/token"
	"github.com/pysugar/quotawatch/internal/db"
	"github.com/pysugar/quotawatch/internal/quota"
	"gorm.io/gorm"
)

// Deps is everything the control API serves from.
type Deps struct {
	DB        *gorm.DB
	Store     *db.Store
	Evaluator *token.Evaluator
	Sessions  *google.SessionManager
	Checker   *quota.Checker
	Schedule  *ScheduleController

	// AdminPassword guards the control surface with basic auth when set.
	AdminPassword string
}

// NewRouter assembles the control API.
func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", HealthHandler())

	// Admin surface (protected if an admin password is set)
	r.Route("/api", func(r chi.Router) {
		r.Use(optionalBasicAuth(d.AdminPassword))

		r.Get("/accounts", AccountsHandler(d.Store))
		r.Post("/accounts", ImportAccountHandler(d.Evaluator))
		r.Post("/accounts/{email}/promote", PromoteAccountHandler(d.Store))
		r.Delete("/accounts/{email}", RevokeAccountHandler(d.Store))
		r.Delete("/accounts", RevokeAllHandler(d.Store))

		r.Post("/auth/start", AuthStartHandler(d.Sessions))
		r.Get("/auth/wait", AuthWaitHandler(d.Sessions))
		r.Post("/auth/cancel", AuthCancelHandler(d.Sessions))

		r.Get("/schedule", GetScheduleHandler(d.Schedule))
		r.Put("/schedule", UpdateScheduleHandler(d.Schedule))
		r.Post("/schedule/validate", ValidateCrontabHandler())

		r.Get("/token", TokenStatusHandler(d.Evaluator))
		r.Post("/check", RunCheckHandler(d.Checker))
		r.Get("/checks", CheckHistoryHandler(d.Store))

		r.Get("/config/apikey", GetAPIKeyHandler(d.DB))
		r.Post("/config/apikey/regenerate", RegenerateAPIKeyHandler(d.DB))
	})

	// Machine-facing surface (API key): status-bar widgets, remote triggers.
	r.Route("/v1", func(r chi.Router) {
		r.Use(APIKeyAuth(d.DB))
		r.Get("/token", TokenStatusHandler(d.Evaluator))
		r.Post("/check", RunCheckHandler(d.Checker))
	})

	return r
}

// optionalBasicAuth passes everything through when no password is set.
func optionalBasicAuth(password string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, pass, ok := r.BasicAuth()
			if !ok || pass != password {
				w.Header().Set("WWW-Authenticate", `Basic realm="quotawatch"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
