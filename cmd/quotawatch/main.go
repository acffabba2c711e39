package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/pysugar/quotawatch/internal/api"
	"github.com/pysugar/quotawatch/internal/auth/google"
	"github.com/pysugar/quotawatch/internal/auth/token"
	"github.com/pysugar/quotawatch/internal/config"
	"github.com/pysugar/quotawatch/internal/db"
	"github.com/pysugar/quotawatch/internal/logging"
	"github.com/pysugar/quotawatch/internal/quota"
	"github.com/pysugar/quotawatch/internal/scheduler"
	"github.com/pysugar/quotawatch/internal/version"
)

func main() {
	cfgPath := config.ResolvePath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	store := db.NewStore(database)

	// Long-lived services
	exchanger := google.NewExchanger(cfg.ClientID, cfg.ClientSecret)
	sessions := google.NewSessionManager(store, exchanger)
	evaluator := token.NewEvaluator(store, exchanger)
	checker := quota.NewChecker(store, evaluator)
	sched := scheduler.New()

	// The scheduled action: every fire obtains tokens through the evaluator
	// and probes quota for each account.
	job := func() error {
		ctx := logging.WithRunID(context.Background(), logging.GenerateRunID())
		ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		_, err := checker.RunAll(ctx)
		return err
	}

	scheduleCtl := api.NewScheduleController(cfgPath, cfg, sched, job)

	// Hot-reload the config file so external schedule edits apply live.
	go func() {
		err := config.Watch(context.Background(), cfgPath, scheduleCtl.ApplyReloaded)
		if err != nil && err != context.Canceled {
			log.Printf("⚠️ Config watcher stopped: %v", err)
		}
	}()

	router := api.NewRouter(api.Deps{
		DB:            database,
		Store:         store,
		Evaluator:     evaluator,
		Sessions:      sessions,
		Checker:       checker,
		Schedule:      scheduleCtl,
		AdminPassword: os.Getenv("QUOTAWATCH_ADMIN_PASSWORD"),
	})

	if google.IsUsingDefaultOAuthCredentials() {
		log.Printf("⚠️ Using built-in OAuth client credentials (set GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET to override)")
	}
	if next, ok := sched.NextRunTime(); ok {
		log.Printf("⏰ Next quota check: %s", next.Format(time.RFC3339))
	}

	log.Printf("🚀 quotawatch %s starting on http://%s", version.Version, cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
