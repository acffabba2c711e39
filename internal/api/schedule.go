package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/pysugar/quotawatch/internal/config"
	"github.com/pysugar/quotawatch/internal/schedule"
	"github.com/pysugar/quotawatch/internal/scheduler"
)

// ScheduleController owns the live schedule: the current config, the
// scheduler it drives and the file updates are persisted to. API updates and
// file-watcher reloads both funnel through it.
type ScheduleController struct {
	mu    sync.Mutex
	path  string
	cfg   *config.Config
	sched *scheduler.Scheduler
	job   func() error
}

// NewScheduleController wires the controller and applies the initial
// schedule to the scheduler.
func NewScheduleController(path string, cfg *config.Config, sched *scheduler.Scheduler, job func() error) *ScheduleController {
	c := &ScheduleController{path: path, cfg: cfg, sched: sched, job: job}
	sched.Set(cfg.Schedule, job)
	return c
}

// Current returns a copy of the active schedule config.
func (c *ScheduleController) Current() schedule.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Schedule
}

// Update validates and applies a new schedule, persisting it to the config
// file so it survives restarts.
func (c *ScheduleController) Update(sc schedule.Config) error {
	if result := schedule.Parse(sc.Effective()); !result.Valid {
		return fmt.Errorf("invalid schedule: %s", result.Error)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Schedule = sc
	c.sched.Set(sc, c.job)
	if err := config.Save(c.path, c.cfg); err != nil {
		return fmt.Errorf("schedule applied but not persisted: %w", err)
	}
	return nil
}

// ApplyReloaded is invoked by the config watcher after an external file
// edit. The scheduler is only rearmed when the schedule section changed.
func (c *ScheduleController) ApplyReloaded(cfg *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	before, _ := json.Marshal(c.cfg.Schedule)
	after, _ := json.Marshal(cfg.Schedule)
	c.cfg = cfg
	if string(before) == string(after) {
		return
	}
	log.Printf("🔁 Schedule section changed on disk, rearming")
	c.sched.Set(cfg.Schedule, c.job)
}

// scheduleView is the GET /api/schedule payload.
type scheduleView struct {
	Config      schedule.Config `json:"config"`
	Crontab     string          `json:"crontab"`
	Description string          `json:"description"`
	NextRuns    []time.Time     `json:"nextRuns"`
}

// GetScheduleHandler reports the active schedule, its crontab form,
// description and upcoming runs.
func GetScheduleHandler(ctl *ScheduleController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc := ctl.Current()
		expr := sc.Effective()
		writeJSON(w, http.StatusOK, scheduleView{
			Config:      sc,
			Crontab:     expr,
			Description: schedule.Describe(expr),
			NextRuns:    schedule.NextRuns(expr, schedule.DefaultPreviewRuns, time.Now()),
		})
	}
}

// UpdateScheduleHandler replaces the schedule config.
func UpdateScheduleHandler(ctl *ScheduleController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sc schedule.Config
		if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
			writeError(w, http.StatusBadRequest, "invalid schedule config: "+err.Error())
			return
		}
		if err := ctl.Update(sc); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		expr := sc.Effective()
		writeJSON(w, http.StatusOK, scheduleView{
			Config:      sc,
			Crontab:     expr,
			Description: schedule.Describe(expr),
			NextRuns:    schedule.NextRuns(expr, schedule.DefaultPreviewRuns, time.Now()),
		})
	}
}

// ValidateCrontabHandler checks a crontab expression set and previews it.
func ValidateCrontabHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Crontab string `json:"crontab"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		result := schedule.Parse(body.Crontab)
		status := http.StatusOK
		if !result.Valid {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, result)
	}
}
