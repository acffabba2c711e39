// Package scheduler drives the recurring quota check: it holds one schedule
// config and one callback, arms a single timer for the next occurrence, and
// rearms after every wake.
package scheduler

import (
	"log"
	"sync"
	"time"

	"github.com/pysugar/quotawatch/internal/schedule"
)

const (
	// maxArmDelay caps a single timer arm. Delays beyond it are bridged with
	// checkpoint wakes that recompute and rearm without firing the callback.
	maxArmDelay = 24 * time.Hour

	// pastRunRetry is armed when the computed next run is already in the
	// past (clock changes, evaluator drift). The wake recomputes instead of
	// firing immediately.
	pastRunRetry = time.Minute
)

// Scheduler owns the armed-timer state. Re-entrant Start always disarms the
// previous timer first; stale wakes are discarded by generation counter.
type Scheduler struct {
	mu        sync.Mutex
	cfg       schedule.Config
	onTrigger func() error
	timer     *time.Timer
	gen       uint64

	// test seams
	now      func() time.Time
	maxArm   time.Duration
	pastWait time.Duration
}

// New returns a stopped scheduler with no config.
func New() *Scheduler {
	return &Scheduler{
		now:      time.Now,
		maxArm:   maxArmDelay,
		pastWait: pastRunRetry,
	}
}

// Set replaces the schedule config and callback, then starts the loop if the
// config is enabled and stops it otherwise.
func (s *Scheduler) Set(cfg schedule.Config, onTrigger func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.cfg = cfg
	s.onTrigger = onTrigger
	if cfg.Enabled {
		s.armLocked()
	} else {
		log.Printf("[Scheduler] Schedule disabled")
	}
}

// Start disarms any existing timer and arms for the next occurrence.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	if s.cfg.Enabled {
		s.armLocked()
	}
}

// Stop disarms the timer. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// NextRunTime returns the soonest future occurrence, or false when the
// schedule is disabled or unset.
func (s *Scheduler) NextRunTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		return time.Time{}, false
	}
	runs := schedule.NextRuns(s.cfg.Effective(), 1, s.now())
	if len(runs) == 0 {
		return time.Time{}, false
	}
	return runs[0], true
}

func (s *Scheduler) stopLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// armLocked computes the next occurrence and arms a single timer for it.
// The wake is a checkpoint (recompute only, no callback) when the full delay
// could not be represented in one arm or the occurrence was already past.
func (s *Scheduler) armLocked() {
	runs := schedule.NextRuns(s.cfg.Effective(), 1, s.now())
	if len(runs) == 0 {
		log.Printf("[Scheduler] No future occurrence for %q", s.cfg.Effective())
		return
	}
	next := runs[0]

	delay := next.Sub(s.now())
	checkpoint := false
	switch {
	case delay < 0:
		delay = s.pastWait
		checkpoint = true
	case delay > s.maxArm:
		delay = s.maxArm
		checkpoint = true
	}

	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(delay, func() { s.wake(gen, checkpoint) })
	if checkpoint {
		log.Printf("[Scheduler] Next run %s beyond arm window, checkpoint in %s", next.Format(time.RFC3339), delay)
	} else {
		log.Printf("[Scheduler] Next run at %s (in %s)", next.Format(time.RFC3339), delay.Round(time.Second))
	}
}

func (s *Scheduler) wake(gen uint64, checkpoint bool) {
	s.mu.Lock()
	if gen != s.gen || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	if checkpoint {
		s.armLocked()
		s.mu.Unlock()
		return
	}
	cb := s.onTrigger
	s.mu.Unlock()

	if cb != nil {
		s.invoke(cb)
	}

	s.mu.Lock()
	if gen == s.gen && s.cfg.Enabled {
		s.armLocked()
	}
	s.mu.Unlock()
}

// invoke runs the callback, containing errors and panics so a failing check
// never stops the loop.
func (s *Scheduler) invoke(cb func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Scheduled run panicked: %v", r)
		}
	}()
	if err := cb(); err != nil {
		log.Printf("❌ Scheduled run failed: %v", err)
	}
}
