package models

import "time"

// CheckRecord is one quota-check outcome for one account.
// Rows are pruned so only the most recent history is kept.
type CheckRecord struct {
	ID         string `gorm:"primaryKey"` // UUID
	RunID      string `gorm:"index"`      // groups records from the same scheduled run
	Email      string `gorm:"index"`
	ProjectID  string
	Tier       string
	Outcome    string // "ok", "skipped", "refresh_failed", "probe_failed"
	Error      string
	DurationMS int64
	StartedAt  time.Time
	CreatedAt  time.Time
}
