package models

import (
	"strings"
	"time"
)

// Account stores the OAuth credential for one Google account.
// Email is the stable identifier; ID is a UUID assigned on first commit.
type Account struct {
	ID            string `gorm:"primaryKey"` // UUID
	Email         string `gorm:"uniqueIndex"`
	ClientID      string
	ClientSecret  string
	AccessToken   string
	RefreshToken  string
	ExpiresAt     time.Time
	Scopes        string // space-joined granted scopes
	ProjectID     string // provider-side project association, filled by the quota probe
	IsInvalid     bool   `gorm:"default:false"` // sticky: set on invalid_grant, cleared by re-authorization
	IsPrimary     bool   `gorm:"default:false"`
	LastCheckedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ScopeList splits the stored scope string back into individual scopes.
func (a *Account) ScopeList() []string {
	return strings.Fields(a.Scopes)
}

// JoinScopes renders a scope slice into the stored form.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
