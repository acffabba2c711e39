package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/quotawatch/internal/db/models"
	"gorm.io/gorm"
)

// Store is the credential store: a durable mapping from account email to its
// OAuth credential. All writes are last-writer-wins per email.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open database in a credential store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for non-credential tables.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Get returns the credential for an email, or nil if none is stored.
func (s *Store) Get(email string) (*models.Account, error) {
	var account models.Account
	err := s.db.Where("email = ?", email).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetDefault returns the primary account, falling back to the most recently
// updated account when no primary is set. Returns nil when the store is empty.
func (s *Store) GetDefault() (*models.Account, error) {
	var account models.Account
	err := s.db.Where("is_primary = ?", true).First(&account).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = s.db.Order("updated_at DESC").First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Has reports whether a credential exists for the email.
func (s *Store) Has(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&models.Account{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Put saves a credential, replacing any existing row with the same ID.
func (s *Store) Put(account *models.Account) error {
	if account.Email == "" {
		return fmt.Errorf("refusing to store credential without email")
	}
	return s.db.Save(account).Error
}

// List returns all stored credentials, oldest first.
func (s *Store) List() ([]models.Account, error) {
	var accounts []models.Account
	if err := s.db.Order("created_at ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// Delete removes one account's credential. Deleting an unknown email is a no-op.
func (s *Store) Delete(email string) error {
	return s.db.Where("email = ?", email).Delete(&models.Account{}).Error
}

// DeleteAll removes every stored credential.
func (s *Store) DeleteAll() error {
	return s.db.Where("1 = 1").Delete(&models.Account{}).Error
}

// MarkInvalid sets or clears the sticky invalid flag for an account.
func (s *Store) MarkInvalid(email string, invalid bool) error {
	return s.db.Model(&models.Account{}).Where("email = ?", email).
		Update("is_invalid", invalid).Error
}

// UpdateAccessToken persists a refreshed access token and its expiry in one
// write. A rotated refresh token is included when the provider issued one;
// pass "" to keep the stored refresh token.
func (s *Store) UpdateAccessToken(email, accessToken string, expiresAt time.Time, rotatedRefreshToken string) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"expires_at":   expiresAt,
	}
	if rotatedRefreshToken != "" {
		updates["refresh_token"] = rotatedRefreshToken
	}
	return s.db.Model(&models.Account{}).Where("email = ?", email).Updates(updates).Error
}

// SetPrimary makes one account primary and demotes all others.
func (s *Store) SetPrimary(email string) error {
	ok, err := s.Has(email)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("account not found: %s", email)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Account{}).Where("is_primary = ?", true).
			Update("is_primary", false).Error; err != nil {
			return err
		}
		return tx.Model(&models.Account{}).Where("email = ?", email).
			Update("is_primary", true).Error
	})
}

// HasPrimary reports whether any account is marked primary.
func (s *Store) HasPrimary() (bool, error) {
	var count int64
	if err := s.db.Model(&models.Account{}).Where("is_primary = ?", true).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// TouchChecked stamps the account's last quota-check time.
func (s *Store) TouchChecked(email string, at time.Time) error {
	return s.db.Model(&models.Account{}).Where("email = ?", email).
		Update("last_checked_at", at).Error
}

// SetProjectID records the provider-side project for an account.
func (s *Store) SetProjectID(email, projectID string) error {
	return s.db.Model(&models.Account{}).Where("email = ?", email).
		Update("project_id", projectID).Error
}
