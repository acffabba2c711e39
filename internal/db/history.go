package db

import (
	"github.com/pysugar/quotawatch/internal/db/models"
)

// checkHistoryKeep bounds the check-history table; older rows are pruned.
const checkHistoryKeep = 200

// AddCheckRecord appends one quota-check outcome and prunes old history.
func (s *Store) AddCheckRecord(rec *models.CheckRecord) error {
	if err := s.db.Create(rec).Error; err != nil {
		return err
	}
	return s.pruneChecks(checkHistoryKeep)
}

// RecentChecks returns the newest check records, most recent first.
func (s *Store) RecentChecks(limit int) ([]models.CheckRecord, error) {
	if limit <= 0 || limit > checkHistoryKeep {
		limit = checkHistoryKeep
	}
	var records []models.CheckRecord
	if err := s.db.Order("started_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) pruneChecks(keep int) error {
	var count int64
	if err := s.db.Model(&models.CheckRecord{}).Count(&count).Error; err != nil {
		return err
	}
	if count <= int64(keep) {
		return nil
	}

	// Delete everything older than the newest `keep` rows.
	var cutoff models.CheckRecord
	if err := s.db.Order("started_at DESC").Offset(keep - 1).First(&cutoff).Error; err != nil {
		return err
	}
	return s.db.Where("started_at < ?", cutoff.StartedAt).Delete(&models.CheckRecord{}).Error
}
