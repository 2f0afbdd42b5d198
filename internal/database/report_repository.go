package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ReportRepository provides database operations for measurement reports
type ReportRepository struct {
	db *gorm.DB
}

// NewReportRepository creates a new repository instance
func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Save stores a single report
func (r *ReportRepository) Save(report *MeasurementReport) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}
	if !report.IsValid() {
		return fmt.Errorf("report is not valid: channel=%q", report.Channel)
	}

	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}
	return r.db.Create(report).Error
}

// SaveBatch stores multiple reports in one transaction, skipping invalid ones
func (r *ReportRepository) SaveBatch(reports []MeasurementReport) error {
	valid := make([]MeasurementReport, 0, len(reports))
	now := time.Now()
	for _, report := range reports {
		if !report.IsValid() {
			continue
		}
		if report.CreatedAt.IsZero() {
			report.CreatedAt = now
		}
		valid = append(valid, report)
	}

	if len(valid) == 0 {
		return nil
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(valid, 500).Error
	})
	if err != nil {
		return fmt.Errorf("batch insert of %d reports failed: %w", len(valid), err)
	}
	return nil
}

// Count returns the total number of stored reports
func (r *ReportRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&MeasurementReport{}).Count(&count).Error
	return count, err
}

// CountByChannel returns the number of stored reports of one channel
func (r *ReportRepository) CountByChannel(channel string) (int64, error) {
	var count int64
	err := r.db.Model(&MeasurementReport{}).Where("channel = ?", channel).Count(&count).Error
	return count, err
}

// GetRecentByChannel returns the newest reports of a channel, newest first
func (r *ReportRepository) GetRecentByChannel(channel string, limit int) ([]MeasurementReport, error) {
	var reports []MeasurementReport
	err := r.db.Where("channel = ?", channel).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&reports).Error
	return reports, err
}

// Latest returns the most recent report of a channel
func (r *ReportRepository) Latest(channel string) (*MeasurementReport, error) {
	var report MeasurementReport
	err := r.db.Where("channel = ?", channel).
		Order("created_at DESC").
		Order("id DESC").
		First(&report).Error
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// DeleteOlderThan removes reports created before the cutoff and returns
// how many were removed
func (r *ReportRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res := r.db.Where("created_at < ?", cutoff).Delete(&MeasurementReport{})
	return res.RowsAffected, res.Error
}

// ChannelStats is the per channel summary returned by GetStatistics
type ChannelStats struct {
	Channel        string  `json:"channel"`
	Count          int64   `json:"count"`
	AvgULRxLevFull float64 `json:"avg_ul_rxlev_full"`
	AvgBSPowerDB   float64 `json:"avg_bs_power_db"`
}

// GetStatistics returns basic database statistics
func (r *ReportRepository) GetStatistics() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	count, err := r.Count()
	if err != nil {
		return nil, err
	}
	stats["total_reports"] = count

	var latest MeasurementReport
	err = r.db.Order("created_at DESC").First(&latest).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err == nil {
		stats["last_report"] = latest.CreatedAt
	}

	var perChannel []ChannelStats
	err = r.db.Model(&MeasurementReport{}).
		Select("channel, COUNT(*) as count, AVG(ul_rx_lev_full) as avg_ul_rx_lev_full, AVG(bs_power_db) as avg_bs_power_db").
		Group("channel").
		Order("channel ASC").
		Scan(&perChannel).Error
	if err != nil {
		return nil, err
	}
	stats["channels"] = perChannel

	return stats, nil
}

// HealthCheck verifies the repository is working correctly
func (r *ReportRepository) HealthCheck() error {
	var count int64
	return r.db.Model(&MeasurementReport{}).Count(&count).Error
}
