package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"charging-alert-backend/internal/model"
)

// Batch sizes for bulk inserts, chosen to keep individual transactions
// small.
const (
	eventBatchSize   = 40
	holidayBatchSize = 100
)

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	SaveLatestStatus(ctx context.Context, status model.LatestStatus) error
	GetLatestStatus(ctx context.Context, stationID int64) (*model.LatestStatus, error)
	ListLatestStatuses(ctx context.Context) ([]model.LatestStatus, error)
	ListOnlineStatuses(ctx context.Context) ([]model.LatestStatus, error)

	InsertEvents(ctx context.Context, events []model.StatusEvent) error
	EventsByDate(ctx context.Context, date string) ([]model.StatusEvent, error)
	LatestAvailableEvent(ctx context.Context, stationID int64, socketID int) (*model.StatusEvent, error)
	DeleteEventsBefore(ctx context.Context, cutoff int64) (int64, error)

	UpsertPendingFault(ctx context.Context, fault model.PendingFault) error
	DeletePendingFault(ctx context.Context, stationID int64, socketID int) error
	GetPendingFault(ctx context.Context, stationID int64, socketID int) (*model.PendingFault, error)
	ListPendingFaults(ctx context.Context) ([]model.PendingFault, error)
	ListPendingFaultsBefore(ctx context.Context, cutoff int64) ([]model.PendingFault, error)

	HasSuccessfulIdleAlert(ctx context.Context, stationID int64, socketID int, idleStartTime int64) (bool, error)
	SaveIdleAlertLogs(ctx context.Context, logs []model.IdleAlertLog) error

	HasRecentSummary(ctx context.Context, messageType string, since int64) (bool, error)
	SaveSummaryLog(ctx context.Context, log model.SummaryLog) error

	GetHoliday(ctx context.Context, date string) (*model.HolidayCacheEntry, error)
	UpsertHolidays(ctx context.Context, entries []model.HolidayCacheEntry) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) SaveLatestStatus(ctx context.Context, status model.LatestStatus) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "station_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"station_name", "sim_id", "sockets", "online", "address", "timestamp"}),
	}).Create(&status).Error
	if err != nil {
		return fmt.Errorf("failed to save latest status for station %d: %w", status.StationID, err)
	}
	return nil
}

func (s *gormStore) GetLatestStatus(ctx context.Context, stationID int64) (*model.LatestStatus, error) {
	var status model.LatestStatus
	err := s.db.WithContext(ctx).First(&status, "station_id = ?", stationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (s *gormStore) ListLatestStatuses(ctx context.Context) ([]model.LatestStatus, error) {
	var statuses []model.LatestStatus
	if err := s.db.WithContext(ctx).Order("station_id").Find(&statuses).Error; err != nil {
		return nil, err
	}
	return statuses, nil
}

func (s *gormStore) ListOnlineStatuses(ctx context.Context) ([]model.LatestStatus, error) {
	var statuses []model.LatestStatus
	if err := s.db.WithContext(ctx).Where("online = ?", true).Order("station_id").Find(&statuses).Error; err != nil {
		return nil, err
	}
	return statuses, nil
}

// InsertEvents writes events in chunks. Event IDs are derived from
// (station, socket, timestamp), so conflicting rows are silently
// skipped; replaying a tick cannot duplicate history.
func (s *gormStore) InsertEvents(ctx context.Context, events []model.StatusEvent) error {
	if len(events) == 0 {
		return nil
	}
	for i := 0; i < len(events); i += eventBatchSize {
		end := i + eventBatchSize
		if end > len(events) {
			end = len(events)
		}
		chunk := events[i:end]
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&chunk).Error; err != nil {
			return fmt.Errorf("failed to insert %d status events: %w", len(chunk), err)
		}
	}
	return nil
}

func (s *gormStore) EventsByDate(ctx context.Context, date string) ([]model.StatusEvent, error) {
	var events []model.StatusEvent
	err := s.db.WithContext(ctx).
		Where("event_date = ?", date).
		Order("timestamp DESC").
		Limit(1000).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *gormStore) LatestAvailableEvent(ctx context.Context, stationID int64, socketID int) (*model.StatusEvent, error) {
	var event model.StatusEvent
	err := s.db.WithContext(ctx).
		Where("station_id = ? AND socket_id = ? AND new_status = ?", stationID, socketID, model.StatusAvailable).
		Order("timestamp DESC").
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *gormStore) DeleteEventsBefore(ctx context.Context, cutoff int64) (int64, error) {
	res := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&model.StatusEvent{})
	return res.RowsAffected, res.Error
}

func (s *gormStore) UpsertPendingFault(ctx context.Context, fault model.PendingFault) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "station_id"}, {Name: "socket_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"old_status", "detected_at"}),
	}).Create(&fault).Error
}

func (s *gormStore) DeletePendingFault(ctx context.Context, stationID int64, socketID int) error {
	return s.db.WithContext(ctx).
		Where("station_id = ? AND socket_id = ?", stationID, socketID).
		Delete(&model.PendingFault{}).Error
}

func (s *gormStore) GetPendingFault(ctx context.Context, stationID int64, socketID int) (*model.PendingFault, error) {
	var fault model.PendingFault
	err := s.db.WithContext(ctx).
		First(&fault, "station_id = ? AND socket_id = ?", stationID, socketID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fault, nil
}

func (s *gormStore) ListPendingFaults(ctx context.Context) ([]model.PendingFault, error) {
	var faults []model.PendingFault
	if err := s.db.WithContext(ctx).Find(&faults).Error; err != nil {
		return nil, err
	}
	return faults, nil
}

func (s *gormStore) ListPendingFaultsBefore(ctx context.Context, cutoff int64) ([]model.PendingFault, error) {
	var faults []model.PendingFault
	err := s.db.WithContext(ctx).
		Where("detected_at <= ?", cutoff).
		Order("detected_at ASC").
		Find(&faults).Error
	if err != nil {
		return nil, err
	}
	return faults, nil
}

func (s *gormStore) HasSuccessfulIdleAlert(ctx context.Context, stationID int64, socketID int, idleStartTime int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.IdleAlertLog{}).
		Where("station_id = ? AND socket_id = ? AND idle_start_time = ? AND success = ?",
			stationID, socketID, idleStartTime, true).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *gormStore) SaveIdleAlertLogs(ctx context.Context, logs []model.IdleAlertLog) error {
	if len(logs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&logs).Error
	if err != nil {
		return fmt.Errorf("failed to save %d idle alert logs: %w", len(logs), err)
	}
	return nil
}

func (s *gormStore) HasRecentSummary(ctx context.Context, messageType string, since int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.SummaryLog{}).
		Where("message_type = ? AND sent_at >= ? AND (chat_success = ? OR webhook_success = ?)",
			messageType, since, true, true).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *gormStore) SaveSummaryLog(ctx context.Context, log model.SummaryLog) error {
	return s.db.WithContext(ctx).Create(&log).Error
}

func (s *gormStore) GetHoliday(ctx context.Context, date string) (*model.HolidayCacheEntry, error) {
	var entry model.HolidayCacheEntry
	err := s.db.WithContext(ctx).First(&entry, "date = ?", date).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpsertHolidays writes refreshed calendar entries in chunks so a
// year-long refresh never becomes one oversized transaction.
func (s *gormStore) UpsertHolidays(ctx context.Context, entries []model.HolidayCacheEntry) error {
	for i := 0; i < len(entries); i += holidayBatchSize {
		end := i + holidayBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[i:end]
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_holiday", "holiday_name", "cached_at", "source"}),
		}).Create(&chunk).Error
		if err != nil {
			return fmt.Errorf("batch upsert of %d holiday entries failed: %w", len(chunk), err)
		}
	}
	return nil
}
