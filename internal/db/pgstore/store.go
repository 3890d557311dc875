// Package pgstore is the PostgreSQL attempt repository, built on gorm.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/orrn/labelrelay/internal/core"
)

type Store struct {
	db      *gorm.DB
	nowFunc func() time.Time
}

func Open(dsn string) (*Store, error) {
	database, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := database.AutoMigrate(&AttemptModel{}, &VendorEventModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
	}

	return New(database), nil
}

func New(database *gorm.DB) *Store {
	return &Store{
		db:      database,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) InsertPending(ctx context.Context, a *core.Attempt) error {
	now := s.nowFunc()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt
	a.Status = core.StatusPending
	a.VendorJobID = ""
	a.ErrorMessage = ""

	m, err := FromDomain(a)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("attempt %s: %w", a.AttemptID, core.ErrDuplicateAttempt)
		}
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

func (s *Store) FindByAttemptID(ctx context.Context, attemptID string) (*core.Attempt, error) {
	var m AttemptModel
	err := s.db.WithContext(ctx).Where("attempt_id = ?", attemptID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("attempt %s: %w", attemptID, core.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return m.ToDomain()
}

func (s *Store) FindByOrder(ctx context.Context, orderID string) ([]*core.Attempt, error) {
	var models []AttemptModel
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").Order("attempt_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts by order: %w", err)
	}
	return toDomain(models)
}

func (s *Store) MarkSent(ctx context.Context, attemptID, vendorJobID string) error {
	return s.update(ctx, attemptID, map[string]any{
		"status":        string(core.StatusSent),
		"vendor_job_id": vendorJobID,
		"error_message": "",
	})
}

func (s *Store) MarkFailed(ctx context.Context, attemptID, errMsg string) error {
	return s.update(ctx, attemptID, map[string]any{
		"status":        string(core.StatusFailed),
		"vendor_job_id": "",
		"error_message": errMsg,
	})
}

func (s *Store) ResetPending(ctx context.Context, attemptID string, staleBefore time.Time) error {
	result := s.db.WithContext(ctx).Model(&AttemptModel{}).
		Where("attempt_id = ? AND (status <> ? OR updated_at < ?)", attemptID, string(core.StatusPending), staleBefore).
		Updates(map[string]any{
			"status":        string(core.StatusPending),
			"vendor_job_id": "",
			"error_message": "",
			"retry_count":   gorm.Expr("retry_count + 1"),
			"updated_at":    s.nowFunc(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to reset attempt %s: %w", attemptID, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&AttemptModel{}).Where("attempt_id = ?", attemptID).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to check attempt %s: %w", attemptID, err)
	}
	if n > 0 {
		return fmt.Errorf("attempt %s: %w", attemptID, core.ErrAttemptInFlight)
	}
	return fmt.Errorf("attempt %s: %w", attemptID, core.ErrNotFound)
}

func (s *Store) update(ctx context.Context, attemptID string, fields map[string]any) error {
	fields["updated_at"] = s.nowFunc()
	result := s.db.WithContext(ctx).Model(&AttemptModel{}).
		Where("attempt_id = ?", attemptID).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update attempt %s: %w", attemptID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("attempt %s: %w", attemptID, core.ErrNotFound)
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context, filter core.ListFilter) ([]*core.Attempt, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = core.DefaultListLimit
	}

	q := s.db.WithContext(ctx).Model(&AttemptModel{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}

	var models []AttemptModel
	if err := q.Order("created_at DESC").Order("attempt_id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return toDomain(models)
}

func (s *Store) CountByStatus(ctx context.Context) (map[core.Status]int, error) {
	var rows []struct {
		Status string
		Count  int
	}
	err := s.db.WithContext(ctx).Model(&AttemptModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}

	counts := make(map[core.Status]int, len(rows))
	for _, r := range rows {
		counts[core.Status(r.Status)] = r.Count
	}
	return counts, nil
}

func (s *Store) InsertVendorEvents(ctx context.Context, events []*core.VendorEvent) error {
	if len(events) == 0 {
		return nil
	}
	models := make([]VendorEventModel, 0, len(events))
	for _, e := range events {
		if e.ReceivedAt.IsZero() {
			e.ReceivedAt = s.nowFunc()
		}
		models = append(models, VendorEventModel{
			ID:         e.ID,
			EventType:  e.EventType,
			Payload:    []byte(e.Payload),
			ReceivedAt: e.ReceivedAt,
		})
	}
	if err := s.db.WithContext(ctx).Create(&models).Error; err != nil {
		return fmt.Errorf("failed to insert vendor events: %w", err)
	}
	return nil
}

func (s *Store) ListVendorEvents(ctx context.Context, limit int) ([]*core.VendorEvent, error) {
	if limit <= 0 {
		limit = core.DefaultListLimit
	}
	var models []VendorEventModel
	err := s.db.WithContext(ctx).Order("received_at DESC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list vendor events: %w", err)
	}

	events := make([]*core.VendorEvent, 0, len(models))
	for _, m := range models {
		events = append(events, &core.VendorEvent{
			ID:         m.ID,
			EventType:  m.EventType,
			Payload:    []byte(m.Payload),
			ReceivedAt: m.ReceivedAt,
		})
	}
	return events, nil
}

func toDomain(models []AttemptModel) ([]*core.Attempt, error) {
	out := make([]*core.Attempt, 0, len(models))
	for i := range models {
		a, err := models[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
