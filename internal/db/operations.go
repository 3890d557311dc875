package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/orrn/labelrelay/internal/core"
)

func (s *Store) InsertPending(ctx context.Context, a *core.Attempt) error {
	snapshot, err := encodeSnapshot(a.Snapshot)
	if err != nil {
		return err
	}

	now := s.nowFunc()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt

	_, err = s.db.ExecContext(ctx, InsertAttempt,
		a.AttemptID, a.OrderID, a.Product, a.Variant, a.SKU, a.Quantity, a.Unit, a.Price,
		snapshot, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("attempt %s: %w", a.AttemptID, core.ErrDuplicateAttempt)
		}
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	a.Status = core.StatusPending
	return nil
}

func (s *Store) FindByAttemptID(ctx context.Context, attemptID string) (*core.Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, GetAttemptByID, attemptID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("attempt %s: %w", attemptID, core.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return a, nil
}

func (s *Store) FindByOrder(ctx context.Context, orderID string) ([]*core.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, GetAttemptsByOrder, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts by order: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

func (s *Store) MarkSent(ctx context.Context, attemptID, vendorJobID string) error {
	return s.update(ctx, "mark attempt sent", attemptID, MarkAttemptSent, vendorJobID, s.nowFunc(), attemptID)
}

func (s *Store) MarkFailed(ctx context.Context, attemptID, errMsg string) error {
	return s.update(ctx, "mark attempt failed", attemptID, MarkAttemptFailed, errMsg, s.nowFunc(), attemptID)
}

func (s *Store) ResetPending(ctx context.Context, attemptID string, staleBefore time.Time) error {
	err := s.update(ctx, "reset attempt", attemptID, ResetAttemptPending, s.nowFunc(), attemptID, staleBefore.UTC())
	if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	var n int
	if err := s.db.QueryRowContext(ctx, AttemptExists, attemptID).Scan(&n); err != nil {
		return fmt.Errorf("failed to check attempt: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("attempt %s: %w", attemptID, core.ErrAttemptInFlight)
	}
	return fmt.Errorf("attempt %s: %w", attemptID, core.ErrNotFound)
}

func (s *Store) update(ctx context.Context, op, attemptID, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("attempt %s: %w", attemptID, core.ErrNotFound)
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context, filter core.ListFilter) ([]*core.Attempt, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = core.DefaultListLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if filter.Status != "" {
		rows, err = s.db.QueryContext(ctx, ListRecentAttemptsByStatus, string(filter.Status), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, ListRecentAttempts, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

func (s *Store) CountByStatus(ctx context.Context) (map[core.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, CountAttemptsByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}
	defer rows.Close()

	counts := make(map[core.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[core.Status(status)] = count
	}
	return counts, rows.Err()
}

func (s *Store) InsertVendorEvents(ctx context.Context, events []*core.VendorEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range events {
		if e.ReceivedAt.IsZero() {
			e.ReceivedAt = s.nowFunc()
		}
		if _, err := tx.ExecContext(ctx, InsertVendorEvent,
			e.ID, e.EventType, string(e.Payload), e.ReceivedAt.UTC()); err != nil {
			return fmt.Errorf("failed to insert vendor event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit vendor events: %w", err)
	}
	return nil
}

func (s *Store) ListVendorEvents(ctx context.Context, limit int) ([]*core.VendorEvent, error) {
	if limit <= 0 {
		limit = core.DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, ListVendorEvents, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list vendor events: %w", err)
	}
	defer rows.Close()

	var events []*core.VendorEvent
	for rows.Next() {
		e := &core.VendorEvent{}
		var payload string
		if err := rows.Scan(&e.ID, &e.EventType, &payload, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vendor event: %w", err)
		}
		e.Payload = []byte(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

func isConstraintViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}
