package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/orrn/labelrelay/internal/core"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*core.Attempt, error) {
	a := &core.Attempt{}
	var status string
	var snapshot sql.NullString
	if err := row.Scan(
		&a.AttemptID, &a.OrderID, &a.Product, &a.Variant, &a.SKU, &a.Quantity, &a.Unit, &a.Price,
		&status, &a.VendorJobID, &a.ErrorMessage, &a.RetryCount, &snapshot,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = core.Status(status)

	if snapshot.Valid && snapshot.String != "" {
		var snap core.Snapshot
		if err := json.Unmarshal([]byte(snapshot.String), &snap); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot for %s: %w", a.AttemptID, err)
		}
		a.Snapshot = &snap
	}
	return a, nil
}

func scanAttempts(rows *sql.Rows) ([]*core.Attempt, error) {
	var attempts []*core.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func encodeSnapshot(s *core.Snapshot) (sql.NullString, error) {
	if s == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
