// Package memstore keeps attempts in process memory. It backs tests and the
// "memory" database driver; nothing survives a restart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/orrn/labelrelay/internal/core"
)

type record struct {
	seq     int64
	attempt core.Attempt
}

type Store struct {
	mu       sync.RWMutex
	seq      int64
	attempts map[string]*record
	events   []*core.VendorEvent
	nowFunc  func() time.Time
}

func New() *Store {
	return &Store{
		attempts: make(map[string]*record),
		nowFunc:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Close() error { return nil }

func clone(a core.Attempt) *core.Attempt {
	if a.Snapshot != nil {
		snap := *a.Snapshot
		a.Snapshot = &snap
	}
	return &a
}

func (s *Store) InsertPending(_ context.Context, a *core.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attempts[a.AttemptID]; ok {
		return fmt.Errorf("attempt %s: %w", a.AttemptID, core.ErrDuplicateAttempt)
	}

	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.nowFunc()
	}
	a.UpdatedAt = a.CreatedAt
	a.Status = core.StatusPending
	a.VendorJobID = ""
	a.ErrorMessage = ""

	s.seq++
	s.attempts[a.AttemptID] = &record{seq: s.seq, attempt: *clone(*a)}
	return nil
}

func (s *Store) FindByAttemptID(_ context.Context, attemptID string) (*core.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.attempts[attemptID]
	if !ok {
		return nil, fmt.Errorf("attempt %s: %w", attemptID, core.ErrNotFound)
	}
	return clone(r.attempt), nil
}

func (s *Store) FindByOrder(_ context.Context, orderID string) ([]*core.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*record
	for _, r := range s.attempts {
		if r.attempt.OrderID == orderID {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	out := make([]*core.Attempt, 0, len(matched))
	for _, r := range matched {
		out = append(out, clone(r.attempt))
	}
	return out, nil
}

func (s *Store) MarkSent(_ context.Context, attemptID, vendorJobID string) error {
	return s.update(attemptID, func(a *core.Attempt) {
		a.Status = core.StatusSent
		a.VendorJobID = vendorJobID
		a.ErrorMessage = ""
	})
}

func (s *Store) MarkFailed(_ context.Context, attemptID, errMsg string) error {
	return s.update(attemptID, func(a *core.Attempt) {
		a.Status = core.StatusFailed
		a.ErrorMessage = errMsg
		a.VendorJobID = ""
	})
}

func (s *Store) ResetPending(_ context.Context, attemptID string, staleBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.attempts[attemptID]
	if !ok {
		return fmt.Errorf("attempt %s: %w", attemptID, core.ErrNotFound)
	}
	if r.attempt.Status == core.StatusPending && !r.attempt.UpdatedAt.Before(staleBefore) {
		return fmt.Errorf("attempt %s: %w", attemptID, core.ErrAttemptInFlight)
	}
	r.attempt.Status = core.StatusPending
	r.attempt.VendorJobID = ""
	r.attempt.ErrorMessage = ""
	r.attempt.RetryCount++
	r.attempt.UpdatedAt = s.nowFunc()
	return nil
}

func (s *Store) update(attemptID string, fn func(a *core.Attempt)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.attempts[attemptID]
	if !ok {
		return fmt.Errorf("attempt %s: %w", attemptID, core.ErrNotFound)
	}
	fn(&r.attempt)
	r.attempt.UpdatedAt = s.nowFunc()
	return nil
}

func (s *Store) ListRecent(_ context.Context, filter core.ListFilter) ([]*core.Attempt, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = core.DefaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*record, 0, len(s.attempts))
	for _, r := range s.attempts {
		if filter.Status != "" && r.attempt.Status != filter.Status {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool {
		ai, aj := matched[i].attempt.CreatedAt, matched[j].attempt.CreatedAt
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return matched[i].seq > matched[j].seq
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*core.Attempt, 0, len(matched))
	for _, r := range matched {
		out = append(out, clone(r.attempt))
	}
	return out, nil
}

func (s *Store) CountByStatus(_ context.Context) (map[core.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[core.Status]int)
	for _, r := range s.attempts {
		counts[r.attempt.Status]++
	}
	return counts, nil
}

func (s *Store) InsertVendorEvents(_ context.Context, events []*core.VendorEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if e.ReceivedAt.IsZero() {
			e.ReceivedAt = s.nowFunc()
		}
		cp := *e
		s.events = append(s.events, &cp)
	}
	return nil
}

func (s *Store) ListVendorEvents(_ context.Context, limit int) ([]*core.VendorEvent, error) {
	if limit <= 0 {
		limit = core.DefaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.VendorEvent, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.events[i]
		out = append(out, &cp)
	}
	return out, nil
}
