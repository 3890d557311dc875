package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultStaleAfter is how long a pending attempt may go untouched before
// another dispatch may take it over.
const DefaultStaleAfter = 10 * time.Minute

type RetryConfig struct {
	StaleAfter time.Duration
}

// Retrier re-submits persisted attempts from their snapshots. Retries update
// the original row in place: reset to pending, then sent or failed.
type Retrier struct {
	repo       Repository
	engine     *Engine
	staleAfter time.Duration
	log        *logrus.Entry
	nowFunc    func() time.Time
}

func NewRetrier(repo Repository, engine *Engine, cfg RetryConfig, log *logrus.Entry) *Retrier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &Retrier{
		repo:       repo,
		engine:     engine,
		staleAfter: cfg.StaleAfter,
		log:        log,
		nowFunc:    func() time.Time { return time.Now().UTC() },
	}
}

// claim resets an attempt to pending unless a dispatch still owns it.
func (r *Retrier) claim(ctx context.Context, attemptID string, staleBefore time.Time) error {
	if r.engine.InFlight(attemptID) {
		return fmt.Errorf("attempt %s: %w", attemptID, ErrAttemptInFlight)
	}
	return r.repo.ResetPending(ctx, attemptID, staleBefore)
}

// RetryAttempt re-renders and re-submits one attempt and waits for the
// outcome. A failed submission returns the result together with ErrRetryFailed.
// An attempt still pending under a live dispatch yields ErrAttemptInFlight.
func (r *Retrier) RetryAttempt(ctx context.Context, attemptID string) (AttemptResult, error) {
	a, err := r.repo.FindByAttemptID(ctx, attemptID)
	if err != nil {
		return AttemptResult{}, err
	}
	if a.Snapshot == nil {
		return AttemptResult{}, fmt.Errorf("attempt %s: %w", attemptID, ErrNoRetryData)
	}

	if err := r.claim(ctx, attemptID, r.nowFunc().Add(-r.staleAfter)); err != nil {
		if errors.Is(err, ErrAttemptInFlight) || errors.Is(err, ErrNotFound) {
			return AttemptResult{AttemptID: attemptID, Status: a.Status}, err
		}
		return AttemptResult{}, fmt.Errorf("failed to reset attempt %s: %w", attemptID, err)
	}

	r.log.WithFields(logrus.Fields{
		"attempt_id":  attemptID,
		"order_id":    a.OrderID,
		"prev_status": a.Status,
	}).Info("retrying attempt")

	res, err := r.engine.Run(ctx, a)
	if err != nil {
		return res, err
	}
	if res.Status != StatusSent {
		return res, fmt.Errorf("%w: %s", ErrRetryFailed, res.Error)
	}
	return res, nil
}

// RetryOrder re-dispatches the stored attempts of an order. Attempts already
// sent are left alone unless includeSent is set; attempts a live dispatch
// still owns are always left alone.
func (r *Retrier) RetryOrder(ctx context.Context, orderID string, includeSent bool) (*Summary, error) {
	attempts, err := r.repo.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}

	var (
		candidates []*Attempt
		noData     int
		skipped    []AttemptResult
	)
	for _, a := range attempts {
		if a.Status == StatusSent && !includeSent {
			skipped = append(skipped, AttemptResult{AttemptID: a.AttemptID, Status: a.Status, VendorJobID: a.VendorJobID, Skipped: true})
			continue
		}
		if a.Snapshot == nil {
			noData++
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 && noData > 0 {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNoRetryData)
	}

	staleBefore := r.nowFunc().Add(-r.staleAfter)
	targets := make([]*Attempt, 0, len(candidates))
	for _, a := range candidates {
		if err := r.claim(ctx, a.AttemptID, staleBefore); err != nil {
			if errors.Is(err, ErrAttemptInFlight) {
				skipped = append(skipped, AttemptResult{AttemptID: a.AttemptID, Status: StatusPending, Skipped: true})
				continue
			}
			return nil, fmt.Errorf("failed to reset attempt %s: %w", a.AttemptID, err)
		}
		targets = append(targets, a)
	}

	r.log.WithFields(logrus.Fields{
		"order_id":     orderID,
		"attempts":     len(targets),
		"skipped":      len(skipped),
		"include_sent": includeSent,
	}).Info("retrying order")

	summary, err := r.engine.Redispatch(ctx, orderID, targets)
	if err != nil {
		return summary, err
	}
	for _, s := range skipped {
		summary.add(s)
	}
	return summary, nil
}

// ResumePending re-dispatches attempts left pending and untouched since
// before, the mark of a dispatch that died. Rows another process claims
// first are left to it.
func (r *Retrier) ResumePending(ctx context.Context, before time.Time, limit int) (*Summary, error) {
	pending, err := r.repo.ListRecent(ctx, ListFilter{Status: StatusPending, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending attempts: %w", err)
	}

	// ListRecent is newest first; resume in creation order.
	var stale []*Attempt
	for i := len(pending) - 1; i >= 0; i-- {
		a := pending[i]
		if !a.UpdatedAt.Before(before) || a.Snapshot == nil {
			continue
		}
		if err := r.claim(ctx, a.AttemptID, before); err != nil {
			if errors.Is(err, ErrAttemptInFlight) {
				continue
			}
			return nil, fmt.Errorf("failed to claim pending attempt %s: %w", a.AttemptID, err)
		}
		stale = append(stale, a)
	}
	if len(stale) == 0 {
		return &Summary{}, nil
	}

	r.log.WithField("attempts", len(stale)).Info("resuming pending attempts")
	return r.engine.Redispatch(ctx, "", stale)
}
