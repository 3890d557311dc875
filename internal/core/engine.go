package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type AttemptResult struct {
	AttemptID   string `json:"attempt_id"`
	Status      Status `json:"status"`
	VendorJobID string `json:"vendor_job_id,omitempty"`
	Error       string `json:"error,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
}

type Summary struct {
	OrderID string          `json:"order_id"`
	Printed int             `json:"printed"`
	Failed  int             `json:"failed"`
	Skipped int             `json:"skipped"`
	Results []AttemptResult `json:"results"`
}

func (s *Summary) add(r AttemptResult) {
	switch {
	case r.Skipped:
		s.Skipped++
	case r.Status == StatusSent:
		s.Printed++
	default:
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

type EngineConfig struct {
	// Pacing is slept between successive units of the same line item.
	Pacing time.Duration
}

// Engine expands orders into attempts and drives each one through
// render, submit and persist on the shared scheduler.
type Engine struct {
	repo      Repository
	renderer  Renderer
	submitter Submitter
	sched     *Scheduler
	pacing    time.Duration
	log       *logrus.Entry
	nowFunc   func() time.Time
	sleep     func(time.Duration)

	mu       sync.Mutex
	inFlight map[string]int
}

func NewEngine(repo Repository, renderer Renderer, submitter Submitter, sched *Scheduler, cfg EngineConfig, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		repo:      repo,
		renderer:  renderer,
		submitter: submitter,
		sched:     sched,
		pacing:    cfg.Pacing,
		log:       log,
		nowFunc:   func() time.Time { return time.Now().UTC() },
		sleep:     time.Sleep,
		inFlight:  make(map[string]int),
	}
}

// InFlight reports whether attemptID is queued or running on this engine.
func (e *Engine) InFlight(attemptID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight[attemptID] > 0
}

func (e *Engine) track(attemptID string) {
	e.mu.Lock()
	e.inFlight[attemptID]++
	e.mu.Unlock()
}

func (e *Engine) untrack(attemptID string) {
	e.mu.Lock()
	if e.inFlight[attemptID]--; e.inFlight[attemptID] <= 0 {
		delete(e.inFlight, attemptID)
	}
	e.mu.Unlock()
}

// submit queues one attempt and keeps it visible to InFlight until it is done.
func (e *Engine) submit(ctx context.Context, attemptID string, run func(context.Context) AttemptResult) *Future[AttemptResult] {
	e.track(attemptID)
	f := Submit(ctx, e.sched, func(ctx context.Context) (AttemptResult, error) {
		defer e.untrack(attemptID)
		return run(ctx), nil
	})
	select {
	case <-f.Done():
		if errors.Is(f.err, ErrSchedulerStopped) {
			e.untrack(attemptID)
		}
	default:
	}
	return f
}

// Dispatch persists and submits every unit of order and waits for all of
// them. Per-unit failures are recorded on the unit and never returned.
func (e *Engine) Dispatch(ctx context.Context, order *Order) (*Summary, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	plans := Expand(order)
	log := e.log.WithField("order_id", order.Number())
	log.WithField("units", len(plans)).Info("dispatching order")

	futures := make([]*Future[AttemptResult], 0, len(plans))
	for i, p := range plans {
		if i > 0 && e.pacing > 0 && plans[i-1].ItemIndex == p.ItemIndex {
			e.sleep(e.pacing)
		}
		p := p
		futures = append(futures, e.submit(ctx, p.AttemptID, func(ctx context.Context) AttemptResult {
			return e.dispatchNew(ctx, p)
		}))
	}

	summary, err := e.collect(ctx, order.Number(), futures)
	if err != nil {
		return summary, err
	}
	log.WithFields(logrus.Fields{
		"printed": summary.Printed,
		"failed":  summary.Failed,
		"skipped": summary.Skipped,
	}).Info("order dispatched")
	return summary, nil
}

// Redispatch submits already persisted attempts again from their snapshots.
// Each attempt must have been reset to pending by the caller.
func (e *Engine) Redispatch(ctx context.Context, orderID string, attempts []*Attempt) (*Summary, error) {
	futures := make([]*Future[AttemptResult], 0, len(attempts))
	for i, a := range attempts {
		if i > 0 && e.pacing > 0 {
			e.sleep(e.pacing)
		}
		a := a
		futures = append(futures, e.submit(ctx, a.AttemptID, func(ctx context.Context) AttemptResult {
			return e.process(ctx, a)
		}))
	}
	return e.collect(ctx, orderID, futures)
}

// Run processes a single persisted attempt on the scheduler and waits.
func (e *Engine) Run(ctx context.Context, a *Attempt) (AttemptResult, error) {
	return e.submit(ctx, a.AttemptID, func(ctx context.Context) AttemptResult {
		return e.process(ctx, a)
	}).Wait(ctx)
}

func (e *Engine) collect(ctx context.Context, orderID string, futures []*Future[AttemptResult]) (*Summary, error) {
	summary := &Summary{OrderID: orderID, Results: make([]AttemptResult, 0, len(futures))}
	for _, f := range futures {
		r, err := f.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return summary, err
			}
			r.Status = StatusFailed
			r.Error = err.Error()
		}
		summary.add(r)
	}
	return summary, nil
}

func (e *Engine) dispatchNew(ctx context.Context, p Plan) AttemptResult {
	a := p.Attempt(e.nowFunc())
	log := e.log.WithFields(logrus.Fields{"order_id": a.OrderID, "attempt_id": a.AttemptID})

	if err := e.repo.InsertPending(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicateAttempt) {
			log.Warn("attempt already exists, skipping")
			return AttemptResult{AttemptID: a.AttemptID, Skipped: true}
		}
		log.WithError(err).Error("failed to persist pending attempt")
		return AttemptResult{AttemptID: a.AttemptID, Status: StatusFailed, Error: err.Error()}
	}

	return e.process(ctx, a)
}

func (e *Engine) process(ctx context.Context, a *Attempt) AttemptResult {
	log := e.log.WithFields(logrus.Fields{"order_id": a.OrderID, "attempt_id": a.AttemptID})
	if a.Snapshot == nil {
		return e.fail(ctx, a, ErrNoRetryData, log)
	}
	item, info := a.Snapshot.Item, a.Snapshot.Order

	pdf, err := e.renderer.Render(item, info)
	if err != nil {
		return e.fail(ctx, a, &RenderError{Err: err}, log)
	}

	title := FormatTitle(info.Number, item.Title, item.VariantTitle, a.Unit, item.Quantity)
	jobID, err := e.submitter.Submit(ctx, pdf, title)
	if err != nil {
		var se *SubmissionError
		if !errors.As(err, &se) {
			err = &SubmissionError{Err: err}
		}
		return e.fail(ctx, a, err, log)
	}

	if err := e.repo.MarkSent(ctx, a.AttemptID, jobID); err != nil {
		log.WithError(err).Error("label printed but status update failed")
	}
	log.WithField("vendor_job_id", jobID).Info("label submitted")
	return AttemptResult{AttemptID: a.AttemptID, Status: StatusSent, VendorJobID: jobID}
}

func (e *Engine) fail(ctx context.Context, a *Attempt, cause error, log *logrus.Entry) AttemptResult {
	msg := cause.Error()
	log.WithError(cause).Warn("attempt failed")
	if err := e.repo.MarkFailed(ctx, a.AttemptID, msg); err != nil {
		log.WithError(err).Error("failed to record attempt failure")
	}
	return AttemptResult{AttemptID: a.AttemptID, Status: StatusFailed, Error: msg}
}
