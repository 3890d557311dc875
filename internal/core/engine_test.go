package core_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orrn/labelrelay/internal/core"
	"github.com/orrn/labelrelay/internal/db/memstore"
	"github.com/orrn/labelrelay/internal/gate"
)

type fakeRenderer struct {
	failTitle string
}

func (r *fakeRenderer) Render(item core.LineItem, _ core.OrderInfo) ([]byte, error) {
	if item.Title == r.failTitle {
		return nil, errors.New("font missing")
	}
	return []byte("%PDF-" + item.Title), nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	calls    []string
	fail     map[string]bool
	failAll  bool
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func newSubmitter() *fakeSubmitter {
	return &fakeSubmitter{fail: map[string]bool{}}
}

func (s *fakeSubmitter) Submit(_ context.Context, _ []byte, title string) (string, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, title)
	if s.failAll || s.fail[title] {
		return "", &core.SubmissionError{StatusCode: 502, Err: errors.New("vendor unavailable")}
	}
	return fmt.Sprintf("job-%d", len(s.calls)), nil
}

func (s *fakeSubmitter) setFailAll(v bool) {
	s.mu.Lock()
	s.failAll = v
	s.mu.Unlock()
}

func (s *fakeSubmitter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type harness struct {
	store     *memstore.Store
	submitter *fakeSubmitter
	renderer  *fakeRenderer
	engine    *core.Engine
	retrier   *core.Retrier
}

func newHarness(t *testing.T, workers int, pacing time.Duration) *harness {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	entry := logrus.NewEntry(log)

	h := &harness{store: memstore.New(), submitter: newSubmitter(), renderer: &fakeRenderer{}}
	sched := core.NewScheduler(workers)
	t.Cleanup(sched.Stop)
	h.engine = core.NewEngine(h.store, h.renderer, h.submitter, sched, core.EngineConfig{Pacing: pacing}, entry)
	h.retrier = core.NewRetrier(h.store, h.engine, core.RetryConfig{}, entry)
	return h
}

func order(number int64, items ...core.LineItem) *core.Order {
	return &core.Order{OrderNumber: &number, LineItems: items}
}

func TestDispatchCreatesOneRowPerUnit(t *testing.T) {
	h := newHarness(t, 3, 0)
	o := order(1001,
		core.LineItem{ID: 1, Title: "Latte", Quantity: 2},
		core.LineItem{ID: 2, Title: "Mocha", Quantity: 4},
		core.LineItem{ID: 3, Title: "Scone", Quantity: 1},
	)

	summary, err := h.engine.Dispatch(context.Background(), o)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if summary.Printed != 7 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	rows, _ := h.store.FindByOrder(context.Background(), "1001")
	if len(rows) != 7 {
		t.Fatalf("rows = %d, want 7", len(rows))
	}
	seen := map[string]bool{}
	for _, r := range rows {
		if seen[r.AttemptID] {
			t.Fatalf("duplicate attempt id %s", r.AttemptID)
		}
		seen[r.AttemptID] = true
		if r.Status != core.StatusSent || r.VendorJobID == "" {
			t.Errorf("row %s = %s/%q", r.AttemptID, r.Status, r.VendorJobID)
		}
	}
}

func TestDispatchPartialFailure(t *testing.T) {
	h := newHarness(t, 3, 0)
	h.submitter.fail["Order #2002 A (1/2)"] = true

	summary, err := h.engine.Dispatch(context.Background(), order(2002,
		core.LineItem{ID: 10, Title: "A", Quantity: 2},
		core.LineItem{ID: 11, Title: "B", Quantity: 1},
	))
	if err != nil {
		t.Fatal(err)
	}
	if summary.Printed != 2 || summary.Failed != 1 {
		t.Fatalf("summary = printed %d failed %d, want 2/1", summary.Printed, summary.Failed)
	}

	failed, _ := h.store.ListRecent(context.Background(), core.ListFilter{Status: core.StatusFailed})
	if len(failed) != 1 || failed[0].AttemptID != "2002-10-1" || failed[0].ErrorMessage == "" {
		t.Fatalf("failed rows = %+v", failed)
	}
	if failed[0].VendorJobID != "" {
		t.Fatalf("failed row kept vendor id %q", failed[0].VendorJobID)
	}
}

func TestDispatchRenderFailureIsRecorded(t *testing.T) {
	h := newHarness(t, 2, 0)
	h.renderer.failTitle = "Broken"

	summary, err := h.engine.Dispatch(context.Background(), order(5,
		core.LineItem{ID: 1, Title: "Broken", Quantity: 1},
		core.LineItem{ID: 2, Title: "Fine", Quantity: 1},
	))
	if err != nil {
		t.Fatal(err)
	}
	if summary.Printed != 1 || summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	a, _ := h.store.FindByAttemptID(context.Background(), "5-1-1")
	if a.Status != core.StatusFailed || a.Snapshot == nil {
		t.Fatalf("render failure row = %+v", a)
	}
	if h.submitter.callCount() != 1 {
		t.Fatalf("submitter called %d times, want 1", h.submitter.callCount())
	}
}

func TestDispatchRespectsConcurrencyCeiling(t *testing.T) {
	const k = 2
	h := newHarness(t, k, 0)
	h.submitter.delay = 5 * time.Millisecond

	if _, err := h.engine.Dispatch(context.Background(), order(7, core.LineItem{ID: 1, Title: "Bulk", Quantity: 12})); err != nil {
		t.Fatal(err)
	}
	if got := h.submitter.peak.Load(); got > k {
		t.Fatalf("peak in-flight submissions = %d, want <= %d", got, k)
	}
}

func TestDispatchPacesUnitsOfOneItem(t *testing.T) {
	h := newHarness(t, 3, 15*time.Millisecond)

	start := time.Now()
	if _, err := h.engine.Dispatch(context.Background(), order(8,
		core.LineItem{ID: 1, Title: "A", Quantity: 3},
		core.LineItem{ID: 2, Title: "B", Quantity: 1},
	)); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("dispatch took %v, want at least two pacing delays", elapsed)
	}
}

func TestDispatchSkipsExistingAttempt(t *testing.T) {
	h := newHarness(t, 2, 0)
	o := order(9, core.LineItem{ID: 1, Title: "A", Quantity: 2})

	if _, err := h.engine.Dispatch(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	summary, err := h.engine.Dispatch(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Skipped != 2 || summary.Printed != 0 {
		t.Fatalf("second dispatch summary = %+v", summary)
	}
	if h.submitter.callCount() != 2 {
		t.Fatalf("submitter calls = %d, want 2", h.submitter.callCount())
	}
}

func TestRetryAttemptIsRepeatableAndRecovers(t *testing.T) {
	h := newHarness(t, 2, 0)
	ctx := context.Background()
	h.submitter.setFailAll(true)

	if _, err := h.engine.Dispatch(ctx, order(3001, core.LineItem{ID: 4, Title: "Chai", Quantity: 1})); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		res, err := h.retrier.RetryAttempt(ctx, "3001-4-1")
		if !errors.Is(err, core.ErrRetryFailed) {
			t.Fatalf("retry %d err = %v, want ErrRetryFailed", i, err)
		}
		if res.Status != core.StatusFailed {
			t.Fatalf("retry %d status = %s", i, res.Status)
		}
		a, _ := h.store.FindByAttemptID(ctx, "3001-4-1")
		if a.Snapshot == nil || a.Snapshot.Item.Title != "Chai" {
			t.Fatalf("snapshot lost after retry %d", i)
		}
	}

	h.submitter.setFailAll(false)
	res, err := h.retrier.RetryAttempt(ctx, "3001-4-1")
	if err != nil {
		t.Fatalf("recovering retry err = %v", err)
	}
	if res.Status != core.StatusSent || res.VendorJobID == "" {
		t.Fatalf("result = %+v", res)
	}

	a, _ := h.store.FindByAttemptID(ctx, "3001-4-1")
	if a.Status != core.StatusSent || a.VendorJobID == "" || a.ErrorMessage != "" || a.RetryCount != 4 {
		t.Fatalf("row after recovery = %+v", a)
	}
}

func TestRetryValidation(t *testing.T) {
	h := newHarness(t, 1, 0)
	ctx := context.Background()

	if _, err := h.retrier.RetryAttempt(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("missing attempt err = %v", err)
	}
	if _, err := h.retrier.RetryOrder(ctx, "nope", false); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("missing order err = %v", err)
	}

	legacy := &core.Attempt{AttemptID: "4-1-1", OrderID: "4", Product: "Old", Quantity: 1, Unit: 1}
	if err := h.store.InsertPending(ctx, legacy); err != nil {
		t.Fatal(err)
	}
	_ = h.store.MarkFailed(ctx, "4-1-1", "printer offline")

	if _, err := h.retrier.RetryAttempt(ctx, "4-1-1"); !errors.Is(err, core.ErrNoRetryData) {
		t.Fatalf("no snapshot err = %v", err)
	}
	if _, err := h.retrier.RetryOrder(ctx, "4", false); !errors.Is(err, core.ErrNoRetryData) {
		t.Fatalf("order without snapshots err = %v", err)
	}
}

func TestRetryOrderSkipsSentUnlessAsked(t *testing.T) {
	h := newHarness(t, 2, 0)
	ctx := context.Background()
	h.submitter.fail["Order #6006 Bagel (2/3)"] = true

	if _, err := h.engine.Dispatch(ctx, order(6006, core.LineItem{ID: 1, Title: "Bagel", Quantity: 3})); err != nil {
		t.Fatal(err)
	}
	before := h.submitter.callCount()

	h.submitter.mu.Lock()
	delete(h.submitter.fail, "Order #6006 Bagel (2/3)")
	h.submitter.mu.Unlock()

	summary, err := h.retrier.RetryOrder(ctx, "6006", false)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Printed != 1 || summary.Skipped != 2 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want printed 1 skipped 2", summary)
	}
	if got := h.submitter.callCount() - before; got != 1 {
		t.Fatalf("vendor calls during retry = %d, want 1", got)
	}

	summary, err = h.retrier.RetryOrder(ctx, "6006", true)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Printed != 3 || summary.Skipped != 0 {
		t.Fatalf("include sent summary = %+v", summary)
	}
}

func TestIntakeIgnoresDuplicates(t *testing.T) {
	h := newHarness(t, 2, 0)
	ctx := context.Background()
	log := logrus.NewEntry(logrus.New())
	dispatcher := core.NewBackgroundDispatcher(h.engine, log)
	intake := core.NewIntake(h.store, gate.NewMemoryGate(0), dispatcher, log)

	body := []byte(`{"name":"#1001","line_items":[{"id":7,"title":"Iced Latte","quantity":3}]}`)
	res, err := intake.Accept(ctx, body)
	if err != nil || res.Duplicate || res.Units != 3 {
		t.Fatalf("first accept = %+v, %v", res, err)
	}
	dispatcher.Wait()

	res, err = intake.Accept(ctx, body)
	if err != nil || !res.Duplicate {
		t.Fatalf("second accept = %+v, %v", res, err)
	}
	dispatcher.Wait()

	rows, _ := h.store.FindByOrder(ctx, "1001")
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
}

type blockingDispatcher struct {
	calls atomic.Int32
	err   error
}

func (d *blockingDispatcher) Dispatch(context.Context, *core.Order) error {
	d.calls.Add(1)
	return d.err
}

func TestIntakeGateBlocksConcurrentRedelivery(t *testing.T) {
	store := memstore.New()
	d := &blockingDispatcher{}
	intake := core.NewIntake(store, gate.NewMemoryGate(0), d, nil)
	body := []byte(`{"name":"#77","line_items":[{"title":"A","quantity":1}]}`)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := intake.Accept(context.Background(), body); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := d.calls.Load(); got != 1 {
		t.Fatalf("dispatches = %d, want 1", got)
	}
}

func TestIntakeReleasesClaimOnDispatchError(t *testing.T) {
	d := &blockingDispatcher{err: errors.New("broker down")}
	intake := core.NewIntake(memstore.New(), gate.NewMemoryGate(0), d, nil)
	body := []byte(`{"name":"#78","line_items":[{"title":"A","quantity":1}]}`)

	if _, err := intake.Accept(context.Background(), body); err == nil {
		t.Fatal("expected dispatch error")
	}
	d.err = nil
	res, err := intake.Accept(context.Background(), body)
	if err != nil || res.Duplicate {
		t.Fatalf("redelivery after failed hand-off = %+v, %v", res, err)
	}
}

func TestIntakeRejectsMalformed(t *testing.T) {
	d := &blockingDispatcher{}
	intake := core.NewIntake(memstore.New(), nil, d, nil)
	if _, err := intake.Accept(context.Background(), []byte(`{"line_items":[]}`)); !errors.Is(err, core.ErrMalformedOrder) {
		t.Fatalf("err = %v", err)
	}
	if d.calls.Load() != 0 {
		t.Fatal("malformed order was dispatched")
	}
}
