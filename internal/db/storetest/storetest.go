// Package storetest holds behaviour every core.Store backend must share.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/orrn/labelrelay/internal/core"
)

// Factory returns an empty store; Run closes it.
type Factory func(t *testing.T) core.Store

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s core.Store)
	}{
		{"InsertAndFind", testInsertAndFind},
		{"DuplicateAttempt", testDuplicateAttempt},
		{"StatusTransitions", testStatusTransitions},
		{"ResetPendingClaim", testResetPendingClaim},
		{"NotFound", testNotFound},
		{"ListRecent", testListRecent},
		{"CountByStatus", testCountByStatus},
		{"ConcurrentWriters", testConcurrentWriters},
		{"VendorEvents", testVendorEvents},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func attempt(order string, item, unit int, at time.Time) *core.Attempt {
	li := core.LineItem{ID: int64(item), Title: "Iced Latte", VariantTitle: "Large", Quantity: 3, Price: "4.50"}
	return &core.Attempt{
		AttemptID: core.AttemptID(order, fmt.Sprint(item), unit),
		OrderID:   order,
		Product:   li.Title,
		Variant:   li.VariantTitle,
		Quantity:  li.Quantity,
		Unit:      unit,
		Price:     li.Price,
		Status:    core.StatusPending,
		Snapshot:  &core.Snapshot{Item: li, Order: core.OrderInfo{Number: order, Note: "extra ice"}},
		CreatedAt: at,
	}
}

func testInsertAndFind(t *testing.T, s core.Store) {
	ctx := context.Background()
	for unit := 1; unit <= 3; unit++ {
		if err := s.InsertPending(ctx, attempt("1001", 7, unit, base.Add(time.Duration(unit)*time.Second))); err != nil {
			t.Fatalf("InsertPending() error = %v", err)
		}
	}

	got, err := s.FindByAttemptID(ctx, "1001-7-2")
	if err != nil {
		t.Fatalf("FindByAttemptID() error = %v", err)
	}
	if got.Status != core.StatusPending || got.Unit != 2 || got.Snapshot == nil {
		t.Fatalf("attempt = %+v", got)
	}
	if got.Snapshot.Order.Note != "extra ice" || got.Snapshot.Item.Price != "4.50" {
		t.Fatalf("snapshot = %+v", got.Snapshot)
	}

	rows, err := s.FindByOrder(ctx, "1001")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[0].Unit != 1 || rows[2].Unit != 3 {
		t.Fatalf("FindByOrder() = %d rows in wrong order", len(rows))
	}

	none, err := s.FindByOrder(ctx, "9999")
	if err != nil || len(none) != 0 {
		t.Fatalf("unknown order = %v, %v", none, err)
	}
}

func testDuplicateAttempt(t *testing.T, s core.Store) {
	ctx := context.Background()
	if err := s.InsertPending(ctx, attempt("1", 1, 1, base)); err != nil {
		t.Fatal(err)
	}
	err := s.InsertPending(ctx, attempt("1", 1, 1, base))
	if !errors.Is(err, core.ErrDuplicateAttempt) {
		t.Fatalf("second insert err = %v, want ErrDuplicateAttempt", err)
	}
}

func testStatusTransitions(t *testing.T, s core.Store) {
	ctx := context.Background()
	a := attempt("2", 1, 1, base)
	if err := s.InsertPending(ctx, a); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkFailed(ctx, a.AttemptID, "printer offline"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.FindByAttemptID(ctx, a.AttemptID)
	if got.Status != core.StatusFailed || got.ErrorMessage != "printer offline" || got.VendorJobID != "" {
		t.Fatalf("after MarkFailed = %+v", got)
	}

	if err := s.ResetPending(ctx, a.AttemptID, base); err != nil {
		t.Fatal(err)
	}
	got, _ = s.FindByAttemptID(ctx, a.AttemptID)
	if got.Status != core.StatusPending || got.ErrorMessage != "" || got.RetryCount != 1 || got.Snapshot == nil {
		t.Fatalf("after ResetPending = %+v", got)
	}

	if err := s.MarkSent(ctx, a.AttemptID, "555"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSent(ctx, a.AttemptID, "555"); err != nil {
		t.Fatalf("repeated MarkSent error = %v", err)
	}
	got, _ = s.FindByAttemptID(ctx, a.AttemptID)
	if got.Status != core.StatusSent || got.VendorJobID != "555" || got.ErrorMessage != "" {
		t.Fatalf("after MarkSent = %+v", got)
	}
	if got.Snapshot == nil || got.Snapshot.Item.Title != "Iced Latte" {
		t.Fatal("snapshot changed by status transitions")
	}
}

func testResetPendingClaim(t *testing.T, s core.Store) {
	ctx := context.Background()
	a := attempt("7", 1, 1, base)
	if err := s.InsertPending(ctx, a); err != nil {
		t.Fatal(err)
	}

	// Pending and touched at base: owned by whoever inserted it.
	if err := s.ResetPending(ctx, a.AttemptID, base); !errors.Is(err, core.ErrAttemptInFlight) {
		t.Fatalf("fresh pending reset err = %v, want ErrAttemptInFlight", err)
	}

	if err := s.ResetPending(ctx, a.AttemptID, base.Add(time.Minute)); err != nil {
		t.Fatalf("stale pending reset err = %v", err)
	}
	if err := s.ResetPending(ctx, a.AttemptID, base.Add(time.Minute)); !errors.Is(err, core.ErrAttemptInFlight) {
		t.Fatalf("second claim err = %v, want ErrAttemptInFlight", err)
	}

	if err := s.MarkFailed(ctx, a.AttemptID, "paper out"); err != nil {
		t.Fatal(err)
	}
	if err := s.ResetPending(ctx, a.AttemptID, base); err != nil {
		t.Fatalf("failed attempt reset err = %v", err)
	}
	got, _ := s.FindByAttemptID(ctx, a.AttemptID)
	if got.Status != core.StatusPending || got.RetryCount != 2 {
		t.Fatalf("after claims = %+v", got)
	}
}

func testNotFound(t *testing.T, s core.Store) {
	ctx := context.Background()
	if _, err := s.FindByAttemptID(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("FindByAttemptID err = %v", err)
	}
	if err := s.MarkSent(ctx, "missing", "1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("MarkSent err = %v", err)
	}
	if err := s.MarkFailed(ctx, "missing", "x"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("MarkFailed err = %v", err)
	}
	if err := s.ResetPending(ctx, "missing", base); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("ResetPending err = %v", err)
	}
}

func testListRecent(t *testing.T, s core.Store) {
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		if err := s.InsertPending(ctx, attempt("3", i, 1, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}
	_ = s.MarkFailed(ctx, "3-2-1", "x")
	_ = s.MarkFailed(ctx, "3-4-1", "y")

	all, err := s.ListRecent(ctx, core.ListFilter{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].AttemptID != "3-5-1" || all[2].AttemptID != "3-3-1" {
		t.Fatalf("ListRecent() = %v", ids(all))
	}

	failed, err := s.ListRecent(ctx, core.ListFilter{Status: core.StatusFailed})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 2 || failed[0].AttemptID != "3-4-1" {
		t.Fatalf("failed = %v", ids(failed))
	}
}

func testCountByStatus(t *testing.T, s core.Store) {
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		_ = s.InsertPending(ctx, attempt("4", 1, i, base))
	}
	_ = s.MarkSent(ctx, "4-1-1", "a")
	_ = s.MarkSent(ctx, "4-1-2", "b")
	_ = s.MarkFailed(ctx, "4-1-3", "c")

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[core.StatusSent] != 2 || counts[core.StatusFailed] != 1 || counts[core.StatusPending] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func testConcurrentWriters(t *testing.T, s core.Store) {
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(unit int) {
			defer wg.Done()
			a := attempt("5", 1, unit, base)
			if err := s.InsertPending(ctx, a); err != nil {
				errs <- err
				return
			}
			if unit%2 == 0 {
				errs <- s.MarkSent(ctx, a.AttemptID, fmt.Sprint(unit))
			} else {
				errs <- s.MarkFailed(ctx, a.AttemptID, "odd")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent write error = %v", err)
		}
	}

	rows, err := s.FindByOrder(ctx, "5")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != n {
		t.Fatalf("rows = %d, want %d", len(rows), n)
	}
	for _, r := range rows {
		want := core.StatusFailed
		if r.Unit%2 == 0 {
			want = core.StatusSent
		}
		if r.Status != want {
			t.Fatalf("row %s status = %s, want %s", r.AttemptID, r.Status, want)
		}
	}
}

func testVendorEvents(t *testing.T, s core.Store) {
	ctx := context.Background()
	events := []*core.VendorEvent{
		{ID: "e1", EventType: "print_job.state_change", Payload: json.RawMessage(`{"id":1,"state":"done"}`), ReceivedAt: base},
		{ID: "e2", EventType: "printer.state", Payload: json.RawMessage(`{"id":2}`), ReceivedAt: base.Add(time.Second)},
	}
	if err := s.InsertVendorEvents(ctx, events); err != nil {
		t.Fatalf("InsertVendorEvents() error = %v", err)
	}

	got, err := s.ListVendorEvents(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "e2" || got[1].EventType != "print_job.state_change" {
		t.Fatalf("events = %+v", got)
	}

	var payload map[string]any
	if err := json.Unmarshal(got[1].Payload, &payload); err != nil || payload["state"] != "done" {
		t.Fatalf("payload not stored verbatim: %s", got[1].Payload)
	}

	limited, _ := s.ListVendorEvents(ctx, 1)
	if len(limited) != 1 {
		t.Fatalf("limit ignored: %d events", len(limited))
	}
}

func ids(as []*core.Attempt) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.AttemptID)
	}
	return out
}
