package pgstore

import (
	"os"
	"testing"

	"github.com/orrn/labelrelay/internal/core"
	"github.com/orrn/labelrelay/internal/db/storetest"
)

// Runs against a disposable database named by LABELRELAY_TEST_POSTGRES.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("LABELRELAY_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("LABELRELAY_TEST_POSTGRES not set")
	}

	storetest.Run(t, func(t *testing.T) core.Store {
		s, err := Open(dsn)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if err := s.db.Exec(`TRUNCATE print_attempts, vendor_events`).Error; err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}

func TestModelRoundTrip(t *testing.T) {
	a := &core.Attempt{
		AttemptID: "1-1-1",
		OrderID:   "1",
		Product:   "Latte",
		Quantity:  1,
		Unit:      1,
		Status:    core.StatusFailed,
		Snapshot:  &core.Snapshot{Item: core.LineItem{Title: "Latte", Quantity: 1}, Order: core.OrderInfo{Number: "1"}},
	}

	m, err := FromDomain(a)
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.ToDomain()
	if err != nil {
		t.Fatal(err)
	}
	if got.Snapshot == nil || got.Snapshot.Item.Title != "Latte" || got.Status != core.StatusFailed {
		t.Fatalf("ToDomain() = %+v", got)
	}

	m.RetrySnapshot = nil
	got, err = m.ToDomain()
	if err != nil || got.Snapshot != nil {
		t.Fatalf("empty snapshot = %+v, %v", got, err)
	}
}
