package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/labelrelay/internal/core"
	"github.com/orrn/labelrelay/internal/db/memstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeIntake struct {
	res *core.IntakeResult
	err error
}

func (f *fakeIntake) Accept(_ context.Context, body []byte) (*core.IntakeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type fakeRetrier struct {
	attemptRes core.AttemptResult
	attemptErr error
	orderErr   error
	gotInclude bool
}

func (f *fakeRetrier) RetryAttempt(_ context.Context, id string) (core.AttemptResult, error) {
	return f.attemptRes, f.attemptErr
}

func (f *fakeRetrier) RetryOrder(_ context.Context, orderID string, includeSent bool) (*core.Summary, error) {
	f.gotInclude = includeSent
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	return &core.Summary{OrderID: orderID, Printed: 2}, nil
}

func newRouter(intake OrderIntake, repo core.Repository, retrier Retrier, events core.EventStore) *gin.Engine {
	r := gin.New()
	pass := func(c *gin.Context) { c.Next() }
	NewWebhookHandler(intake, events, nil).RegisterRoutes(r.Group("/webhooks"), pass, pass)
	NewJobHandler(repo, retrier, events).RegisterRoutes(r.Group("/api"))
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func seed(t *testing.T, store *memstore.Store, order string, statuses ...core.Status) {
	t.Helper()
	ctx := context.Background()
	for i, st := range statuses {
		id := fmt.Sprintf("%s-1-%d", order, i+1)
		a := &core.Attempt{
			AttemptID: id,
			OrderID:   order,
			Product:   "Latte",
			Quantity:  len(statuses),
			Unit:      i + 1,
			Status:    core.StatusPending,
			Snapshot:  &core.Snapshot{Item: core.LineItem{Title: "Latte", Quantity: len(statuses)}},
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := store.InsertPending(ctx, a); err != nil {
			t.Fatal(err)
		}
		switch st {
		case core.StatusSent:
			_ = store.MarkSent(ctx, id, "job-"+id)
		case core.StatusFailed:
			_ = store.MarkFailed(ctx, id, "printer offline")
		}
	}
}

func TestReceiveOrder(t *testing.T) {
	tests := []struct {
		name    string
		intake  *fakeIntake
		status  int
		message string
	}{
		{"accepted", &fakeIntake{res: &core.IntakeResult{OrderID: "1001", Units: 3}}, http.StatusOK, "order accepted"},
		{"duplicate", &fakeIntake{res: &core.IntakeResult{OrderID: "1001", Duplicate: true}}, http.StatusOK, "duplicate ignored"},
		{"malformed", &fakeIntake{err: fmt.Errorf("%w: no line items", core.ErrMalformedOrder)}, http.StatusBadRequest, ""},
		{"store down", &fakeIntake{err: errors.New("database is locked")}, http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(tt.intake, memstore.New(), &fakeRetrier{}, memstore.New())
			w := do(r, http.MethodPost, "/webhooks", `{}`)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if tt.message == "" {
				return
			}
			var resp WebhookResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if !resp.Success || resp.Message != tt.message {
				t.Fatalf("response = %+v, want success with %q", resp, tt.message)
			}
		})
	}
}

func TestReceiveVendorEvents(t *testing.T) {
	store := memstore.New()
	r := newRouter(&fakeIntake{}, store, &fakeRetrier{}, store)

	w := do(r, http.MethodPost, "/webhooks/vendor", `[{"event":"print_job.state_change","id":1},{"type":"printer.state"}]`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodPost, "/webhooks/vendor", `{"id":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	if w := do(r, http.MethodPost, "/webhooks/vendor", `[{]`); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", w.Code)
	}

	events, err := store.ListVendorEvents(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("stored %d events, want 3", len(events))
	}
	types := map[string]bool{}
	for _, e := range events {
		types[e.EventType] = true
		if e.ID == "" || len(e.Payload) == 0 {
			t.Fatalf("event missing id or payload: %+v", e)
		}
	}
	for _, want := range []string{"print_job.state_change", "printer.state", "unknown"} {
		if !types[want] {
			t.Errorf("missing event type %q in %v", want, types)
		}
	}

	w = do(r, http.MethodGet, "/api/vendor-events?limit=2", "")
	var listed struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &listed)
	if listed.Count != 2 {
		t.Fatalf("listed %d events, want 2", listed.Count)
	}
}

func TestListJobs(t *testing.T) {
	store := memstore.New()
	seed(t, store, "1001", core.StatusSent, core.StatusFailed, core.StatusPending)
	r := newRouter(&fakeIntake{}, store, &fakeRetrier{}, store)

	tests := []struct {
		query  string
		status int
		count  int
	}{
		{"", http.StatusOK, 3},
		{"?status=failed", http.StatusOK, 1},
		{"?limit=2", http.StatusOK, 2},
		{"?limit=1000", http.StatusOK, 3},
		{"?status=bogus", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := do(r, http.MethodGet, "/api/jobs"+tt.query, "")
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			var resp ListJobsResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Count != tt.count {
				t.Fatalf("count = %d, want %d", resp.Count, tt.count)
			}
		})
	}
}

func TestJobLookups(t *testing.T) {
	store := memstore.New()
	seed(t, store, "1001", core.StatusSent, core.StatusFailed)
	r := newRouter(&fakeIntake{}, store, &fakeRetrier{}, store)

	if w := do(r, http.MethodGet, "/api/jobs/1001-1-2", ""); w.Code != http.StatusOK {
		t.Fatalf("get job status = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/jobs/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing job status = %d, want 404", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/orders/1001/jobs", ""); w.Code != http.StatusOK {
		t.Fatalf("order jobs status = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/orders/999/jobs", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing order status = %d, want 404", w.Code)
	}

	w := do(r, http.MethodGet, "/api/jobs/stats", "")
	var stats JobStatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Sent != 1 || stats.Failed != 1 || stats.Total != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRetryJobStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"ok", nil, http.StatusOK},
		{"not found", fmt.Errorf("attempt x: %w", core.ErrNotFound), http.StatusNotFound},
		{"no data", fmt.Errorf("attempt x: %w", core.ErrNoRetryData), http.StatusBadRequest},
		{"failed", fmt.Errorf("%w: printer offline", core.ErrRetryFailed), http.StatusInternalServerError},
		{"in flight", fmt.Errorf("attempt x: %w", core.ErrAttemptInFlight), http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retrier := &fakeRetrier{
				attemptRes: core.AttemptResult{AttemptID: "x", Status: core.StatusSent},
				attemptErr: tt.err,
			}
			r := newRouter(&fakeIntake{}, memstore.New(), retrier, memstore.New())
			if w := do(r, http.MethodPost, "/api/retry-job/x", ""); w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}

func TestRetryOrder(t *testing.T) {
	retrier := &fakeRetrier{}
	r := newRouter(&fakeIntake{}, memstore.New(), retrier, memstore.New())

	if w := do(r, http.MethodPost, "/api/retry-order/1001?include_sent=true", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !retrier.gotInclude {
		t.Fatal("include_sent was not passed through")
	}
	if w := do(r, http.MethodPost, "/api/retry-order/1001?include_sent=maybe", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid flag status = %d, want 400", w.Code)
	}

	retrier.orderErr = fmt.Errorf("order 1: %w", core.ErrNotFound)
	if w := do(r, http.MethodPost, "/api/retry-order/1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing order status = %d, want 404", w.Code)
	}
}

func TestWebhookBodyTooLarge(t *testing.T) {
	intake := &fakeIntake{res: &core.IntakeResult{OrderID: "1"}}
	r := newRouter(intake, memstore.New(), &fakeRetrier{}, memstore.New())
	big := `{"note":"` + strings.Repeat("x", maxBodyBytes) + `"}`

	for _, path := range []string{"/webhooks", "/webhooks/vendor"} {
		if w := do(r, http.MethodPost, path, big); w.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("%s status = %d, want 413", path, w.Code)
		}
	}
}
