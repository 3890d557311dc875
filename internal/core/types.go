package core

import (
	"context"
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// Attempt is one physical label: a single unit of a single line item.
type Attempt struct {
	AttemptID    string    `json:"attempt_id"`
	OrderID      string    `json:"order_id"`
	Product      string    `json:"product"`
	Variant      string    `json:"variant,omitempty"`
	SKU          string    `json:"sku,omitempty"`
	Quantity     int       `json:"quantity"`
	Unit         int       `json:"unit"`
	Price        string    `json:"price,omitempty"`
	Status       Status    `json:"status"`
	VendorJobID  string    `json:"vendor_job_id,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RetryCount   int       `json:"retry_count"`
	Snapshot     *Snapshot `json:"retry_snapshot,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Snapshot is frozen at first expansion and never rewritten by retries.
type Snapshot struct {
	Item  LineItem  `json:"item"`
	Order OrderInfo `json:"order"`
}

type OrderInfo struct {
	OrderID      int64  `json:"order_id,omitempty"`
	Number       string `json:"number"`
	Note         string `json:"note,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
	ShipTo       string `json:"ship_to,omitempty"`
	Currency     string `json:"currency,omitempty"`
	PlacedAt     string `json:"placed_at,omitempty"`
}

type VendorEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

type ListFilter struct {
	Status Status
	Limit  int
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 100
)

// Repository persists one row per attempt. Each attempt touches only its
// own row, so implementations need per-write atomicity and nothing more.
type Repository interface {
	FindByOrder(ctx context.Context, orderID string) ([]*Attempt, error)
	FindByAttemptID(ctx context.Context, attemptID string) (*Attempt, error)
	InsertPending(ctx context.Context, a *Attempt) error
	MarkSent(ctx context.Context, attemptID, vendorJobID string) error
	MarkFailed(ctx context.Context, attemptID, errMsg string) error
	// ResetPending claims an attempt for another submission. A row that is
	// pending and was updated at or after staleBefore is still owned by a
	// running dispatch and yields ErrAttemptInFlight.
	ResetPending(ctx context.Context, attemptID string, staleBefore time.Time) error
	ListRecent(ctx context.Context, filter ListFilter) ([]*Attempt, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

type EventStore interface {
	InsertVendorEvents(ctx context.Context, events []*VendorEvent) error
	ListVendorEvents(ctx context.Context, limit int) ([]*VendorEvent, error)
}

// Store is what a storage backend provides to the service.
type Store interface {
	Repository
	EventStore
	Close() error
}

type Renderer interface {
	Render(item LineItem, info OrderInfo) ([]byte, error)
}

type Submitter interface {
	Submit(ctx context.Context, pdf []byte, title string) (string, error)
}

// Gate claims an order number so concurrent redeliveries cannot both expand it.
type Gate interface {
	Claim(ctx context.Context, orderID string) (bool, error)
	Release(ctx context.Context, orderID string) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, order *Order) error
}

func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
