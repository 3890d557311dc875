package pgstore

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/orrn/labelrelay/internal/core"
)

type AttemptModel struct {
	AttemptID     string         `gorm:"column:attempt_id;type:varchar(191);primaryKey"`
	OrderID       string         `gorm:"column:order_id;type:varchar(64);not null;index"`
	Product       string         `gorm:"column:product;type:text;not null"`
	Variant       string         `gorm:"column:variant;type:text;not null;default:''"`
	SKU           string         `gorm:"column:sku;type:varchar(128);not null;default:''"`
	Quantity      int            `gorm:"column:quantity;not null"`
	Unit          int            `gorm:"column:unit;not null"`
	Price         string         `gorm:"column:price;type:varchar(32);not null;default:''"`
	Status        string         `gorm:"column:status;type:varchar(16);not null;default:'pending';index:idx_print_attempts_status_created,priority:1"`
	VendorJobID   string         `gorm:"column:vendor_job_id;type:varchar(64);not null;default:''"`
	ErrorMessage  string         `gorm:"column:error_message;type:text;not null;default:''"`
	RetryCount    int            `gorm:"column:retry_count;not null;default:0"`
	RetrySnapshot datatypes.JSON `gorm:"column:retry_snapshot"`
	CreatedAt     time.Time      `gorm:"column:created_at;not null;index:idx_print_attempts_status_created,priority:2"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;not null"`
}

func (AttemptModel) TableName() string {
	return "print_attempts"
}

func (m *AttemptModel) ToDomain() (*core.Attempt, error) {
	a := &core.Attempt{
		AttemptID:    m.AttemptID,
		OrderID:      m.OrderID,
		Product:      m.Product,
		Variant:      m.Variant,
		SKU:          m.SKU,
		Quantity:     m.Quantity,
		Unit:         m.Unit,
		Price:        m.Price,
		Status:       core.Status(m.Status),
		VendorJobID:  m.VendorJobID,
		ErrorMessage: m.ErrorMessage,
		RetryCount:   m.RetryCount,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if len(m.RetrySnapshot) > 0 && string(m.RetrySnapshot) != "null" {
		var snap core.Snapshot
		if err := json.Unmarshal(m.RetrySnapshot, &snap); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot for %s: %w", m.AttemptID, err)
		}
		a.Snapshot = &snap
	}
	return a, nil
}

func FromDomain(a *core.Attempt) (*AttemptModel, error) {
	m := &AttemptModel{
		AttemptID:    a.AttemptID,
		OrderID:      a.OrderID,
		Product:      a.Product,
		Variant:      a.Variant,
		SKU:          a.SKU,
		Quantity:     a.Quantity,
		Unit:         a.Unit,
		Price:        a.Price,
		Status:       string(a.Status),
		VendorJobID:  a.VendorJobID,
		ErrorMessage: a.ErrorMessage,
		RetryCount:   a.RetryCount,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
	if a.Snapshot != nil {
		b, err := json.Marshal(a.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("failed to encode snapshot: %w", err)
		}
		m.RetrySnapshot = datatypes.JSON(b)
	}
	return m, nil
}

type VendorEventModel struct {
	ID         string         `gorm:"column:id;type:varchar(36);primaryKey"`
	EventType  string         `gorm:"column:event_type;type:varchar(128);not null;default:''"`
	Payload    datatypes.JSON `gorm:"column:payload;not null"`
	ReceivedAt time.Time      `gorm:"column:received_at;not null;index"`
}

func (VendorEventModel) TableName() string {
	return "vendor_events"
}
