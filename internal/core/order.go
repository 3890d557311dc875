package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
)

// Order is the inbound webhook payload. Only the fields the relay reads are
// decoded; everything else in the vendor JSON is ignored.
type Order struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	OrderNumber     *int64     `json:"order_number"`
	LineItems       []LineItem `json:"line_items" validate:"required,min=1,dive"`
	Note            string     `json:"note"`
	Customer        *Customer  `json:"customer"`
	ShippingAddress *Address   `json:"shipping_address"`
	Currency        string     `json:"currency"`
	CreatedAt       string     `json:"created_at"`
}

type LineItem struct {
	ID           int64  `json:"id,omitempty"`
	Title        string `json:"title" validate:"required"`
	VariantTitle string `json:"variant_title,omitempty"`
	SKU          string `json:"sku,omitempty"`
	Quantity     int    `json:"quantity" validate:"min=1,max=1000"`
	Price        string `json:"price,omitempty"`
}

type Customer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type Address struct {
	Name     string `json:"name"`
	Address1 string `json:"address1"`
	City     string `json:"city"`
	Zip      string `json:"zip"`
	Country  string `json:"country"`
}

// MaxOrderUnits caps the labels one order may expand into.
const MaxOrderUnits = 5000

var validate = validatorv10.New()

// ParseOrder decodes and validates a webhook body. Every failure wraps
// ErrMalformedOrder so the caller can reject the request before any row exists.
func ParseOrder(body []byte) (*Order, error) {
	var o Order
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOrder, err)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &o, nil
}

func (o *Order) Validate() error {
	if o.Number() == "" {
		return fmt.Errorf("%w: order number is missing", ErrMalformedOrder)
	}
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOrder, err)
	}
	if n := o.Units(); n > MaxOrderUnits {
		return fmt.Errorf("%w: %d units exceeds the limit of %d", ErrMalformedOrder, n, MaxOrderUnits)
	}
	return nil
}

// Number is the display number used as the order key, "#1001" -> "1001".
func (o *Order) Number() string {
	if o.OrderNumber != nil && *o.OrderNumber > 0 {
		return strconv.FormatInt(*o.OrderNumber, 10)
	}
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(o.Name), "#"))
}

func (o *Order) Info() OrderInfo {
	info := OrderInfo{
		OrderID:  o.ID,
		Number:   o.Number(),
		Note:     o.Note,
		Currency: o.Currency,
		PlacedAt: o.CreatedAt,
	}
	if o.Customer != nil {
		info.CustomerName = strings.TrimSpace(o.Customer.FirstName + " " + o.Customer.LastName)
	}
	if o.ShippingAddress != nil {
		info.ShipTo = o.ShippingAddress.Name
	}
	return info
}

// Units is the total label count. Non-positive quantities count as zero.
func (o *Order) Units() int {
	n := 0
	for _, li := range o.LineItems {
		if li.Quantity > 0 {
			n += li.Quantity
		}
	}
	return n
}

// Plan is one unit of expansion, not yet persisted.
type Plan struct {
	AttemptID string
	ItemIndex int
	Unit      int
	Item      LineItem
	Info      OrderInfo
}

// Expand turns an order into one plan per (line item, unit), in line item
// order and then unit order.
func Expand(o *Order) []Plan {
	info := o.Info()
	plans := make([]Plan, 0, o.Units())
	for idx, li := range o.LineItems {
		for unit := 1; unit <= li.Quantity; unit++ {
			plans = append(plans, Plan{
				AttemptID: AttemptID(info.Number, ItemKey(li, idx), unit),
				ItemIndex: idx,
				Unit:      unit,
				Item:      li,
				Info:      info,
			})
		}
	}
	return plans
}

func ItemKey(li LineItem, index int) string {
	if li.ID != 0 {
		return strconv.FormatInt(li.ID, 10)
	}
	return strconv.Itoa(index)
}

func AttemptID(orderNumber, itemKey string, unit int) string {
	return fmt.Sprintf("%s-%s-%d", orderNumber, itemKey, unit)
}

func FormatTitle(orderNumber, title, variant string, unit, quantity int) string {
	name := title
	if variant != "" {
		name = fmt.Sprintf("%s - %s", title, variant)
	}
	return fmt.Sprintf("Order #%s %s (%d/%d)", orderNumber, name, unit, quantity)
}

func (p Plan) Attempt(now time.Time) *Attempt {
	return &Attempt{
		AttemptID: p.AttemptID,
		OrderID:   p.Info.Number,
		Product:   p.Item.Title,
		Variant:   p.Item.VariantTitle,
		SKU:       p.Item.SKU,
		Quantity:  p.Item.Quantity,
		Unit:      p.Unit,
		Price:     p.Item.Price,
		Status:    StatusPending,
		Snapshot:  &Snapshot{Item: p.Item, Order: p.Info},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
