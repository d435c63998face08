package orders

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNegativePrice = errors.New("product price must not be negative")

type Product struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
}

func (p Product) Validate() error {
	if p.Price.IsNegative() {
		return ErrNegativePrice
	}
	return nil
}

// OrderItem embeds the product snapshot the server returned with the order.
type OrderItem struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

func (it OrderItem) LineTotal() decimal.Decimal {
	return it.Product.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

type Order struct {
	ID        int64       `json:"id"`
	UserID    int64       `json:"user_id"`
	Status    Status      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	Items     []OrderItem `json:"items"`
}

// naiveLayouts are the timestamp shapes the orders service writes for
// columns stored without a zone. They are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON accepts created_at with or without a zone offset.
func (o *Order) UnmarshalJSON(b []byte) error {
	type plain Order
	aux := struct {
		*plain
		CreatedAt string `json:"created_at"`
	}{plain: (*plain)(o)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	t, err := parseTimestamp(aux.CreatedAt)
	if err != nil {
		return err
	}
	o.CreatedAt = t
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("created_at: unrecognised timestamp %q", s)
}

// Total is recomputed from the items on every call; the order carries no
// stored total.
func (o Order) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

// Item finds the line for productID.
func (o Order) Item(productID int64) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.Product.ID == productID {
			return it, true
		}
	}
	return OrderItem{}, false
}

// FormatMoney renders an amount with two decimals, e.g. "0.00".
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Find returns the order with id from list.
func Find(list []Order, id int64) (Order, bool) {
	for _, o := range list {
		if o.ID == id {
			return o, true
		}
	}
	return Order{}, false
}
