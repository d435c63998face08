package orders

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func item(id int64, price string, qty int) OrderItem {
	return OrderItem{
		Product:  Product{ID: id, Title: "p", Price: decimal.RequireFromString(price)},
		Quantity: qty,
	}
}

func TestOrderTotal(t *testing.T) {
	testCases := []struct {
		name  string
		items []OrderItem
		want  string
	}{
		{"empty", nil, "0.00"},
		{"single", []OrderItem{item(1, "9.99", 1)}, "9.99"},
		{"quantity", []OrderItem{item(1, "9.99", 2)}, "19.98"},
		{"mixed", []OrderItem{item(1, "0.10", 3), item(2, "12.5", 2)}, "25.30"},
		{"zero quantity", []OrderItem{item(1, "4.00", 0)}, "0.00"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			o := Order{ID: 1, Items: tc.items}
			if got := FormatMoney(o.Total()); got != tc.want {
				t.Errorf("Expected total %s, got %s", tc.want, got)
			}
		})
	}
}

func TestOrderTotalTracksQuantityChanges(t *testing.T) {
	o := Order{ID: 7, Items: []OrderItem{item(1, "3.30", 1), item(2, "1.25", 4)}}

	for _, qty := range []int{1, 2, 5, 3, 1} {
		o.Items[0].Quantity = qty
		want := decimal.RequireFromString("3.30").Mul(decimal.NewFromInt(int64(qty))).
			Add(decimal.RequireFromString("5.00"))
		if !o.Total().Equal(want) {
			t.Errorf("qty=%d: expected %s, got %s", qty, want, o.Total())
		}
	}
}

func TestOrderDecodesServerPayload(t *testing.T) {
	body := `{
		"id": 12, "user_id": 3, "status": "in progress",
		"created_at": "2025-03-01T10:00:00Z",
		"items": [{"product": {"id": 5, "title": "Mascara", "description": "d", "price": 9.99}, "quantity": 2}]
	}`

	var o Order
	if err := json.Unmarshal([]byte(body), &o); err != nil {
		t.Fatalf("Failed to decode order: %v", err)
	}
	if o.Status != StatusInProgress {
		t.Errorf("Expected status %q, got %q", StatusInProgress, o.Status)
	}
	it, ok := o.Item(5)
	if !ok {
		t.Fatal("Expected item for product 5")
	}
	if it.Quantity != 2 || FormatMoney(it.LineTotal()) != "19.98" {
		t.Errorf("Unexpected item %+v", it)
	}
}

func TestOrderDecodesTimestamps(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"rfc3339", `"2025-03-01T10:00:00Z"`, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"offset", `"2025-03-01T12:00:00+02:00"`, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"naive with micros", `"2025-05-01T10:00:00.123456"`, time.Date(2025, 5, 1, 10, 0, 0, 123456000, time.UTC)},
		{"naive", `"2025-05-01T10:00:00"`, time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"space separated", `"2025-05-01 10:00:00.5"`, time.Date(2025, 5, 1, 10, 0, 0, 500000000, time.UTC)},
		{"null", `null`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"id": 1, "user_id": 2, "status": "paid", "created_at": ` + tt.raw + `, "items": []}`
			var o Order
			if err := json.Unmarshal([]byte(body), &o); err != nil {
				t.Fatalf("Failed to decode order: %v", err)
			}
			if !o.CreatedAt.Equal(tt.want) {
				t.Errorf("CreatedAt = %v, want %v", o.CreatedAt, tt.want)
			}
			if o.ID != 1 || o.Status != StatusPaid {
				t.Errorf("Unexpected order %+v", o)
			}
		})
	}

	var o Order
	if err := json.Unmarshal([]byte(`{"id": 1, "created_at": "yesterday"}`), &o); err == nil {
		t.Error("Expected an error for an unreadable timestamp")
	}
}

func TestParseStatus(t *testing.T) {
	testCases := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"in progress", StatusInProgress, false},
		{"in_progress", StatusInProgress, false},
		{"PAID", StatusPaid, false},
		{" delivered ", StatusDelivered, false},
		{"cancelled", StatusCancelled, false},
		{"shipped", "", true},
	}

	for _, tc := range testCases {
		got, err := ParseStatus(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseStatus(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseStatus(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestProductValidate(t *testing.T) {
	if err := (Product{Price: decimal.RequireFromString("-1")}).Validate(); err != ErrNegativePrice {
		t.Errorf("Expected ErrNegativePrice, got %v", err)
	}
	if err := (Product{Price: decimal.Zero}).Validate(); err != nil {
		t.Errorf("Expected zero price to be valid, got %v", err)
	}
}
