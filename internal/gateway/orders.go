package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ariefcatur/go-order-console/internal/orders"
	"github.com/ariefcatur/go-order-console/internal/session"
)

type statusUpdate struct {
	Status orders.Status `json:"status"`
	UserID int64         `json:"user_id"`
}

type itemUpdate struct {
	OrderID   int64 `json:"order_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// ListOrders returns the orders visible to the caller. The server filters
// by identity; customers only get their own.
func (c *Client) ListOrders(ctx context.Context, s session.Session) ([]orders.Order, error) {
	var out []orders.Order
	err := c.do(ctx, s, request{op: "list orders", method: http.MethodGet, path: "/orders/", out: &out})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []orders.Order{}
	}
	return out, nil
}

func (c *Client) ListProducts(ctx context.Context, s session.Session) ([]orders.Product, error) {
	var out []orders.Product
	err := c.do(ctx, s, request{op: "list products", method: http.MethodGet, path: "/products/", out: &out})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrder creates an empty order owned by the caller.
func (c *Client) CreateOrder(ctx context.Context, s session.Session) (orders.Order, error) {
	var out orders.Order
	body := statusUpdate{Status: orders.StatusInProgress, UserID: s.UserID}
	err := c.do(ctx, s, request{op: "create order", method: http.MethodPost, path: "/orders/", body: body, out: &out})
	return out, err
}

func (c *Client) DeleteOrder(ctx context.Context, s session.Session, orderID int64) error {
	return c.do(ctx, s, request{op: "delete order", method: http.MethodDelete, path: orderPath(orderID)})
}

// UpdateOrderStatus sends the new status together with the caller's user
// id, which the service expects in the body.
func (c *Client) UpdateOrderStatus(ctx context.Context, s session.Session, orderID int64, status orders.Status) error {
	if !status.Valid() {
		return &Error{Kind: KindRequestFailed, Op: "update status", Message: fmt.Sprintf("invalid status %q", status)}
	}
	body := statusUpdate{Status: status, UserID: s.UserID}
	return c.do(ctx, s, request{op: "update status", method: http.MethodPut, path: orderPath(orderID), body: body})
}

// SetItemQuantity sets the absolute quantity of a product on an order.
func (c *Client) SetItemQuantity(ctx context.Context, s session.Session, orderID, productID int64, quantity int) error {
	body := itemUpdate{OrderID: orderID, ProductID: productID, Quantity: quantity}
	return c.do(ctx, s, request{op: "set quantity", method: http.MethodPut, path: orderPath(orderID) + "/products/", body: body})
}

func (c *Client) AddProductToOrder(ctx context.Context, s session.Session, orderID, productID int64) error {
	body := itemUpdate{OrderID: orderID, ProductID: productID, Quantity: 1}
	return c.do(ctx, s, request{op: "add product", method: http.MethodPost, path: orderPath(orderID) + "/products/", body: body})
}

func (c *Client) RemoveProductFromOrder(ctx context.Context, s session.Session, orderID, productID int64) error {
	path := fmt.Sprintf("%s/products/%d", orderPath(orderID), productID)
	return c.do(ctx, s, request{op: "remove product", method: http.MethodDelete, path: path})
}

type UserStat struct {
	UserID     int64 `json:"user_id"`
	OrderCount int   `json:"order_count"`
}

type ProductRank struct {
	ProductID     int64 `json:"product_id"`
	TotalQuantity int   `json:"total_quantity"`
	Rank          int   `json:"rank"`
}

// UserStats is admin only; customers get a 403 surfaced as RequestFailed.
func (c *Client) UserStats(ctx context.Context, s session.Session) ([]UserStat, error) {
	var out []UserStat
	err := c.do(ctx, s, request{op: "user stats", method: http.MethodGet, path: "/stats/by-user", out: &out})
	return out, err
}

func (c *Client) ProductRanking(ctx context.Context, s session.Session) ([]ProductRank, error) {
	var out []ProductRank
	err := c.do(ctx, s, request{op: "product ranking", method: http.MethodGet, path: "/stats/product-rank", out: &out})
	return out, err
}
