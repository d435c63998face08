package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-console/internal/gateway"
	"github.com/ariefcatur/go-order-console/internal/orders"
	"github.com/ariefcatur/go-order-console/internal/session"
)

// Refresh re-reads the order list.
func (e *Engine) Refresh(ctx context.Context) Outcome {
	return e.mutate(ctx, action{name: "refresh"}, nil)
}

func (e *Engine) CreateOrder(ctx context.Context) Outcome {
	return e.mutate(ctx, action{name: "create_order"}, func(ctx context.Context, s session.Session) error {
		_, err := e.gw.CreateOrder(ctx, s)
		return err
	})
}

func (e *Engine) DeleteOrder(ctx context.Context, orderID int64) Outcome {
	return e.mutate(ctx, action{name: "delete_order", orderID: orderID}, func(ctx context.Context, s session.Session) error {
		return e.gw.DeleteOrder(ctx, s, orderID)
	})
}

func (e *Engine) UpdateStatus(ctx context.Context, orderID int64, status orders.Status) Outcome {
	a := action{name: "update_status", orderID: orderID, status: status}
	if !status.Valid() {
		return e.skip(ctx, a, fmt.Sprintf("unknown status %q", status))
	}
	return e.mutate(ctx, a, func(ctx context.Context, s session.Session) error {
		return e.gw.UpdateOrderStatus(ctx, s, orderID, status)
	})
}

// SetQuantity sends an absolute quantity. Quantities below 1 are not sent;
// removing a product is its own action.
func (e *Engine) SetQuantity(ctx context.Context, orderID, productID int64, quantity int) Outcome {
	return e.setQuantity(ctx, action{name: "set_quantity", orderID: orderID, productID: productID, quantity: quantity})
}

func (e *Engine) setQuantity(ctx context.Context, a action) Outcome {
	if a.quantity < 1 {
		return e.skip(ctx, a, "quantity cannot go below 1; remove the product instead")
	}
	return e.mutate(ctx, a, func(ctx context.Context, s session.Session) error {
		return e.gw.SetItemQuantity(ctx, s, a.orderID, a.productID, a.quantity)
	})
}

// Increment raises the quantity shown in the mirror by one. A product not
// yet on the order is added.
func (e *Engine) Increment(ctx context.Context, orderID, productID int64) Outcome {
	it, ok := e.mirrorItem(orderID, productID)
	if !ok {
		return e.AddProduct(ctx, orderID, productID)
	}
	return e.setQuantity(ctx, action{name: "increment", orderID: orderID, productID: productID, quantity: it.Quantity + 1})
}

// Decrement lowers the quantity shown in the mirror by one, never below 1.
func (e *Engine) Decrement(ctx context.Context, orderID, productID int64) Outcome {
	a := action{name: "decrement", orderID: orderID, productID: productID}
	it, ok := e.mirrorItem(orderID, productID)
	if !ok {
		return e.skip(ctx, a, fmt.Sprintf("product %d is not on order %d", productID, orderID))
	}
	a.quantity = it.Quantity - 1
	return e.setQuantity(ctx, a)
}

func (e *Engine) AddProduct(ctx context.Context, orderID, productID int64) Outcome {
	a := action{name: "add_product", orderID: orderID, productID: productID, quantity: 1}
	return e.mutate(ctx, a, func(ctx context.Context, s session.Session) error {
		return e.gw.AddProductToOrder(ctx, s, orderID, productID)
	})
}

func (e *Engine) RemoveProduct(ctx context.Context, orderID, productID int64) Outcome {
	a := action{name: "remove_product", orderID: orderID, productID: productID}
	return e.mutate(ctx, a, func(ctx context.Context, s session.Session) error {
		return e.gw.RemoveProductFromOrder(ctx, s, orderID, productID)
	})
}

// Products lists the catalog for the add-product picker. It does not touch
// the mirror.
func (e *Engine) Products(ctx context.Context) ([]orders.Product, Outcome) {
	var out []orders.Product
	res := e.read(ctx, action{name: "list_products"}, func(ctx context.Context, s session.Session) error {
		var err error
		out, err = e.gw.ListProducts(ctx, s)
		return err
	})
	return out, res
}

func (e *Engine) UserStats(ctx context.Context) ([]gateway.UserStat, Outcome) {
	var out []gateway.UserStat
	res := e.read(ctx, action{name: "user_stats"}, func(ctx context.Context, s session.Session) error {
		var err error
		out, err = e.gw.UserStats(ctx, s)
		return err
	})
	return out, res
}

func (e *Engine) ProductRanking(ctx context.Context) ([]gateway.ProductRank, Outcome) {
	var out []gateway.ProductRank
	res := e.read(ctx, action{name: "product_ranking"}, func(ctx context.Context, s session.Session) error {
		var err error
		out, err = e.gw.ProductRanking(ctx, s)
		return err
	})
	return out, res
}

func (e *Engine) mirrorItem(orderID, productID int64) (orders.OrderItem, bool) {
	o, ok := orders.Find(e.Snapshot().Orders, orderID)
	if !ok {
		return orders.OrderItem{}, false
	}
	return o.Item(productID)
}

func (e *Engine) skip(ctx context.Context, a action, msg string) Outcome {
	s, _ := e.store.Get(ctx)
	e.setMessage(msg)
	return e.record(ctx, a, s, skipped(msg), time.Now())
}
