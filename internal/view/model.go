// Package view derives what the console shows from the session role and the
// engine snapshot.
package view

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-console/internal/orders"
	"github.com/ariefcatur/go-order-console/internal/reconcile"
	"github.com/ariefcatur/go-order-console/internal/session"
)

const (
	HeadingAdmin    = "All Orders"
	HeadingCustomer = "Your Orders"
	EmptyText       = "No orders found."
)

type Model struct {
	SignedIn      bool     `json:"signed_in"`
	User          string   `json:"user,omitempty"`
	Role          string   `json:"role,omitempty"`
	Heading       string   `json:"heading,omitempty"`
	StatusOptions []string `json:"status_options,omitempty"`
	State         string   `json:"state"`
	Message       string   `json:"message,omitempty"`
	Empty         string   `json:"empty,omitempty"`
	Orders        []Order  `json:"orders"`
}

type Order struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"user_id"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	Items             []Item    `json:"items"`
	Total             string    `json:"total"`
	ShowStatusControl bool      `json:"show_status_control"`
}

type Item struct {
	ProductID int64  `json:"product_id"`
	Title     string `json:"title"`
	Price     string `json:"price"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"line_total"`
	// CanDecrement is false at quantity 1; going lower means removing.
	CanDecrement bool `json:"can_decrement"`
}

// frame is the part of the model that depends only on the session.
type frame struct {
	token    string
	signedIn bool
	user     string
	role     session.Role
	admin    bool
	heading  string
}

func frameFor(s session.Session, ok bool) frame {
	if !ok {
		return frame{}
	}
	f := frame{token: s.Token, signedIn: true, user: s.DisplayName, role: s.Role, admin: s.IsAdmin(), heading: HeadingCustomer}
	if f.admin {
		f.heading = HeadingAdmin
	}
	return f
}

// Build renders a model. Customers get no status control on any order;
// admins get one on every order. Totals are recomputed from the items.
func Build(s session.Session, ok bool, snap reconcile.Snapshot) Model {
	return render(frameFor(s, ok), snap)
}

func render(f frame, snap reconcile.Snapshot) Model {
	m := Model{
		SignedIn: f.signedIn,
		User:     f.user,
		Role:     string(f.role),
		Heading:  f.heading,
		State:    string(snap.State),
		Message:  snap.Message,
		Orders:   []Order{},
	}
	if !f.signedIn {
		return m
	}
	if f.admin {
		for _, st := range orders.AllStatuses() {
			m.StatusOptions = append(m.StatusOptions, string(st))
		}
	}
	for _, o := range snap.Orders {
		m.Orders = append(m.Orders, buildOrder(o, f.admin))
	}
	if snap.Loaded && len(m.Orders) == 0 {
		m.Empty = EmptyText
	}
	return m
}

func buildOrder(o orders.Order, admin bool) Order {
	out := Order{
		ID:                o.ID,
		UserID:            o.UserID,
		Status:            string(o.Status),
		CreatedAt:         o.CreatedAt,
		Items:             make([]Item, 0, len(o.Items)),
		Total:             orders.FormatMoney(o.Total()),
		ShowStatusControl: admin,
	}
	for _, it := range o.Items {
		out.Items = append(out.Items, Item{
			ProductID:    it.Product.ID,
			Title:        it.Product.Title,
			Price:        orders.FormatMoney(it.Product.Price),
			Quantity:     it.Quantity,
			LineTotal:    orders.FormatMoney(it.LineTotal()),
			CanDecrement: it.Quantity > 1,
		})
	}
	return out
}

// Snapshotter is satisfied by *reconcile.Engine.
type Snapshotter interface {
	Snapshot() reconcile.Snapshot
}

// Binder serves models for the current session. The role-derived frame is
// kept between calls and dropped whenever the session changes.
type Binder struct {
	store  *session.Store
	source Snapshotter

	mu     sync.Mutex
	cached *frame
}

func NewBinder(store *session.Store, source Snapshotter) *Binder {
	b := &Binder{store: store, source: source}
	store.Subscribe(func(session.Session, bool) { b.invalidate() })
	return b
}

func (b *Binder) invalidate() {
	b.mu.Lock()
	b.cached = nil
	b.mu.Unlock()
}

// Model renders the current session and snapshot. Get expires a stale
// session, which drops the cached frame through the subscription.
func (b *Binder) Model(ctx context.Context) Model {
	s, ok := b.store.Get(ctx)
	if !ok {
		return render(frame{}, b.source.Snapshot())
	}
	b.mu.Lock()
	f := b.cached
	if f == nil || f.token != s.Token {
		fresh := frameFor(s, ok)
		f = &fresh
		b.cached = f
	}
	b.mu.Unlock()
	return render(*f, b.source.Snapshot())
}
