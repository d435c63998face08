package reconcile

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ariefcatur/go-order-console/internal/audit"
	"github.com/ariefcatur/go-order-console/internal/gateway"
	"github.com/ariefcatur/go-order-console/internal/orders"
	"github.com/ariefcatur/go-order-console/internal/session"
	"github.com/shopspring/decimal"
)

var (
	errUnauthorized = &gateway.Error{Kind: gateway.KindUnauthorized, Status: 401, Message: "Invalid or expired token"}
	errBadRequest   = &gateway.Error{Kind: gateway.KindRequestFailed, Status: 400, Message: "Invalid order status"}
	errDown         = &gateway.Error{Kind: gateway.KindTransportFailed, Message: "could not reach the orders service"}
)

// fakeGateway records calls and answers from per-operation errors and a
// listing function.
type fakeGateway struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
	list  func(n int) ([]orders.Order, error)
	lists int
}

func newFakeGateway(list ...orders.Order) *fakeGateway {
	return &fakeGateway{
		errs: map[string]error{},
		list: func(int) ([]orders.Order, error) { return list, nil },
	}
}

func (f *fakeGateway) call(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.errs[op]
}

func (f *fakeGateway) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeGateway) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeGateway) ListOrders(context.Context, session.Session) ([]orders.Order, error) {
	if err := f.call("list"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	n := f.lists
	f.lists++
	f.mu.Unlock()
	return f.list(n)
}

func (f *fakeGateway) ListProducts(context.Context, session.Session) ([]orders.Product, error) {
	return []orders.Product{{ID: 1, Title: "p", Price: decimal.NewFromInt(2)}}, f.call("products")
}

func (f *fakeGateway) CreateOrder(context.Context, session.Session) (orders.Order, error) {
	return orders.Order{}, f.call("create")
}

func (f *fakeGateway) DeleteOrder(context.Context, session.Session, int64) error {
	return f.call("delete")
}

func (f *fakeGateway) UpdateOrderStatus(context.Context, session.Session, int64, orders.Status) error {
	return f.call("status")
}

func (f *fakeGateway) SetItemQuantity(_ context.Context, _ session.Session, _, _ int64, q int) error {
	return f.call("set")
}

func (f *fakeGateway) AddProductToOrder(context.Context, session.Session, int64, int64) error {
	return f.call("add")
}

func (f *fakeGateway) RemoveProductFromOrder(context.Context, session.Session, int64, int64) error {
	return f.call("remove")
}

func (f *fakeGateway) UserStats(context.Context, session.Session) ([]gateway.UserStat, error) {
	return nil, f.call("stats")
}

func (f *fakeGateway) ProductRanking(context.Context, session.Session) ([]gateway.ProductRank, error) {
	return nil, f.call("rank")
}

type recordingSink struct {
	mu  sync.Mutex
	got []audit.Envelope
}

func (r *recordingSink) Record(_ context.Context, env audit.Envelope) error {
	r.mu.Lock()
	r.got = append(r.got, env)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) actions(t *testing.T) []string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, env := range r.got {
		a, err := env.Activity()
		if err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		out = append(out, env.EventType+":"+a.Action)
	}
	return out
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newEngine(t *testing.T, gw Gateway, opts ...Option) (*Engine, *session.Store) {
	t.Helper()
	store := session.NewStore(nil, session.WithLogger(quiet()))
	if err := store.Establish(context.Background(), session.Session{Token: "tok", UserID: 2, Role: session.RoleCustomer, DisplayName: "ana"}); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}
	e := New(gw, store, append([]Option{WithLogger(quiet())}, opts...)...)
	t.Cleanup(e.Close)
	return e, store
}

func orderWith(id int64, qty int) orders.Order {
	return orders.Order{ID: id, Status: orders.StatusInProgress, Items: []orders.OrderItem{
		{Product: orders.Product{ID: 10, Title: "p", Price: decimal.RequireFromString("2.50")}, Quantity: qty},
	}}
}

// mutations lists every mutating action so each can be checked for the
// same refetch and unauthorized behaviour.
func mutations(e *Engine) map[string]func(context.Context) Outcome {
	return map[string]func(context.Context) Outcome{
		"create": e.CreateOrder,
		"delete": func(ctx context.Context) Outcome { return e.DeleteOrder(ctx, 1) },
		"status": func(ctx context.Context) Outcome { return e.UpdateStatus(ctx, 1, orders.StatusPaid) },
		"set":    func(ctx context.Context) Outcome { return e.SetQuantity(ctx, 1, 10, 5) },
		"add":    func(ctx context.Context) Outcome { return e.AddProduct(ctx, 1, 11) },
		"remove": func(ctx context.Context) Outcome { return e.RemoveProduct(ctx, 1, 10) },
	}
}

func TestMutationRefetchesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	for _, failing := range []bool{false, true} {
		gw := newFakeGateway(orderWith(1, 2))
		e, _ := newEngine(t, gw)
		for op, act := range mutations(e) {
			before := gw.count("list")
			if failing {
				gw.errs[op] = errBadRequest
			}
			out := act(ctx)
			if got := gw.count("list") - before; got != 1 {
				t.Errorf("%s (failing=%v): expected 1 refetch, got %d", op, failing, got)
			}
			snap := e.Snapshot()
			if snap.State != StateIdle || snap.InFlight != 0 {
				t.Errorf("%s: expected idle, got %+v", op, snap)
			}
			if failing {
				if out.Kind != gateway.KindRequestFailed || snap.Message != errBadRequest.Message {
					t.Errorf("%s: expected request failure surfaced, got %+v / %q", op, out, snap.Message)
				}
			} else if !out.OK() || snap.Message != "" {
				t.Errorf("%s: expected ok, got %+v / %q", op, out, snap.Message)
			}
			if len(snap.Orders) != 1 {
				t.Errorf("%s: expected mirror from refetch, got %+v", op, snap.Orders)
			}
		}
	}
}

func TestUnauthorizedClearsSessionForEveryAction(t *testing.T) {
	ctx := context.Background()
	for _, op := range []string{"create", "delete", "status", "set", "add", "remove"} {
		t.Run(op, func(t *testing.T) {
			gw := newFakeGateway(orderWith(1, 2))
			var redirects atomic.Int32
			e, store := newEngine(t, gw, WithOnUnauthorized(func() { redirects.Add(1) }))
			if out := e.Refresh(ctx); !out.OK() {
				t.Fatalf("Refresh failed: %+v", out)
			}
			gw.errs[op] = errUnauthorized
			lists := gw.count("list")

			out := mutations(e)[op](ctx)
			if !out.Unauthorized() {
				t.Fatalf("Expected unauthorized, got %+v", out)
			}
			if gw.count("list") != lists {
				t.Error("Expected no refetch after unauthorized")
			}
			if _, ok := store.Get(ctx); ok {
				t.Error("Expected session to be cleared")
			}
			if redirects.Load() != 1 {
				t.Errorf("Expected one redirect, got %d", redirects.Load())
			}
			snap := e.Snapshot()
			if snap.Orders != nil || snap.InFlight != 0 || snap.Message != msgSessionExpired {
				t.Errorf("Unexpected snapshot after sign-out %+v", snap)
			}

			calls := gw.total()
			for _, act := range mutations(e) {
				if out := act(ctx); !out.Unauthorized() {
					t.Errorf("Expected unauthorized without session, got %+v", out)
				}
			}
			if gw.total() != calls {
				t.Errorf("Expected no gateway calls without a session, got %d", gw.total()-calls)
			}
		})
	}
}

func TestRefetchUnauthorized(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.errs["list"] = errUnauthorized
	e, store := newEngine(t, gw)

	if out := e.DeleteOrder(ctx, 1); !out.Unauthorized() {
		t.Fatalf("Expected unauthorized, got %+v", out)
	}
	if _, ok := store.Get(ctx); ok {
		t.Error("Expected session to be cleared")
	}
}

func TestListFailureKeepsMirror(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.list = func(n int) ([]orders.Order, error) {
		if n == 0 {
			return []orders.Order{orderWith(1, 3)}, nil
		}
		return nil, errDown
	}
	e, _ := newEngine(t, gw)

	if out := e.Refresh(ctx); !out.OK() {
		t.Fatalf("Refresh failed: %+v", out)
	}
	out := e.SetQuantity(ctx, 1, 10, 4)
	if out.Kind != gateway.KindTransportFailed {
		t.Errorf("Expected transport failure, got %+v", out)
	}
	snap := e.Snapshot()
	if snap.State != StateError || snap.Message != errDown.Message {
		t.Errorf("Expected error state, got %+v", snap)
	}
	if len(snap.Orders) != 1 || snap.Orders[0].Items[0].Quantity != 3 {
		t.Errorf("Expected previous mirror to stay, got %+v", snap.Orders)
	}

	// the next successful action clears the error
	gw.list = func(int) ([]orders.Order, error) { return []orders.Order{orderWith(1, 4)}, nil }
	if out := e.Refresh(ctx); !out.OK() {
		t.Fatalf("Refresh failed: %+v", out)
	}
	if snap := e.Snapshot(); snap.State != StateIdle || snap.Message != "" {
		t.Errorf("Expected idle with no message, got %+v", snap)
	}
}

func TestDecrementFloor(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway(orderWith(1, 1))
	e, _ := newEngine(t, gw)
	e.Refresh(ctx)

	calls := gw.total()
	out := e.Decrement(ctx, 1, 10)
	if out.Kind != KindSkipped {
		t.Errorf("Expected skipped decrement at quantity 1, got %+v", out)
	}
	if out := e.SetQuantity(ctx, 1, 10, 0); out.Kind != KindSkipped {
		t.Errorf("Expected skipped quantity 0, got %+v", out)
	}
	if out := e.Decrement(ctx, 1, 99); out.Kind != KindSkipped {
		t.Errorf("Expected skipped decrement of unknown product, got %+v", out)
	}
	if gw.total() != calls {
		t.Errorf("Expected no calls, got %d", gw.total()-calls)
	}

	gw.list = func(int) ([]orders.Order, error) { return []orders.Order{orderWith(1, 2)}, nil }
	e.Refresh(ctx)
	if out := e.Decrement(ctx, 1, 10); !out.OK() {
		t.Errorf("Expected decrement from 2 to be sent, got %+v", out)
	}
	if gw.count("set") != 1 {
		t.Errorf("Expected one set call, got %d", gw.count("set"))
	}
}

func TestIncrementAddsMissingProduct(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway(orderWith(1, 1))
	e, _ := newEngine(t, gw)
	e.Refresh(ctx)

	e.Increment(ctx, 1, 10)
	e.Increment(ctx, 1, 77)
	if gw.count("set") != 1 || gw.count("add") != 1 {
		t.Errorf("Expected one set and one add, got calls %v", gw.calls)
	}
}

func TestReadsDoNotRefetch(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	e, store := newEngine(t, gw)

	products, out := e.Products(ctx)
	if !out.OK() || len(products) != 1 {
		t.Errorf("Products = %v, %+v", products, out)
	}
	if gw.count("list") != 0 {
		t.Error("Expected no order listing for a catalog read")
	}

	gw.errs["stats"] = errUnauthorized
	if _, out := e.UserStats(ctx); !out.Unauthorized() {
		t.Errorf("Expected unauthorized stats, got %+v", out)
	}
	if _, ok := store.Get(ctx); ok {
		t.Error("Expected session cleared by unauthorized read")
	}
}

func TestCloseStopsActions(t *testing.T) {
	gw := newFakeGateway()
	e, _ := newEngine(t, gw)
	e.Close()

	out := e.CreateOrder(context.Background())
	if out.Kind != gateway.KindTransportFailed || out.Message != msgClosed {
		t.Errorf("Expected closed outcome, got %+v", out)
	}
	if gw.total() != 0 {
		t.Errorf("Expected no gateway calls, got %v", gw.calls)
	}
}

// blockingGateway holds each listing until released, so tests can choose
// the order refetches land in.
type blockingGateway struct {
	*fakeGateway
	started chan int
	release []chan struct{}
}

func (b *blockingGateway) ListOrders(ctx context.Context, s session.Session) ([]orders.Order, error) {
	b.mu.Lock()
	n := b.lists
	b.lists++
	b.mu.Unlock()
	b.started <- n
	<-b.release[n]
	return []orders.Order{orderWith(1, n+1)}, nil
}

func TestLastRefetchWins(t *testing.T) {
	ctx := context.Background()
	gw := &blockingGateway{
		fakeGateway: newFakeGateway(),
		started:     make(chan int, 2),
		release:     []chan struct{}{make(chan struct{}), make(chan struct{})},
	}
	e, _ := newEngine(t, gw)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); e.SetQuantity(ctx, 1, 10, 5) }()
	<-gw.started
	wg.Add(1)
	go func() { defer wg.Done(); e.SetQuantity(ctx, 1, 10, 6) }()
	<-gw.started

	if snap := e.Snapshot(); snap.State != StateLoading || snap.InFlight != 2 {
		t.Errorf("Expected two actions in flight, got %+v", snap)
	}

	// second refetch lands first, first refetch lands last
	close(gw.release[1])
	for e.Snapshot().InFlight != 1 {
		runtime.Gosched()
	}
	close(gw.release[0])
	wg.Wait()

	snap := e.Snapshot()
	if snap.State != StateIdle {
		t.Errorf("Expected idle, got %s", snap.State)
	}
	if q := snap.Orders[0].Items[0].Quantity; q != 1 {
		t.Errorf("Expected mirror from the last landed refetch (quantity 1), got %d", q)
	}
}

func TestActionsAreAudited(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	e, store := newEngine(t, newFakeGateway(orderWith(1, 1)), WithSink(sink))

	e.Refresh(ctx)
	e.CreateOrder(ctx)
	e.Decrement(ctx, 1, 10)
	store.Clear(ctx)

	want := []string{
		audit.EventOrderAction + ":refresh",
		audit.EventOrderAction + ":create_order",
		audit.EventOrderAction + ":decrement",
		audit.EventSessionEnded + ":session_ended",
	}
	got := sink.actions(t)
	if len(got) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	ended, _ := sink.got[3].Activity()
	if ended.User != "ana" || ended.UserID != 2 {
		t.Errorf("Expected the ended session's user, got %+v", ended)
	}
}

// slowDelete answers DeleteOrder with a 401 once released.
type slowDelete struct {
	*fakeGateway
	started chan struct{}
	release chan struct{}
}

func (g *slowDelete) DeleteOrder(context.Context, session.Session, int64) error {
	close(g.started)
	<-g.release
	return errUnauthorized
}

func TestStaleUnauthorizedKeepsNewSession(t *testing.T) {
	ctx := context.Background()
	gw := &slowDelete{fakeGateway: newFakeGateway(), started: make(chan struct{}), release: make(chan struct{})}
	var redirects atomic.Int32
	e, store := newEngine(t, gw, WithOnUnauthorized(func() { redirects.Add(1) }))

	done := make(chan Outcome, 1)
	go func() { done <- e.DeleteOrder(ctx, 1) }()
	<-gw.started

	// ana signs out and bob signs in while ana's delete is still pending
	store.Clear(ctx)
	bob := session.Session{Token: "bob-token", UserID: 3, Role: session.RoleAdmin, DisplayName: "bob"}
	if err := store.Establish(ctx, bob); err != nil {
		t.Fatal(err)
	}
	close(gw.release)

	if out := <-done; !out.Unauthorized() {
		t.Errorf("Expected the old action to report unauthorized, got %+v", out)
	}
	s, ok := store.Get(ctx)
	if !ok || s.Token != "bob-token" {
		t.Fatalf("Expected bob's session to survive a 401 for ana's token, got %+v %v", s, ok)
	}
	if redirects.Load() != 0 {
		t.Errorf("Expected no redirect, got %d", redirects.Load())
	}
	if snap := e.Snapshot(); snap.Message != "" || snap.InFlight != 0 {
		t.Errorf("Expected bob's view untouched, got %+v", snap)
	}
	if gw.count("list") != 0 {
		t.Error("Expected no refetch after the 401")
	}
}

func TestReadsReplaceMessage(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	e, store := newEngine(t, gw)

	gw.errs["stats"] = errBadRequest
	if _, out := e.UserStats(ctx); out.Kind != gateway.KindRequestFailed {
		t.Fatalf("Expected request failure, got %+v", out)
	}
	if msg := e.Snapshot().Message; msg != errBadRequest.Message {
		t.Errorf("Message = %q, want %q", msg, errBadRequest.Message)
	}
	if _, out := e.Products(ctx); !out.OK() {
		t.Fatalf("Products failed: %+v", out)
	}
	if msg := e.Snapshot().Message; msg != "" {
		t.Errorf("Expected the successful read to clear the message, got %q", msg)
	}

	store.Clear(ctx)
	if _, out := e.Products(ctx); !out.Unauthorized() {
		t.Fatalf("Expected unauthorized, got %+v", out)
	}
	if msg := e.Snapshot().Message; msg != msgNotSignedIn {
		t.Errorf("Message = %q, want %q", msg, msgNotSignedIn)
	}
}
