// Package reconcile keeps the console's mirror of the server's orders.
//
// Every mutation is sent as is and followed by a full listing: the engine
// never patches the mirror locally, it replaces it with whatever the
// server returns. A 401 from any call ends the session through the
// session store and stops the cycle for that action.
//
// Actions may overlap. Their refetches land in any order and the mirror
// shows whichever arrived last.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ariefcatur/go-order-console/internal/audit"
	"github.com/ariefcatur/go-order-console/internal/gateway"
	"github.com/ariefcatur/go-order-console/internal/orders"
	"github.com/ariefcatur/go-order-console/internal/session"
)

// Gateway is the subset of *gateway.Client the engine drives.
type Gateway interface {
	ListOrders(ctx context.Context, s session.Session) ([]orders.Order, error)
	ListProducts(ctx context.Context, s session.Session) ([]orders.Product, error)
	CreateOrder(ctx context.Context, s session.Session) (orders.Order, error)
	DeleteOrder(ctx context.Context, s session.Session, orderID int64) error
	UpdateOrderStatus(ctx context.Context, s session.Session, orderID int64, status orders.Status) error
	SetItemQuantity(ctx context.Context, s session.Session, orderID, productID int64, quantity int) error
	AddProductToOrder(ctx context.Context, s session.Session, orderID, productID int64) error
	RemoveProductFromOrder(ctx context.Context, s session.Session, orderID, productID int64) error
	UserStats(ctx context.Context, s session.Session) ([]gateway.UserStat, error)
	ProductRanking(ctx context.Context, s session.Session) ([]gateway.ProductRank, error)
}

const (
	msgSessionExpired = "session expired, please sign in again"
	msgNotSignedIn    = "not signed in"
	msgClosed         = "console closed"
)

type Engine struct {
	gw             Gateway
	store          *session.Store
	sink           audit.Sink
	log            *slog.Logger
	producer       string
	onUnauthorized func()

	ctx    context.Context
	cancel context.CancelFunc

	snap atomic.Pointer[Snapshot]

	// mu serializes snapshot transitions; readers use snap without it.
	mu     sync.Mutex
	epoch  uint64
	failed bool
	// holder is the session the mirror belongs to.
	holder *session.Session
}

type Option func(*Engine)

func WithSink(s audit.Sink) Option { return func(e *Engine) { e.sink = s } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

func WithProducer(name string) Option { return func(e *Engine) { e.producer = name } }

// WithOnUnauthorized registers the redirect to sign-in. It runs after the
// session has been cleared.
func WithOnUnauthorized(fn func()) Option { return func(e *Engine) { e.onUnauthorized = fn } }

func New(gw Gateway, store *session.Store, opts ...Option) *Engine {
	e := &Engine{
		gw:       gw,
		store:    store,
		sink:     audit.Nop{},
		log:      slog.Default(),
		producer: "order-console",
	}
	for _, o := range opts {
		o(e)
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.snap.Store(&Snapshot{State: StateIdle})
	store.Subscribe(e.sessionChanged)
	return e
}

// Snapshot returns the current state and mirror.
func (e *Engine) Snapshot() Snapshot { return *e.snap.Load() }

// Close cancels in-flight requests and drops their results. Later actions
// fail without reaching the gateway.
func (e *Engine) Close() { e.cancel() }

// sessionChanged drops the mirror whenever the session changes hands and
// records the end of the previous session.
func (e *Engine) sessionChanged(s session.Session, ok bool) {
	e.mu.Lock()
	ended := e.holder
	e.holder = nil
	if ok {
		e.holder = &s
	}
	e.reset()
	e.mu.Unlock()

	if ended != nil && ended.Token != s.Token {
		e.emit(context.Background(), audit.EventSessionEnded, action{name: "session_ended"}, *ended, Outcome{Kind: gateway.KindOK}, time.Now())
	}
}

// reset drops the mirror. Caller holds mu.
func (e *Engine) reset() {
	e.epoch++
	e.failed = false
	next := *e.snap.Load()
	next.Orders = nil
	next.Loaded = false
	next.Message = ""
	next.State = StateIdle
	if next.InFlight > 0 {
		next.State = StateLoading
	}
	e.snap.Store(&next)
}

func (e *Engine) begin() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := *e.snap.Load()
	next.InFlight++
	next.State = StateLoading
	e.snap.Store(&next)
	return e.epoch
}

// complete ends an action whose refetch ran. A successful listing replaces
// the mirror wholesale; a failed one keeps the previous mirror.
func (e *Engine) complete(epoch uint64, list []orders.Order, listErr error, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := *e.snap.Load()
	next.InFlight--
	if epoch == e.epoch && e.ctx.Err() == nil {
		if listErr == nil {
			next.Orders = list
			next.Loaded = true
			e.failed = false
		} else {
			e.failed = true
		}
		next.Message = msg
	}
	next.State = e.settled(next.InFlight)
	e.snap.Store(&next)
}

// release ends an action that stopped before its refetch. show is false
// when the outcome belongs to a session that is no longer current.
func (e *Engine) release(msg string, show bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := *e.snap.Load()
	next.InFlight--
	if show {
		next.Message = msg
	}
	next.State = e.settled(next.InFlight)
	e.snap.Store(&next)
}

func (e *Engine) settled(inFlight int) State {
	switch {
	case inFlight > 0:
		return StateLoading
	case e.failed:
		return StateError
	}
	return StateIdle
}

func (e *Engine) setMessage(msg string) {
	e.mu.Lock()
	next := *e.snap.Load()
	next.Message = msg
	e.snap.Store(&next)
	e.mu.Unlock()
}

// signOut is the one unauthorized path for every action. It ends s only
// while s is still the current session; a 401 for an earlier login leaves
// the newer one alone and reports false.
func (e *Engine) signOut(ctx context.Context, s session.Session, msg string) (Outcome, bool) {
	out := Outcome{Kind: gateway.KindUnauthorized, Message: msg}
	if s.Token != "" && !e.store.ClearIf(context.WithoutCancel(ctx), s.Token) {
		e.log.Info("ignoring 401 for a replaced session", "user", s.DisplayName)
		return out, false
	}
	if e.onUnauthorized != nil {
		e.onUnauthorized()
	}
	return out, true
}

// scope ties a call to both the caller's context and the engine lifetime.
func (e *Engine) scope(ctx context.Context) (context.Context, func(), bool) {
	if e.ctx.Err() != nil {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.ctx, cancel)
	return ctx, func() { stop(); cancel() }, true
}

type action struct {
	name      string
	orderID   int64
	productID int64
	quantity  int
	status    orders.Status
}

// mutate runs call (nil for a plain refresh) and then exactly one listing,
// unless the call came back unauthorized.
func (e *Engine) mutate(ctx context.Context, a action, call func(context.Context, session.Session) error) Outcome {
	start := time.Now()
	s, ok := e.store.Get(ctx)
	if !ok {
		out, _ := e.signOut(ctx, s, msgNotSignedIn)
		e.setMessage(out.Message)
		return e.record(ctx, a, s, out, start)
	}
	e.adopt(s)
	ctx, done, ok := e.scope(ctx)
	if !ok {
		return e.record(context.Background(), a, s, Outcome{Kind: gateway.KindTransportFailed, Message: msgClosed}, start)
	}
	defer done()

	epoch := e.begin()
	result := Outcome{Kind: gateway.KindOK}
	if call != nil {
		err := call(ctx, s)
		if gateway.KindOf(err) == gateway.KindUnauthorized {
			out, current := e.signOut(ctx, s, msgSessionExpired)
			e.release(out.Message, current)
			return e.record(ctx, a, s, out, start)
		}
		if err != nil {
			e.log.Info("action failed", "action", a.name, "order_id", a.orderID, "error", err)
			result = outcomeOf(err)
		}
	}

	list, err := e.gw.ListOrders(ctx, s)
	if gateway.KindOf(err) == gateway.KindUnauthorized {
		out, current := e.signOut(ctx, s, msgSessionExpired)
		e.release(out.Message, current)
		return e.record(ctx, a, s, out, start)
	}
	if err != nil {
		e.log.Warn("refetch failed", "action", a.name, "error", err)
		if result.OK() {
			result = outcomeOf(err)
		}
	}
	e.complete(epoch, list, err, result.Message)
	return e.record(ctx, a, s, result, start)
}

// read runs a non-mutating call outside the refetch cycle. Its outcome
// still replaces the displayed message.
func (e *Engine) read(ctx context.Context, a action, call func(context.Context, session.Session) error) Outcome {
	start := time.Now()
	s, ok := e.store.Get(ctx)
	if !ok {
		out, _ := e.signOut(ctx, s, msgNotSignedIn)
		e.setMessage(out.Message)
		return e.record(ctx, a, s, out, start)
	}
	e.adopt(s)
	ctx, done, ok := e.scope(ctx)
	if !ok {
		return e.record(context.Background(), a, s, Outcome{Kind: gateway.KindTransportFailed, Message: msgClosed}, start)
	}
	defer done()

	err := call(ctx, s)
	if gateway.KindOf(err) == gateway.KindUnauthorized {
		out, current := e.signOut(ctx, s, msgSessionExpired)
		if current {
			e.setMessage(out.Message)
		}
		return e.record(ctx, a, s, out, start)
	}
	out := outcomeOf(err)
	if e.ownedBy(ctx, s) {
		e.setMessage(out.Message)
	}
	return e.record(ctx, a, s, out, start)
}

// ownedBy reports whether s is still the current session.
func (e *Engine) ownedBy(ctx context.Context, s session.Session) bool {
	cur, ok := e.store.Get(ctx)
	return ok && cur.Token == s.Token
}

// adopt remembers a session that was established before the engine
// subscribed, so its end is still recorded.
func (e *Engine) adopt(s session.Session) {
	e.mu.Lock()
	if e.holder == nil {
		e.holder = &s
	}
	e.mu.Unlock()
}

func (e *Engine) record(ctx context.Context, a action, s session.Session, out Outcome, start time.Time) Outcome {
	e.emit(ctx, audit.EventOrderAction, a, s, out, start)
	return out
}

func (e *Engine) emit(ctx context.Context, eventType string, a action, s session.Session, out Outcome, start time.Time) {
	env, err := audit.NewEnvelope(eventType, e.producer, audit.Activity{
		Action:     a.name,
		UserID:     s.UserID,
		User:       s.DisplayName,
		Role:       string(s.Role),
		OrderID:    a.orderID,
		ProductID:  a.productID,
		Quantity:   a.quantity,
		Status:     string(a.status),
		Outcome:    string(out.Kind),
		Message:    out.Message,
		DurationMS: time.Since(start).Milliseconds(),
	})
	if err == nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		err = e.sink.Record(rctx, env)
		cancel()
	}
	if err != nil {
		e.log.Warn("audit record failed", "action", a.name, "error", err)
	}
}
