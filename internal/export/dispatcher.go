// Package export downloads order exports and hands them to a deliverer
// under their fixed file names. It never touches the order mirror.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-order-console/internal/audit"
	"github.com/ariefcatur/go-order-console/internal/gateway"
	"github.com/ariefcatur/go-order-console/internal/reconcile"
	"github.com/ariefcatur/go-order-console/internal/session"
)

// Exporter is satisfied by *gateway.Client.
type Exporter interface {
	ExportOrders(ctx context.Context, s session.Session, format gateway.ExportFormat) (gateway.Artifact, error)
}

// Deliverer puts an artifact in front of the user as a named download.
type Deliverer interface {
	Deliver(ctx context.Context, a gateway.Artifact) error
}

type DelivererFunc func(ctx context.Context, a gateway.Artifact) error

func (f DelivererFunc) Deliver(ctx context.Context, a gateway.Artifact) error { return f(ctx, a) }

type Dispatcher struct {
	gw             Exporter
	store          *session.Store
	dst            Deliverer
	sink           audit.Sink
	log            *slog.Logger
	producer       string
	onUnauthorized func()
}

type Option func(*Dispatcher)

func WithSink(s audit.Sink) Option { return func(d *Dispatcher) { d.sink = s } }

func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.log = l } }

func WithProducer(name string) Option { return func(d *Dispatcher) { d.producer = name } }

func WithOnUnauthorized(fn func()) Option { return func(d *Dispatcher) { d.onUnauthorized = fn } }

// New builds a dispatcher delivering to dst by default. dst may be nil when
// every call goes through RequestTo.
func New(gw Exporter, store *session.Store, dst Deliverer, opts ...Option) *Dispatcher {
	d := &Dispatcher{gw: gw, store: store, dst: dst, sink: audit.Nop{}, log: slog.Default(), producer: "order-console"}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Request(ctx context.Context, format gateway.ExportFormat) reconcile.Outcome {
	return d.RequestTo(ctx, format, d.dst)
}

// RequestTo fetches one export and delivers it to dst. A 401 clears the
// session and fires the sign-in hook, the same as any engine action.
func (d *Dispatcher) RequestTo(ctx context.Context, format gateway.ExportFormat, dst Deliverer) reconcile.Outcome {
	start := time.Now()
	s, ok := d.store.Get(ctx)
	if !ok {
		return d.record(ctx, s, format, d.signOut(ctx, s, "not signed in"), start)
	}

	art, err := d.gw.ExportOrders(ctx, s, format)
	switch gateway.KindOf(err) {
	case gateway.KindOK:
	case gateway.KindUnauthorized:
		return d.record(ctx, s, format, d.signOut(ctx, s, gateway.Message(err)), start)
	default:
		d.log.Info("export failed", "format", format, "error", err)
		return d.record(ctx, s, format, reconcile.Outcome{Kind: gateway.KindOf(err), Message: gateway.Message(err)}, start)
	}

	if dst == nil {
		return d.record(ctx, s, format, reconcile.Outcome{Kind: gateway.KindTransportFailed, Message: "no download target"}, start)
	}
	if err := dst.Deliver(ctx, art); err != nil {
		d.log.Error("export delivery failed", "file", art.Filename, "error", err)
		out := reconcile.Outcome{Kind: gateway.KindTransportFailed, Message: fmt.Sprintf("could not save %s", art.Filename)}
		return d.record(ctx, s, format, out, start)
	}
	d.log.Info("export delivered", "file", art.Filename, "bytes", len(art.Data))
	return d.record(ctx, s, format, reconcile.Outcome{Kind: gateway.KindOK}, start)
}

// signOut ends s only while it is still the current session.
func (d *Dispatcher) signOut(ctx context.Context, s session.Session, msg string) reconcile.Outcome {
	if s.Token != "" && !d.store.ClearIf(context.WithoutCancel(ctx), s.Token) {
		d.log.Info("ignoring 401 for a replaced session", "user", s.DisplayName)
		return reconcile.Outcome{Kind: gateway.KindUnauthorized, Message: msg}
	}
	if d.onUnauthorized != nil {
		d.onUnauthorized()
	}
	return reconcile.Outcome{Kind: gateway.KindUnauthorized, Message: msg}
}

func (d *Dispatcher) record(ctx context.Context, s session.Session, format gateway.ExportFormat, out reconcile.Outcome, start time.Time) reconcile.Outcome {
	env, err := audit.NewEnvelope(audit.EventExport, d.producer, audit.Activity{
		Action:     "export",
		UserID:     s.UserID,
		User:       s.DisplayName,
		Role:       string(s.Role),
		Format:     string(format),
		Outcome:    string(out.Kind),
		Message:    out.Message,
		DurationMS: time.Since(start).Milliseconds(),
	})
	if err == nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		err = d.sink.Record(rctx, env)
		cancel()
	}
	if err != nil {
		d.log.Warn("audit record failed", "action", "export", "error", err)
	}
	return out
}
