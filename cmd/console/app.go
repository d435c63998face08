package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-console/internal/audit"
	"github.com/ariefcatur/go-order-console/internal/config"
	"github.com/ariefcatur/go-order-console/internal/export"
	"github.com/ariefcatur/go-order-console/internal/fakeapi"
	"github.com/ariefcatur/go-order-console/internal/gateway"
	kafkax "github.com/ariefcatur/go-order-console/internal/kafka"
	"github.com/ariefcatur/go-order-console/internal/orders"
	"github.com/ariefcatur/go-order-console/internal/postgres"
	"github.com/ariefcatur/go-order-console/internal/reconcile"
	"github.com/ariefcatur/go-order-console/internal/redisx"
	"github.com/ariefcatur/go-order-console/internal/session"
	"github.com/ariefcatur/go-order-console/internal/view"
)

// app is everything one console invocation needs, built from config.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	gw      *gateway.Client
	store   *session.Store
	engine  *reconcile.Engine
	exports *export.Dispatcher
	dir     export.DirDeliverer
	view    *view.Binder

	closers []func()
}

type appOptions struct {
	demo        bool
	demoUser    string
	sessionFile string
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger, opt appOptions) (*app, error) {
	a := &app{cfg: cfg, log: log, dir: export.DirDeliverer{Dir: cfg.ExportDir}}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	var storage session.Storage
	switch {
	case opt.demo:
		url, err := a.startDemo(opt.demoUser)
		if err != nil {
			return nil, err
		}
		a.cfg.APIBaseURL = url
		storage = session.NewMemoryStorage()
	case cfg.RedisAddr != "":
		rdb := redisx.New(cfg.RedisAddr)
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		storage = session.NewRedisStorage(rdb, cfg.SessionProfile)
	default:
		path := opt.sessionFile
		if path == "" {
			var err error
			if path, err = session.DefaultFilePath(cfg.SessionProfile); err != nil {
				return nil, fmt.Errorf("session file: %w", err)
			}
		}
		storage = session.FileStorage{Path: path}
	}

	sink, err := a.auditSink(ctx)
	if err != nil {
		return nil, err
	}

	a.gw = gateway.New(a.cfg.APIBaseURL,
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		gateway.WithLogger(log))
	a.store = session.NewStore(storage, session.WithLogger(log))
	a.engine = reconcile.New(a.gw, a.store,
		reconcile.WithLogger(log),
		reconcile.WithSink(sink),
		reconcile.WithProducer(cfg.ServiceName),
		reconcile.WithOnUnauthorized(func() { log.Warn("signed out, run login again") }))
	a.closers = append(a.closers, a.engine.Close)
	a.exports = export.New(a.gw, a.store, a.dir,
		export.WithLogger(log),
		export.WithSink(sink),
		export.WithProducer(cfg.ServiceName))
	a.view = view.NewBinder(a.store, a.engine)

	if opt.demo {
		if err := a.demoLogin(ctx, opt.demoUser); err != nil {
			return nil, err
		}
	}
	ok = true
	return a, nil
}

// auditSink logs every event and forwards it to kafka, or straight to
// postgres when no brokers are configured.
func (a *app) auditSink(ctx context.Context) (audit.Sink, error) {
	sinks := audit.Multi{audit.LogSink{Log: a.log.With("component", "audit")}}
	switch {
	case len(a.cfg.KafkaBrokers) > 0:
		prod := kafkax.NewProducer(a.cfg.KafkaBrokers, audit.TopicConsoleEvents, 256, a.log)
		prod.Start(ctx)
		a.closers = append(a.closers, func() {
			prod.Close()
			prod.WaitClosed()
		})
		sinks = append(sinks, audit.NewKafkaSink(prod))
	case a.cfg.PostgresDSN != "":
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		db, err := postgres.Connect(pctx, a.cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := postgres.EnsureSchema(pctx, db); err != nil {
			return nil, fmt.Errorf("db schema: %w", err)
		}
		sinks = append(sinks, audit.PGStore{DB: db})
	}
	return sinks, nil
}

// startDemo serves an in-memory orders service on a loopback port with a
// few orders already placed.
func (a *app) startDemo(user string) (string, error) {
	api := fakeapi.New()
	api.SeedOrder(2, orders.StatusInProgress, map[int64]int{1: 2, 3: 1})
	api.SeedOrder(2, orders.StatusPaid, map[int64]int{2: 1})
	api.SeedOrder(1, orders.StatusDelivered, map[int64]int{4: 3})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("demo listener: %w", err)
	}
	srv := &http.Server{Handler: api.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	a.closers = append(a.closers, func() { _ = srv.Close() })
	a.log.Info("demo orders service started", "addr", ln.Addr().String(), "user", user)
	return "http://" + ln.Addr().String(), nil
}

func (a *app) demoLogin(ctx context.Context, user string) error {
	s, err := a.gw.Login(ctx, user, user)
	if err != nil {
		return fmt.Errorf("demo login: %w", err)
	}
	return a.store.Establish(ctx, s)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
