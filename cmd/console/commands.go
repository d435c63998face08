package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ariefcatur/go-order-console/internal/config"
	"github.com/ariefcatur/go-order-console/internal/gateway"
	"github.com/ariefcatur/go-order-console/internal/httpx"
	"github.com/ariefcatur/go-order-console/internal/orders"
	"github.com/ariefcatur/go-order-console/internal/reconcile"
	"github.com/ariefcatur/go-order-console/internal/view"
)

type command struct {
	usage string
	args  int
	run   func(ctx context.Context, a *app, out io.Writer, args []string) error
}

var commands = map[string]command{
	"login":    {"login -u USER [-p PASS]", -1, cmdLogin},
	"logout":   {"logout", 0, cmdLogout},
	"orders":   {"orders", 0, cmdOrders},
	"create":   {"create", 0, mutation(func(ctx context.Context, e *reconcile.Engine, _ []int64) reconcile.Outcome { return e.CreateOrder(ctx) })},
	"delete":   {"delete ORDER", 1, mutation(func(ctx context.Context, e *reconcile.Engine, n []int64) reconcile.Outcome { return e.DeleteOrder(ctx, n[0]) })},
	"status":   {"status ORDER STATUS", 2, cmdStatus},
	"add":      {"add ORDER PRODUCT", 2, mutation(func(ctx context.Context, e *reconcile.Engine, n []int64) reconcile.Outcome { return e.AddProduct(ctx, n[0], n[1]) })},
	"remove":   {"remove ORDER PRODUCT", 2, mutation(func(ctx context.Context, e *reconcile.Engine, n []int64) reconcile.Outcome { return e.RemoveProduct(ctx, n[0], n[1]) })},
	"inc":      {"inc ORDER PRODUCT", 2, mirrored(func(ctx context.Context, e *reconcile.Engine, n []int64) reconcile.Outcome { return e.Increment(ctx, n[0], n[1]) })},
	"dec":      {"dec ORDER PRODUCT", 2, mirrored(func(ctx context.Context, e *reconcile.Engine, n []int64) reconcile.Outcome { return e.Decrement(ctx, n[0], n[1]) })},
	"set-qty":  {"set-qty ORDER PRODUCT QTY", 3, mutation(func(ctx context.Context, e *reconcile.Engine, n []int64) reconcile.Outcome { return e.SetQuantity(ctx, n[0], n[1], int(n[2])) })},
	"products": {"products", 0, cmdProducts},
	"stats":    {"stats [users|products]", -1, cmdStats},
	"export":   {"export [-o DIR] excel|csv|pdf", -1, cmdExport},
	"serve":    {"serve [-addr ADDR]", -1, cmdServe},
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: console [-api URL] [-profile NAME] [-session FILE] [-demo [-demo-user USER]] COMMAND [ARGS]")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %s\n", commands[n].usage)
	}
}

func run(ctx context.Context, args []string, out io.Writer, log *slog.Logger) error {
	cfg := config.Load()
	var opt appOptions

	fs := flag.NewFlagSet("console", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { usage(out) }
	fs.StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "orders service base URL")
	fs.StringVar(&cfg.SessionProfile, "profile", cfg.SessionProfile, "session profile name")
	fs.StringVar(&opt.sessionFile, "session", "", "session file (default under the user config dir)")
	fs.BoolVar(&opt.demo, "demo", false, "run against an in-memory orders service")
	fs.StringVar(&opt.demoUser, "demo-user", "admin", "user signed in for -demo (admin or ana)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		usage(out)
		return flag.ErrHelp
	}
	name, rest := fs.Arg(0), fs.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		usage(out)
		return fmt.Errorf("unknown command %q", name)
	}
	if cmd.args >= 0 && len(rest) != cmd.args {
		return fmt.Errorf("usage: console %s", cmd.usage)
	}

	a, err := newApp(ctx, cfg, log, opt)
	if err != nil {
		return err
	}
	defer a.close()
	return cmd.run(ctx, a, out, rest)
}

// outcomeErr turns anything but ok into an error for the exit status.
func outcomeErr(out reconcile.Outcome) error {
	if out.OK() {
		return nil
	}
	return fmt.Errorf("%s: %s", out.Kind, out.Message)
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, len(args))
	for i, s := range args {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", s)
		}
		ids[i] = n
	}
	return ids, nil
}

type engineAction func(ctx context.Context, e *reconcile.Engine, ids []int64) reconcile.Outcome

func mutation(fn engineAction) func(context.Context, *app, io.Writer, []string) error {
	return func(ctx context.Context, a *app, out io.Writer, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		res := fn(ctx, a.engine, ids)
		printView(out, a.view.Model(ctx))
		return outcomeErr(res)
	}
}

// mirrored actions read the current quantity from the mirror, so the
// mirror is loaded first.
func mirrored(fn engineAction) func(context.Context, *app, io.Writer, []string) error {
	return func(ctx context.Context, a *app, out io.Writer, args []string) error {
		if err := outcomeErr(a.engine.Refresh(ctx)); err != nil {
			return err
		}
		return mutation(fn)(ctx, a, out, args)
	}
}

func cmdLogin(ctx context.Context, a *app, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(out)
	user := fs.String("u", "", "username")
	pass := fs.String("p", "", "password (default $CONSOLE_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pass == "" {
		*pass = os.Getenv("CONSOLE_PASSWORD")
	}
	if *user == "" || *pass == "" {
		return errors.New("usage: console login -u USER [-p PASS]")
	}
	s, err := a.gw.Login(ctx, *user, *pass)
	if err != nil {
		return fmt.Errorf("login: %s", gateway.Message(err))
	}
	if err := a.store.Establish(ctx, s); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Fprintf(out, "signed in as %s (%s)\n", s.DisplayName, s.Role)
	return nil
}

func cmdLogout(ctx context.Context, a *app, out io.Writer, _ []string) error {
	if s, ok := a.store.Get(ctx); ok {
		a.gw.Logout(ctx, s)
	}
	a.store.Clear(ctx)
	fmt.Fprintln(out, "signed out")
	return nil
}

func cmdOrders(ctx context.Context, a *app, out io.Writer, _ []string) error {
	res := a.engine.Refresh(ctx)
	printView(out, a.view.Model(ctx))
	return outcomeErr(res)
}

func cmdStatus(ctx context.Context, a *app, out io.Writer, args []string) error {
	ids, err := parseIDs(args[:1])
	if err != nil {
		return err
	}
	st, err := orders.ParseStatus(args[1])
	if err != nil {
		return err
	}
	res := a.engine.UpdateStatus(ctx, ids[0], st)
	printView(out, a.view.Model(ctx))
	return outcomeErr(res)
}

func cmdProducts(ctx context.Context, a *app, out io.Writer, _ []string) error {
	ps, res := a.engine.Products(ctx)
	if err := outcomeErr(res); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tPRICE")
	for _, p := range ps {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", p.ID, p.Title, orders.FormatMoney(p.Price))
	}
	return tw.Flush()
}

func cmdStats(ctx context.Context, a *app, out io.Writer, args []string) error {
	which := "users"
	if len(args) > 0 {
		which = args[0]
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	switch which {
	case "users":
		stats, res := a.engine.UserStats(ctx)
		if err := outcomeErr(res); err != nil {
			return err
		}
		fmt.Fprintln(tw, "USER\tORDERS")
		for _, s := range stats {
			fmt.Fprintf(tw, "%d\t%d\n", s.UserID, s.OrderCount)
		}
	case "products":
		rank, res := a.engine.ProductRanking(ctx)
		if err := outcomeErr(res); err != nil {
			return err
		}
		fmt.Fprintln(tw, "RANK\tPRODUCT\tSOLD")
		for _, r := range rank {
			fmt.Fprintf(tw, "%d\t%d\t%d\n", r.Rank, r.ProductID, r.TotalQuantity)
		}
	default:
		return fmt.Errorf("unknown stats %q (want users or products)", which)
	}
	return tw.Flush()
}

func cmdExport(ctx context.Context, a *app, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(out)
	dir := fs.String("o", a.dir.Dir, "directory to save into")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: console export [-o DIR] excel|csv|pdf")
	}
	format, err := gateway.ParseExportFormat(fs.Arg(0))
	if err != nil {
		return err
	}
	a.dir.Dir = *dir
	if err := outcomeErr(a.exports.RequestTo(ctx, format, a.dir)); err != nil {
		return err
	}
	fmt.Fprintf(out, "saved %s\n", a.dir.Path(format))
	return nil
}

func cmdServe(ctx context.Context, a *app, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(out)
	addr := fs.String("addr", a.cfg.HTTPAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	router := httpx.NewRouter(a.log)
	h := &httpx.ConsoleHandler{Auth: a.gw, Store: a.store, Engine: a.engine, Exports: a.exports, View: a.view}
	h.Register(router)
	srv := &http.Server{Addr: *addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("console listening", "addr", *addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func printView(w io.Writer, m view.Model) {
	if !m.SignedIn {
		if m.Message != "" {
			fmt.Fprintln(w, m.Message)
		}
		fmt.Fprintln(w, "not signed in")
		return
	}
	fmt.Fprintf(w, "%s (%s, %s)\n", m.Heading, m.User, m.Role)
	if m.Message != "" {
		fmt.Fprintf(w, "! %s\n", m.Message)
	}
	if m.Empty != "" {
		fmt.Fprintln(w, m.Empty)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, o := range m.Orders {
		fmt.Fprintf(tw, "#%d\tuser %d\t%s\ttotal %s\n", o.ID, o.UserID, o.Status, o.Total)
		for _, it := range o.Items {
			fmt.Fprintf(tw, "\t%d %s\tx%d @ %s\t= %s\n", it.ProductID, it.Title, it.Quantity, it.Price, it.LineTotal)
		}
	}
	_ = tw.Flush()
	if len(m.StatusOptions) > 0 {
		fmt.Fprintf(w, "statuses: %s\n", strings.Join(m.StatusOptions, ", "))
	}
}
