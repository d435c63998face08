package httpx

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/ariefcatur/go-order-console/internal/export"
	"github.com/ariefcatur/go-order-console/internal/fakeapi"
	"github.com/ariefcatur/go-order-console/internal/gateway"
	"github.com/ariefcatur/go-order-console/internal/orders"
	"github.com/ariefcatur/go-order-console/internal/reconcile"
	"github.com/ariefcatur/go-order-console/internal/session"
	"github.com/ariefcatur/go-order-console/internal/view"
)

type console struct {
	api *fakeapi.Server
	srv *httptest.Server
}

func newConsole(t *testing.T) *console {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	api := fakeapi.New()
	upstream := httptest.NewServer(api.Handler())
	t.Cleanup(upstream.Close)

	gw := gateway.New(upstream.URL, gateway.WithLogger(log))
	store := session.NewStore(nil, session.WithLogger(log))
	engine := reconcile.New(gw, store, reconcile.WithLogger(log))
	t.Cleanup(engine.Close)

	router := NewRouter(log)
	h := &ConsoleHandler{
		Auth:    gw,
		Store:   store,
		Engine:  engine,
		Exports: export.New(gw, store, nil, export.WithLogger(log)),
		View:    view.NewBinder(store, engine),
	}
	h.Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &console{api: api, srv: srv}
}

func (c *console) do(t *testing.T, method, path, body string) (*http.Response, actionResp) {
	t.Helper()
	req, err := http.NewRequest(method, c.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out actionResp
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (c *console) login(t *testing.T, user string) actionResp {
	t.Helper()
	resp, err := http.PostForm(c.srv.URL+"/api/login", url.Values{"username": {user}, "password": {user}})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out actionResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d %+v", user, resp.StatusCode, out.Outcome)
	}
	return out
}

func TestLoginBuildsRoleView(t *testing.T) {
	c := newConsole(t)
	c.api.SeedOrder(2, orders.StatusInProgress, map[int64]int{1: 2})
	c.api.SeedOrder(1, orders.StatusPaid, nil)

	out := c.login(t, "admin")
	if out.View.Heading != view.HeadingAdmin || len(out.View.Orders) != 2 {
		t.Fatalf("Unexpected admin view %+v", out.View)
	}
	for _, o := range out.View.Orders {
		if !o.ShowStatusControl {
			t.Errorf("Expected status control on order %d", o.ID)
		}
	}

	c.do(t, http.MethodPost, "/api/logout", "")
	out = c.login(t, "ana")
	if out.View.Heading != view.HeadingCustomer || len(out.View.Orders) != 1 {
		t.Fatalf("Unexpected customer view %+v", out.View)
	}
	if out.View.Orders[0].ShowStatusControl || len(out.View.StatusOptions) != 0 {
		t.Error("Expected no status control for customers")
	}
	if out.View.Orders[0].Total != "19.98" {
		t.Errorf("Total = %s, want 19.98", out.View.Orders[0].Total)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	c := newConsole(t)
	resp, err := http.PostForm(c.srv.URL+"/api/login", url.Values{"username": {"ana"}, "password": {"nope"}})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}
}

func TestActionsUpdateView(t *testing.T) {
	c := newConsole(t)
	c.login(t, "ana")

	resp, out := c.do(t, http.MethodPost, "/api/orders", "")
	if resp.StatusCode != http.StatusOK || len(out.View.Orders) != 1 {
		t.Fatalf("create: %d %+v", resp.StatusCode, out)
	}
	id := out.View.Orders[0].ID
	base := "/api/orders/" + strconv.FormatInt(id, 10) + "/products/3"

	if resp, _ := c.do(t, http.MethodPost, base, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("add product: status %d", resp.StatusCode)
	}
	_, out = c.do(t, http.MethodPost, base+"/increment", "")
	if q := out.View.Orders[0].Items[0].Quantity; q != 2 {
		t.Fatalf("Expected quantity 2, got %d", q)
	}
	_, out = c.do(t, http.MethodPost, base+"/decrement", "")
	if out.View.Orders[0].Total != "14.99" {
		t.Errorf("Total = %s, want 14.99", out.View.Orders[0].Total)
	}

	resp, out = c.do(t, http.MethodPost, base+"/decrement", "")
	if resp.StatusCode != http.StatusUnprocessableEntity || out.Outcome.Kind != string(reconcile.KindSkipped) {
		t.Errorf("Expected skipped decrement, got %d %+v", resp.StatusCode, out.Outcome)
	}

	_, out = c.do(t, http.MethodPut, base, `{"quantity":4}`)
	if q := out.View.Orders[0].Items[0].Quantity; q != 4 {
		t.Errorf("Expected quantity 4, got %d", q)
	}

	_, out = c.do(t, http.MethodDelete, base, "")
	if len(out.View.Orders[0].Items) != 0 || out.View.Orders[0].Total != "0.00" {
		t.Errorf("Expected empty order, got %+v", out.View.Orders[0])
	}

	resp, _ = c.do(t, http.MethodDelete, "/api/orders/abc", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad id, got %d", resp.StatusCode)
	}
}

func TestExportDownload(t *testing.T) {
	c := newConsole(t)
	c.api.SeedOrder(2, orders.StatusPaid, map[int64]int{4: 1})
	c.login(t, "ana")

	resp, err := http.Get(c.srv.URL + "/api/export/csv")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Disposition"); got != "attachment; filename=orders.csv" {
		t.Errorf("Content-Disposition = %q", got)
	}
	if !strings.Contains(string(body), "12.99") {
		t.Errorf("Unexpected body %q", body)
	}

	resp2, err := http.Get(c.srv.URL + "/api/export/docx")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown format, got %d", resp2.StatusCode)
	}
}

func TestRevokedSessionSignsOut(t *testing.T) {
	c := newConsole(t)
	c.login(t, "admin")
	c.api.RevokeAll()

	resp, out := c.do(t, http.MethodPost, "/api/orders", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", resp.StatusCode)
	}
	if out.View.SignedIn || len(out.View.Orders) != 0 {
		t.Errorf("Expected signed-out view, got %+v", out.View)
	}

	resp, _ = c.do(t, http.MethodGet, "/api/export/pdf", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected export to be refused, got %d", resp.StatusCode)
	}
}

func TestClientsShareOneLogin(t *testing.T) {
	c := newConsole(t)
	c.login(t, "ana")

	// A separate client carrying no credentials sees the same login.
	other := &http.Client{}
	resp, err := other.Get(c.srv.URL + "/api/view")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var m view.Model
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatal(err)
	}
	if !m.SignedIn || m.User != "ana" {
		t.Errorf("Expected the shared login, got %+v", m)
	}
}
