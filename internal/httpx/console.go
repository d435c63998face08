package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-order-console/internal/export"
	"github.com/ariefcatur/go-order-console/internal/gateway"
	"github.com/ariefcatur/go-order-console/internal/orders"
	"github.com/ariefcatur/go-order-console/internal/reconcile"
	"github.com/ariefcatur/go-order-console/internal/session"
	"github.com/ariefcatur/go-order-console/internal/view"
	"github.com/go-chi/chi/v5"
)

// Authenticator is satisfied by *gateway.Client.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (session.Session, error)
	Logout(ctx context.Context, s session.Session)
}

// ConsoleHandler exposes the console over HTTP for a browser front end.
// Every action answers with its outcome and the freshly built view.
// Store holds a single login shared by every client of the handler, so it
// suits a local console for one operator, not a multi-user deployment.
type ConsoleHandler struct {
	Auth    Authenticator
	Store   *session.Store
	Engine  *reconcile.Engine
	Exports *export.Dispatcher
	View    *view.Binder
}

type outcomeJSON struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

type actionResp struct {
	Outcome outcomeJSON `json:"outcome"`
	View    view.Model  `json:"view"`
}

func (h *ConsoleHandler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/view", h.getView)
		r.Post("/login", h.login)
		r.Post("/logout", h.logout)
		r.Post("/refresh", h.refresh)

		r.Post("/orders", h.createOrder)
		r.Delete("/orders/{id}", h.deleteOrder)
		r.Put("/orders/{id}/status", h.updateStatus)
		r.Post("/orders/{id}/products/{productID}", h.addProduct)
		r.Put("/orders/{id}/products/{productID}", h.setQuantity)
		r.Delete("/orders/{id}/products/{productID}", h.removeProduct)
		r.Post("/orders/{id}/products/{productID}/increment", h.increment)
		r.Post("/orders/{id}/products/{productID}/decrement", h.decrement)

		r.Get("/products", h.listProducts)
		r.Get("/stats/by-user", h.userStats)
		r.Get("/stats/product-rank", h.productRank)
		r.Get("/export/{format}", h.export)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(k gateway.Kind) int {
	switch k {
	case gateway.KindOK:
		return http.StatusOK
	case gateway.KindUnauthorized:
		return http.StatusUnauthorized
	case gateway.KindTransportFailed:
		return http.StatusBadGateway
	}
	// request_failed and skipped
	return http.StatusUnprocessableEntity
}

func (h *ConsoleHandler) respond(w http.ResponseWriter, r *http.Request, out reconcile.Outcome) {
	writeJSON(w, statusFor(out.Kind), actionResp{
		Outcome: outcomeJSON{Kind: string(out.Kind), Message: out.Message},
		View:    h.View.Model(r.Context()),
	})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func (h *ConsoleHandler) getView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.View.Model(r.Context()))
}

func (h *ConsoleHandler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid json")
			return
		}
	} else {
		req.Username, req.Password = r.PostFormValue("username"), r.PostFormValue("password")
	}
	if req.Username == "" || req.Password == "" {
		badRequest(w, "username and password are required")
		return
	}

	s, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err == nil {
		err = h.Store.Establish(r.Context(), s)
	}
	if err != nil {
		h.respond(w, r, reconcile.Outcome{Kind: gateway.KindOf(err), Message: gateway.Message(err)})
		return
	}
	h.respond(w, r, h.Engine.Refresh(r.Context()))
}

func (h *ConsoleHandler) logout(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.Store.Get(r.Context()); ok {
		h.Auth.Logout(r.Context(), s)
	}
	h.Store.Clear(r.Context())
	h.respond(w, r, reconcile.Outcome{Kind: gateway.KindOK})
}

func (h *ConsoleHandler) refresh(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.Engine.Refresh(r.Context()))
}

func (h *ConsoleHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.Engine.CreateOrder(r.Context()))
}

func (h *ConsoleHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		badRequest(w, "invalid order id")
		return
	}
	h.respond(w, r, h.Engine.DeleteOrder(r.Context(), id))
}

func (h *ConsoleHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		badRequest(w, "invalid order id")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	st, err := orders.ParseStatus(req.Status)
	if err != nil {
		// the engine reports unknown statuses as skipped
		st = orders.Status(req.Status)
	}
	h.respond(w, r, h.Engine.UpdateStatus(r.Context(), id, st))
}

type itemHandler func(ctx context.Context, orderID, productID int64) reconcile.Outcome

func (h *ConsoleHandler) item(fn itemHandler, w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	pid, ok2 := idParam(r, "productID")
	if !ok || !ok2 {
		badRequest(w, "invalid order or product id")
		return
	}
	h.respond(w, r, fn(r.Context(), id, pid))
}

func (h *ConsoleHandler) addProduct(w http.ResponseWriter, r *http.Request) {
	h.item(h.Engine.AddProduct, w, r)
}

func (h *ConsoleHandler) removeProduct(w http.ResponseWriter, r *http.Request) {
	h.item(h.Engine.RemoveProduct, w, r)
}

func (h *ConsoleHandler) increment(w http.ResponseWriter, r *http.Request) {
	h.item(h.Engine.Increment, w, r)
}

func (h *ConsoleHandler) decrement(w http.ResponseWriter, r *http.Request) {
	h.item(h.Engine.Decrement, w, r)
}

func (h *ConsoleHandler) setQuantity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	h.item(func(ctx context.Context, orderID, productID int64) reconcile.Outcome {
		return h.Engine.SetQuantity(ctx, orderID, productID, req.Quantity)
	}, w, r)
}

type listResp struct {
	Outcome outcomeJSON `json:"outcome"`
	Items   any         `json:"items"`
}

func writeList(w http.ResponseWriter, items any, out reconcile.Outcome) {
	writeJSON(w, statusFor(out.Kind), listResp{Outcome: outcomeJSON{Kind: string(out.Kind), Message: out.Message}, Items: items})
}

func (h *ConsoleHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, out := h.Engine.Products(r.Context())
	type product struct {
		ID          int64  `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
		Price       string `json:"price"`
	}
	items := make([]product, 0, len(ps))
	for _, p := range ps {
		items = append(items, product{ID: p.ID, Title: p.Title, Description: p.Description, Price: orders.FormatMoney(p.Price)})
	}
	writeList(w, items, out)
}

func (h *ConsoleHandler) userStats(w http.ResponseWriter, r *http.Request) {
	stats, out := h.Engine.UserStats(r.Context())
	if stats == nil {
		stats = []gateway.UserStat{}
	}
	writeList(w, stats, out)
}

func (h *ConsoleHandler) productRank(w http.ResponseWriter, r *http.Request) {
	rank, out := h.Engine.ProductRanking(r.Context())
	if rank == nil {
		rank = []gateway.ProductRank{}
	}
	writeList(w, rank, out)
}

// export streams the artifact as an attachment under its fixed name. A
// failure answers with the outcome instead.
func (h *ConsoleHandler) export(w http.ResponseWriter, r *http.Request) {
	format, err := gateway.ParseExportFormat(chi.URLParam(r, "format"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	out := h.Exports.RequestTo(r.Context(), format, export.DelivererFunc(func(_ context.Context, a gateway.Artifact) error {
		w.Header().Set("Content-Type", a.ContentType)
		w.Header().Set("Content-Disposition", "attachment; filename="+a.Filename)
		w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
		w.WriteHeader(http.StatusOK)
		_, err := w.Write(a.Data)
		return err
	}))
	if out.OK() || w.Header().Get("Content-Disposition") != "" {
		return
	}
	h.respond(w, r, out)
}
