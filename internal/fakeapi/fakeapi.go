// Package fakeapi is an in-memory stand-in for the orders REST service.
// It keeps just enough behaviour to drive the console end to end: JWT
// login, per-role order visibility, item quantities with zero pruning,
// exports and admin stats. Tests use its hooks to inject failures.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-console/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID       int64
	Username string
	Password string
	Role     string // "admin" or "cliente"
}

type order struct {
	id        int64
	userID    int64
	status    orders.Status
	createdAt time.Time
	items     []line
}

type line struct {
	productID int64
	quantity  int
}

type Server struct {
	secret []byte
	ttl    time.Duration

	mu       sync.Mutex
	users    map[string]User
	products []orders.Product
	orders   map[int64]*order
	nextID   int64
	revoked  map[string]bool
	inject   map[string][]int
	calls    map[string]int
	hold     map[string]chan struct{}
}

func New() *Server {
	s := &Server{
		secret:  []byte("fakeapi-secret"),
		ttl:     30 * time.Minute,
		users:   map[string]User{},
		orders:  map[int64]*order{},
		nextID:  1,
		revoked: map[string]bool{},
		inject:  map[string][]int{},
		calls:   map[string]int{},
		hold:    map[string]chan struct{}{},
	}
	s.AddUser(User{ID: 1, Username: "admin", Password: "admin", Role: "admin"})
	s.AddUser(User{ID: 2, Username: "ana", Password: "ana", Role: "cliente"})
	s.products = []orders.Product{
		{ID: 1, Title: "Essence Mascara Lash Princess", Price: decimal.RequireFromString("9.99")},
		{ID: 2, Title: "Eyeshadow Palette with Mirror", Price: decimal.RequireFromString("19.99")},
		{ID: 3, Title: "Powder Canister", Price: decimal.RequireFromString("14.99")},
		{ID: 4, Title: "Red Lipstick", Price: decimal.RequireFromString("12.99")},
	}
	return s
}

func (s *Server) AddUser(u User) {
	s.mu.Lock()
	s.users[u.Username] = u
	s.mu.Unlock()
}

// Token issues an access token for username without going through login.
func (s *Server) Token(username string) string {
	s.mu.Lock()
	u := s.users[username]
	s.mu.Unlock()
	return s.issue(u)
}

func (s *Server) issue(u User) string {
	claims := jwt.MapClaims{
		"sub":     u.Username,
		"role":    u.Role,
		"user_id": u.ID,
		"exp":     time.Now().Add(s.ttl).Unix(),
		"jti":     uuid.NewString(),
	}
	s.mu.Lock()
	secret := s.secret
	s.mu.Unlock()
	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	return tok
}

// SeedOrder stores an order for userID with productID->quantity lines and
// returns its id.
func (s *Server) SeedOrder(userID int64, status orders.Status, lines map[int64]int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := &order{id: s.nextID, userID: userID, status: status, createdAt: time.Now().UTC()}
	s.nextID++
	ids := make([]int64, 0, len(lines))
	for pid := range lines {
		ids = append(ids, pid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, pid := range ids {
		o.items = append(o.items, line{productID: pid, quantity: lines[pid]})
	}
	s.orders[o.id] = o
	return o.id
}

// Fail makes the next len(statuses) calls to method+path answer with the
// given statuses instead of being served.
func (s *Server) Fail(method, path string, statuses ...int) {
	s.mu.Lock()
	k := method + " " + path
	s.inject[k] = append(s.inject[k], statuses...)
	s.mu.Unlock()
}

// Hold blocks calls to method+path until the returned release func runs.
func (s *Server) Hold(method, path string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.hold[method+" "+path] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Calls counts requests that reached method+path, injected ones included.
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+path]
}

// TotalCalls counts every request received.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// RevokeAll makes every issued token answer 401 from now on.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	s.secret = append([]byte("rotated-"), s.secret...)
	s.mu.Unlock()
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Post("/auth/login", s.login)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/auth/logout", s.logout)
		r.Get("/orders/", s.listOrders)
		r.Post("/orders/", s.createOrder)
		r.Put("/orders/{id}", s.updateOrder)
		r.Delete("/orders/{id}", s.deleteOrder)
		r.Post("/orders/{id}/products/", s.putItem)
		r.Put("/orders/{id}/products/", s.putItem)
		r.Delete("/orders/{id}/products/{productID}", s.removeItem)
		r.Get("/products/", s.listProducts)
		r.Get("/exports/{format}", s.export)
		r.Get("/stats/by-user", s.userStats)
		r.Get("/stats/product-rank", s.productRank)
	})
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k := r.Method + " " + r.URL.Path
		s.mu.Lock()
		s.calls[k]++
		var status int
		if q := s.inject[k]; len(q) > 0 {
			status, s.inject[k] = q[0], q[1:]
		}
		hold := s.hold[k]
		s.mu.Unlock()

		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			writeDetail(w, status, fmt.Sprintf("injected %d", status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ctxUser struct{}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		s.mu.Lock()
		secret, revoked := s.secret, s.revoked[tok]
		s.mu.Unlock()

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) { return secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || revoked {
			writeDetail(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		sub, _ := claims.GetSubject()
		s.mu.Lock()
		u, ok := s.users[sub]
		s.mu.Unlock()
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), u)))
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid form")
		return
	}
	s.mu.Lock()
	u, ok := s.users[r.PostForm.Get("username")]
	s.mu.Unlock()
	if !ok || u.Password != r.PostForm.Get("password") {
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  s.issue(u),
		"refresh_token": "refresh-" + u.Username,
		"token_type":    "bearer",
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	_, tok, _ := strings.Cut(r.Header.Get("Authorization"), " ")
	s.mu.Lock()
	s.revoked[tok] = true
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.visible(u))
}

// visible renders the caller's orders; admins see all. Caller holds mu.
func (s *Server) visible(u User) []orders.Order {
	ids := make([]int64, 0, len(s.orders))
	for id, o := range s.orders {
		if u.Role == "admin" || o.userID == u.ID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]orders.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.render(s.orders[id]))
	}
	return out
}

func (s *Server) render(o *order) orders.Order {
	out := orders.Order{ID: o.id, UserID: o.userID, Status: o.status, CreatedAt: o.createdAt, Items: []orders.OrderItem{}}
	for _, l := range o.items {
		p, _ := s.product(l.productID)
		out.Items = append(out.Items, orders.OrderItem{Product: p, Quantity: l.quantity})
	}
	return out
}

func (s *Server) product(id int64) (orders.Product, bool) {
	for _, p := range s.products {
		if p.ID == id {
			return p, true
		}
	}
	return orders.Product{}, false
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	s.mu.Lock()
	o := &order{id: s.nextID, userID: u.ID, status: orders.StatusInProgress, createdAt: time.Now().UTC()}
	s.nextID++
	s.orders[o.id] = o
	out := s.render(o)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, out)
}

// owned looks up the order in the URL for the caller. Caller holds mu.
func (s *Server) owned(w http.ResponseWriter, r *http.Request) (*order, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid order id")
		return nil, false
	}
	u := userFrom(r.Context())
	o, ok := s.orders[id]
	if !ok || (u.Role != "admin" && o.userID != u.ID) {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Order with ID %d was not found.", id))
		return nil, false
	}
	return o, true
}

func (s *Server) updateOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
		UserID int64  `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.owned(w, r)
	if !ok {
		return
	}
	st := orders.Status(body.Status)
	if !st.Valid() {
		writeDetail(w, http.StatusBadRequest, "Invalid order status. Possible values are: 'in progress', 'paid', 'delivered', 'cancelled'.")
		return
	}
	o.status = st
	writeJSON(w, http.StatusOK, s.render(o))
}

func (s *Server) deleteOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.owned(w, r)
	if !ok {
		return
	}
	delete(s.orders, o.id)
	writeJSON(w, http.StatusOK, s.render(o))
}

// putItem sets the absolute quantity of a product; zero prunes the line.
func (s *Server) putItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.owned(w, r)
	if !ok {
		return
	}
	if _, ok := s.product(body.ProductID); !ok {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Product %d not found", body.ProductID))
		return
	}
	if body.Quantity < 0 {
		writeDetail(w, http.StatusBadRequest, "quantity must not be negative")
		return
	}
	kept := o.items[:0]
	found := false
	for _, l := range o.items {
		if l.productID == body.ProductID {
			found = true
			l.quantity = body.Quantity
		}
		if l.quantity > 0 {
			kept = append(kept, l)
		}
	}
	o.items = kept
	if !found && body.Quantity > 0 {
		o.items = append(o.items, line{productID: body.ProductID, quantity: body.Quantity})
	}
	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"order_id": o.id, "product_id": body.ProductID, "quantity": body.Quantity})
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid product id")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.owned(w, r)
	if !ok {
		return
	}
	for i, l := range o.items {
		if l.productID == pid {
			o.items = append(o.items[:i], o.items[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]any{"order_id": o.id, "product_id": pid, "quantity": l.quantity})
			return
		}
	}
	writeDetail(w, http.StatusNotFound, fmt.Sprintf("OrderItem with ID %d not found", pid))
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.products)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	s.mu.Lock()
	list := s.visible(u)
	s.mu.Unlock()

	var b strings.Builder
	b.WriteString("order_id,status,product,quantity,line_total\n")
	for _, o := range list {
		for _, it := range o.Items {
			fmt.Fprintf(&b, "%d,%s,%s,%d,%s\n", o.ID, o.Status, it.Product.Title, it.Quantity, orders.FormatMoney(it.LineTotal()))
		}
	}

	switch chi.URLParam(r, "format") {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=data.csv")
		_, _ = w.Write([]byte(b.String()))
	case "excel":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		_, _ = w.Write(append([]byte("PK\x03\x04"), b.String()...))
	case "pdf":
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(append([]byte("%PDF-1.4\n"), b.String()...))
	default:
		writeDetail(w, http.StatusNotFound, "Not Found")
	}
}

func (s *Server) userStats(w http.ResponseWriter, r *http.Request) {
	if userFrom(r.Context()).Role != "admin" {
		writeDetail(w, http.StatusForbidden, "Insufficient permissions")
		return
	}
	s.mu.Lock()
	counts := map[int64]int{}
	for _, o := range s.orders {
		counts[o.userID]++
	}
	s.mu.Unlock()

	type stat struct {
		UserID     int64 `json:"user_id"`
		OrderCount int   `json:"order_count"`
	}
	out := make([]stat, 0, len(counts))
	for uid, n := range counts {
		out = append(out, stat{UserID: uid, OrderCount: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) productRank(w http.ResponseWriter, r *http.Request) {
	if userFrom(r.Context()).Role != "admin" {
		writeDetail(w, http.StatusForbidden, "Insufficient permissions")
		return
	}
	s.mu.Lock()
	qty := map[int64]int{}
	for _, o := range s.orders {
		for _, l := range o.items {
			qty[l.productID] += l.quantity
		}
	}
	s.mu.Unlock()

	type rank struct {
		ProductID     int64 `json:"product_id"`
		TotalQuantity int   `json:"total_quantity"`
		Rank          int   `json:"rank"`
	}
	out := make([]rank, 0, len(qty))
	for pid, n := range qty {
		out = append(out, rank{ProductID: pid, TotalQuantity: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalQuantity != out[j].TotalQuantity {
			return out[i].TotalQuantity > out[j].TotalQuantity
		}
		return out[i].ProductID < out[j].ProductID
	})
	if len(out) > 10 {
		out = out[:10]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
