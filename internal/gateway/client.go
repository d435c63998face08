package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-console/internal/session"
	"github.com/google/uuid"
)

const maxErrorBody = 64 << 10

// Client talks to the orders REST service. Every protected call goes
// through do, which owns the credential header and the 401 mapping.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
	now     func() time.Time
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type request struct {
	op     string
	method string
	path   string
	body   any
	// out receives the decoded JSON body; nil discards it.
	out any
	// raw receives the body bytes and content type instead of JSON.
	raw *rawBody
	// anonymous calls skip the session requirement (login).
	anonymous bool
	form      string
}

type rawBody struct {
	data        []byte
	contentType string
}

func (c *Client) do(ctx context.Context, s session.Session, r request) error {
	if !r.anonymous && !s.Valid(c.now()) {
		return ErrNoSession
	}

	var body io.Reader
	contentType := ""
	switch {
	case r.form != "":
		body = strings.NewReader(r.form)
		contentType = "application/x-www-form-urlencoded"
	case r.body != nil:
		b, err := json.Marshal(r.body)
		if err != nil {
			return transportFailed(r.op, "could not encode request", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return transportFailed(r.op, "could not build request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if !r.anonymous {
		req.Header.Set("Authorization", s.Authorization())
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed", "op", r.op, "method", r.method, "path", r.path, "error", err)
		if errors.Is(err, context.Canceled) {
			return transportFailed(r.op, "request cancelled", err)
		}
		return transportFailed(r.op, "could not reach the orders service", err)
	}
	defer resp.Body.Close()

	c.log.Debug("request completed",
		"op", r.op,
		"method", r.method,
		"path", r.path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get("X-Request-Id"),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return unauthorized(r.op)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return requestFailed(r.op, resp.StatusCode, detailMessage(b))
	}

	if r.raw != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return transportFailed(r.op, "could not read response", err)
		}
		r.raw.data = data
		r.raw.contentType = resp.Header.Get("Content-Type")
		return nil
	}
	if r.out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil {
		return transportFailed(r.op, "malformed response from the orders service", err)
	}
	return nil
}

// detailMessage extracts the error text of a FastAPI style body
// ({"detail": "..."} or {"error": "..."}).
func detailMessage(b []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(b, &body); err != nil {
		return strings.TrimSpace(string(b))
	}
	if len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			return s
		}
		// validation errors come as a list of objects with a msg field
		var list []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(body.Detail, &list); err == nil && len(list) > 0 {
			msgs := make([]string, 0, len(list))
			for _, d := range list {
				msgs = append(msgs, d.Msg)
			}
			return strings.Join(msgs, "; ")
		}
	}
	return body.Error
}

func orderPath(orderID int64) string { return fmt.Sprintf("/orders/%d", orderID) }
