package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/ariefcatur/go-order-console/internal/session"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Login exchanges credentials for a session. Bad credentials come back as
// KindUnauthorized.
func (c *Client) Login(ctx context.Context, username, password string) (session.Session, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var tok tokenResponse
	err := c.do(ctx, session.Session{}, request{
		op:        "login",
		method:    http.MethodPost,
		path:      "/auth/login",
		form:      form.Encode(),
		out:       &tok,
		anonymous: true,
	})
	if err != nil {
		if ge, ok := As(err); ok && ge.Kind == KindUnauthorized {
			ge.Message = "invalid credentials"
		}
		return session.Session{}, err
	}
	s, err := session.FromToken(tok.AccessToken, tok.TokenType)
	if err != nil {
		return session.Session{}, transportFailed("login", "malformed token from the orders service", err)
	}
	return s, nil
}

// Logout asks the service to revoke the token. Failures are logged and
// otherwise ignored; the local session is cleared by the caller either way.
func (c *Client) Logout(ctx context.Context, s session.Session) {
	err := c.do(ctx, s, request{op: "logout", method: http.MethodPost, path: "/auth/logout"})
	if err != nil && !errors.Is(err, ErrNoSession) {
		c.log.Info("logout not acknowledged", "error", err)
	}
}
