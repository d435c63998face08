package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

const DefaultScheme = "bearer"

var ErrMalformedToken = errors.New("malformed access token")

// ParseRole maps a role claim. The orders service issues "cliente" for
// customers.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, nil
	case "customer", "cliente", "client":
		return RoleCustomer, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Session is the authenticated identity used for every protected call.
type Session struct {
	Token       string    `json:"token"`
	Scheme      string    `json:"token_scheme"`
	UserID      int64     `json:"user_id"`
	Role        Role      `json:"role"`
	DisplayName string    `json:"display_name"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// Authorization renders the Authorization header value.
func (s Session) Authorization() string {
	scheme := s.Scheme
	if scheme == "" {
		scheme = DefaultScheme
	}
	return scheme + " " + s.Token
}

func (s Session) Valid(now time.Time) bool {
	if s.Token == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }

// FromToken decodes the claims of an access token. The signature is not
// checked here; the server rejects forged tokens with 401.
func FromToken(token, scheme string) (Session, error) {
	if token == "" {
		return Session{}, ErrMalformedToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	s := Session{Token: token, Scheme: scheme}
	if s.Scheme == "" {
		s.Scheme = DefaultScheme
	}
	if sub, err := claims.GetSubject(); err == nil {
		s.DisplayName = sub
	}
	if name, ok := claims["username"].(string); ok && name != "" {
		s.DisplayName = name
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.ExpiresAt = exp.Time
	}

	roleClaim, _ := claims["role"].(string)
	role, err := ParseRole(roleClaim)
	if err != nil {
		// tokens without a role claim get the least privileged view
		role = RoleCustomer
	}
	s.Role = role

	for _, key := range []string{"user_id", "id"} {
		if id, ok := intClaim(claims[key]); ok {
			s.UserID = id
			break
		}
	}
	return s, nil
}

func intClaim(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case int64:
		return x, true
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	}
	return 0, false
}
