package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies the result of a gateway call.
type Kind string

const (
	KindOK              Kind = "ok"
	KindUnauthorized    Kind = "unauthorized"
	KindRequestFailed   Kind = "request_failed"
	KindTransportFailed Kind = "transport_failed"
)

// ErrNoSession is returned before any request is sent when the caller has
// no valid session.
var ErrNoSession = &Error{Kind: KindUnauthorized, Message: "not signed in"}

type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string // safe to show to the user
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same Kind so callers can test with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Status == 0 && t.Op == "" && (t.Message == "" || t.Message == e.Message)
}

var ErrUnauthorized = &Error{Kind: KindUnauthorized}

func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// KindOf returns KindOK for nil and KindTransportFailed for errors that did
// not come from the gateway.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	if ge, ok := As(err); ok {
		return ge.Kind
	}
	return KindTransportFailed
}

// Message returns the user-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if ge, ok := As(err); ok && ge.Message != "" {
		return ge.Message
	}
	return "unexpected error"
}

func unauthorized(op string) *Error {
	return &Error{Kind: KindUnauthorized, Op: op, Status: http.StatusUnauthorized, Message: "session expired, please sign in again"}
}

func requestFailed(op string, status int, msg string) *Error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Kind: KindRequestFailed, Op: op, Status: status, Message: msg}
}

func transportFailed(op, msg string, err error) *Error {
	return &Error{Kind: KindTransportFailed, Op: op, Message: msg, Err: err}
}
