package audit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
)

// Sink receives console activity. Record must not block on the network for
// long; implementations buffer or time out.
type Sink interface {
	Record(ctx context.Context, env Envelope) error
}

type Nop struct{}

func (Nop) Record(context.Context, Envelope) error { return nil }

// LogSink writes events to a structured logger.
type LogSink struct{ Log *slog.Logger }

func (l LogSink) Record(ctx context.Context, env Envelope) error {
	a, err := env.Activity()
	if err != nil {
		return err
	}
	l.Log.LogAttrs(ctx, slog.LevelInfo, "console_activity",
		slog.String("event_id", env.EventID),
		slog.String("event_type", env.EventType),
		slog.String("action", a.Action),
		slog.String("user", a.User),
		slog.Int64("order_id", a.OrderID),
		slog.String("outcome", a.Outcome),
		slog.String("message", a.Message),
		slog.Int64("duration_ms", a.DurationMS),
	)
	return nil
}

// Multi fans out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, env Envelope) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
