package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGStore appends envelopes to the console_activity table. Replays of the
// same event id are ignored.
type PGStore struct{ DB execer }

func (s PGStore) Record(ctx context.Context, env Envelope) error {
	a, err := env.Activity()
	if err != nil {
		return err
	}
	var orderID *int64
	if a.OrderID != 0 {
		orderID = &a.OrderID
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO console_activity(event_id, event_type, occurred_at, producer, user_name, action, order_id, outcome, message, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (event_id) DO NOTHING`,
		env.EventID, env.EventType, env.OccurredAt, env.Producer, a.User, a.Action, orderID, a.Outcome, a.Message, []byte(env.Payload),
	)
	return err
}
