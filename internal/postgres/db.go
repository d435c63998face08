package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS console_activity (
	event_id     UUID PRIMARY KEY,
	event_type   TEXT        NOT NULL,
	occurred_at  TIMESTAMPTZ NOT NULL,
	producer     TEXT        NOT NULL,
	user_name    TEXT        NOT NULL,
	action       TEXT        NOT NULL,
	order_id     BIGINT,
	outcome      TEXT        NOT NULL,
	message      TEXT,
	payload      JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_console_activity_user ON console_activity(user_name, occurred_at);
CREATE INDEX IF NOT EXISTS idx_console_activity_order ON console_activity(order_id);
`

// EnsureSchema creates the activity table when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
