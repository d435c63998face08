package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-console/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps the credential in redis so a console profile outlives
// the process. The key expires with the token.
type RedisStorage struct {
	rdb     redis.Cmdable
	profile string
	now     func() time.Time
}

func NewRedisStorage(rdb redis.Cmdable, profile string) *RedisStorage {
	if profile == "" {
		profile = "default"
	}
	return &RedisStorage{rdb: rdb, profile: profile, now: time.Now}
}

func (r *RedisStorage) key() string { return fmt.Sprintf(redisx.KeySession, r.profile) }

func (r *RedisStorage) Load(ctx context.Context) (Session, error) {
	b, err := r.rdb.Get(ctx, r.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}

func (r *RedisStorage) Save(ctx context.Context, s Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ttl := redisx.TTLSession
	if !s.ExpiresAt.IsZero() {
		if left := s.ExpiresAt.Sub(r.now()); left < ttl {
			ttl = left
		}
	}
	if ttl <= 0 {
		return ErrMalformedToken
	}
	return r.rdb.Set(ctx, r.key(), b, ttl).Err()
}

func (r *RedisStorage) Delete(ctx context.Context) error {
	return r.rdb.Del(ctx, r.key()).Err()
}
