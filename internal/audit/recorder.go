package audit

import (
	"context"
	"fmt"

	kafkax "github.com/ariefcatur/go-order-console/internal/kafka"
	"github.com/ariefcatur/go-order-console/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// Recorder moves activity events from the kafka topic into a Sink,
// skipping event ids it has already stored.
type Recorder struct {
	Store       Sink
	Redis       redis.Cmdable
	ServiceName string
}

// HandleMessage is installed as the consumer handler.
func (r *Recorder) HandleMessage(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.Decode[Envelope](m.Value)
	if err != nil {
		// poison message: nothing to retry
		return nil
	}
	if env.EventID == "" {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, r.ServiceName, env.EventID)
	if r.Redis != nil {
		first, err := redisx.MarkOnce(ctx, r.Redis, dkey, redisx.TTLDedup)
		if err == nil && !first {
			return nil
		}
	}

	if err := r.Store.Record(ctx, env); err != nil {
		if r.Redis != nil {
			_ = r.Redis.Del(ctx, dkey).Err()
		}
		return fmt.Errorf("store event %s: %w", env.EventID, err)
	}
	return nil
}
