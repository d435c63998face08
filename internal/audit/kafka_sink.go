package audit

import (
	"context"

	kafkax "github.com/ariefcatur/go-order-console/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
)

type publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header) error
}

// KafkaSink publishes envelopes keyed by user so one user's activity stays
// ordered within a partition.
type KafkaSink struct{ P publisher }

func NewKafkaSink(p *kafkax.Producer) KafkaSink { return KafkaSink{P: p} }

func (k KafkaSink) Record(_ context.Context, env Envelope) error {
	a, err := env.Activity()
	if err != nil {
		return err
	}
	return k.P.Publish([]byte(a.User), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
