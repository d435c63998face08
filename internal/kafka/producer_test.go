package kafka

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	f.msgs = append(f.msgs, msgs...)
	f.mu.Unlock()
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestProducerFlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 8, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.Start(context.Background())

	for _, k := range []string{"1", "2", "3"} {
		if err := p.Publish([]byte(k), []byte("v"+k)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	p.Close()
	p.Close()
	p.WaitClosed()

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.msgs) != 3 {
		t.Fatalf("Expected 3 messages written, got %d", len(w.msgs))
	}
	if string(w.msgs[2].Value) != "v3" {
		t.Errorf("Expected ordered writes, got %q last", w.msgs[2].Value)
	}
	if !w.closed {
		t.Error("Expected writer to be closed")
	}
}

func TestProducerFullInbox(t *testing.T) {
	p := newProducer(&fakeWriter{}, 1, nil)
	// not started: the inbox fills up
	if err := p.Publish(nil, []byte("a")); err != nil {
		t.Fatalf("first Publish failed: %v", err)
	}
	if err := p.Publish(nil, []byte("b")); err != ErrProducerFull {
		t.Errorf("Expected ErrProducerFull, got %v", err)
	}
}

func TestDecode(t *testing.T) {
	type payload struct {
		OrderID int64 `json:"order_id"`
	}
	got, err := Decode[payload](MustMarshal(payload{OrderID: 9}))
	if err != nil || got.OrderID != 9 {
		t.Errorf("Decode = %+v, %v", got, err)
	}
	if _, err := Decode[payload]([]byte("{")); err == nil {
		t.Error("Expected decode error")
	}
}
