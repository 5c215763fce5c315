package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/ParcelSync/internal/broker/messages"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Forwarder relays bus events to a broker topic.
type Forwarder struct {
	bus      *Bus
	producer Producer
	topic    string

	attempts int
	backoff  time.Duration
}

func NewForwarder(bus *Bus, producer Producer, topic string) *Forwarder {
	return &Forwarder{bus: bus, producer: producer, topic: topic, attempts: 5, backoff: 150 * time.Millisecond}
}

func (f *Forwarder) WithRetry(attempts int, backoff time.Duration) *Forwarder {
	if attempts > 0 {
		f.attempts = attempts
	}
	if backoff >= 0 {
		f.backoff = backoff
	}
	return f
}

// Run forwards until ctx is done. The subscription is released on return.
func (f *Forwarder) Run(ctx context.Context) error {
	sub := f.bus.Subscribe(1024)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := f.forward(ctx, e); err != nil {
				slog.Error("forward event", "kind", e.Kind, "error", err.Error())
			}
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, e Event) error {
	msg, err := ToMessage(e)
	if err != nil {
		return err
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal event message")
	}
	key := []byte(msg.Key())

	// The broker may still be starting up; retry briefly.
	var pubErr error
	for i := 0; i < f.attempts; i++ {
		if pubErr = f.producer.Publish(ctx, f.topic, key, b); pubErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * f.backoff):
		}
	}
	return pubErr
}

func ToMessage(e Event) (messages.Event, error) {
	msg := messages.Event{
		ID:        uuid.NewString(),
		Kind:      string(e.Kind),
		At:        e.At,
		SessionID: e.SessionID,
		OrderID:   e.OrderID,
	}
	if e.Data != nil {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return messages.Event{}, errors.Wrap(err, fmt.Sprintf("marshal %s payload", e.Kind))
		}
		msg.Data = raw
	}
	return msg, nil
}
