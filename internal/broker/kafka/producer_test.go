package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/BearBump/ParcelSync/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	last   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.last = append([]kafka.Message{}, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducer_PublishEventMessage(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw)

	ev := messages.Event{ID: "e1", Kind: "order_delivered", OrderID: "o9"}
	b, err := json.Marshal(ev)
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), "parcelsync.events", []byte(ev.Key()), b))
	require.Len(t, fw.last, 1)
	require.Equal(t, "parcelsync.events", fw.last[0].Topic)
	require.Equal(t, []byte("o9"), fw.last[0].Key)

	var back messages.Event
	require.NoError(t, json.Unmarshal(fw.last[0].Value, &back))
	require.Equal(t, "order_delivered", back.Kind)
}

func TestProducer_CloseClosesWriter(t *testing.T) {
	fw := &fakeWriter{}
	require.NoError(t, newProducerWithWriter(fw).Close())
	require.True(t, fw.closed)
}
