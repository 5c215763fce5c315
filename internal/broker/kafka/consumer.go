package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/ParcelSync/internal/broker/messages"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r messageReader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{
		r: kafka.NewReader(cfg),
	}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume hands each message to handler and commits it afterwards. A
// handler error stops consumption with the message left uncommitted.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	return c.consume(ctx, func(msg kafka.Message) error {
		return handler(msg.Key, msg.Value)
	})
}

// ConsumeEvents decodes every message as an engine event. Undecodable
// messages are logged, skipped and committed.
func (c *Consumer) ConsumeEvents(ctx context.Context, handler func(messages.Event) error) error {
	return c.consume(ctx, func(msg kafka.Message) error {
		var e messages.Event
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			slog.Warn("skip undecodable event",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err.Error(),
			)
			return nil
		}
		return handler(e)
	})
}

func (c *Consumer) consume(ctx context.Context, handle func(kafka.Message) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := handle(msg); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrapf(err, "commit offset %d", msg.Offset)
		}
	}
}
