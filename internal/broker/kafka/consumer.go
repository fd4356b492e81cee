package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/ParcelDesk/internal/broker/messages"
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

// Consume hands each message to handler and commits it once handler returns
// nil. A handler error stops the loop with the message left uncommitted.
// Cancelling ctx returns ctx.Err().
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "commit message")
		}
	}
}

// ConsumeShipmentEvents decodes every message as a messages.ShipmentEvent.
// Payloads that do not decode go to skip and are committed, so a poison
// message never blocks its partition.
func (c *Consumer) ConsumeShipmentEvents(ctx context.Context, handle func(context.Context, messages.ShipmentEvent) error, skip func(value []byte, err error)) error {
	return c.Consume(ctx, func(_, value []byte) error {
		var ev messages.ShipmentEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			if skip != nil {
				skip(value, err)
			}
			return nil
		}
		return handle(ctx, ev)
	})
}
