package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/ShipLedger/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer читает shipment.updated и отдаёт уже раскодированные сообщения.
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

// Consume крутит цикл до ошибки чтения или отмены контекста.
// Нечитаемый JSON коммитим и пропускаем: повторная доставка его не вылечит.
// Ошибка обработчика останавливает цикл без коммита, сообщение не теряется.
func (c *Consumer) Consume(ctx context.Context, handler func(msg messages.ShipmentUpdated) error) error {
	for {
		raw, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}

		var msg messages.ShipmentUpdated
		if err := json.Unmarshal(raw.Value, &msg); err != nil {
			slog.Warn("skip malformed shipment.updated", "key", string(raw.Key), "err", err)
			if err := c.r.CommitMessages(ctx, raw); err != nil {
				return errors.Wrap(err, "commit malformed message")
			}
			continue
		}

		if err := handler(msg); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, raw); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}
