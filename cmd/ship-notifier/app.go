package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BearBump/ShipLedger/config"
	"github.com/BearBump/ShipLedger/internal/broker/kafka"
	"github.com/BearBump/ShipLedger/internal/broker/messages"
	"github.com/BearBump/ShipLedger/internal/services/notifier"
)

type shipmentConsumer interface {
	Consume(ctx context.Context, handler func(messages.ShipmentUpdated) error) error
	Close() error
}

type notifierFactories struct {
	newConsumer func(cfg *config.Config, topic, group string) shipmentConsumer
}

func defaultNotifierFactories() notifierFactories {
	return notifierFactories{
		newConsumer: func(cfg *config.Config, topic, group string) shipmentConsumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewConsumer(brokers, topic, group)
		},
	}
}

func runShipNotifier(ctx context.Context, cfg *config.Config, f notifierFactories) error {
	topic := cfg.Kafka.ShipmentUpdatedTopicName
	if topic == "" {
		topic = "shipment.updated"
	}
	group := cfg.ShipLedger.KafkaConsumerGroup
	if group == "" {
		group = "ship-notifier"
	}
	httpAddr := cfg.ShipLedger.NotifierHTTPAddr
	if httpAddr == "" {
		httpAddr = ":8081"
	}

	n := notifier.New(slog.Default())

	consumer := f.newConsumer(cfg, topic, group)
	defer func() { _ = consumer.Close() }()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runNotifierHTTPServer(ctx, notifierHTTPOpts{httpAddr: httpAddr, notifier: n})
	}()

	consumeErr := make(chan error, 1)
	go func() {
		slog.Info("kafka consumer started", "topic", topic, "group", group)
		consumeErr <- consumer.Consume(ctx, n.Handle)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-consumeErr:
		return err
	case err := <-httpErr:
		return err
	}
}
