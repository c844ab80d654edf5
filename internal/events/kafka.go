package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/babl-app/babl/internal/config"
)

// Kafka writes events to a single topic keyed by user id so one user's
// events stay ordered within a partition.
type Kafka struct {
	writer  *kafka.Writer
	timeout time.Duration
	logger  *zap.Logger
}

const defaultPublishTimeout = 2 * time.Second

func NewKafka(cfg config.KafkaConfig, logger *zap.Logger) *Kafka {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Kafka{
		timeout: timeout,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			Transport: &kafka.Transport{
				ClientID: cfg.ClientID,
			},
		},
		logger: logger,
	}
}

// NewPublisher returns a Kafka publisher when brokers are configured and a
// Nop otherwise.
func NewPublisher(cfg config.KafkaConfig, logger *zap.Logger) Publisher {
	if len(cfg.Brokers) == 0 {
		return Nop{}
	}
	return NewKafka(cfg, logger)
}

// Publish writes ev synchronously but gives up after the publish timeout, so
// an unreachable broker only delays the caller briefly.
func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(ev.UserID), 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
		Time: ev.OccurredAt,
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.logger.Error("failed to publish event",
			zap.String("type", ev.Type),
			zap.Uint("user_id", ev.UserID),
			zap.Error(err))
		return fmt.Errorf("events: publish %s: %w", ev.Type, err)
	}

	k.logger.Debug("event published", zap.String("type", ev.Type), zap.Uint("user_id", ev.UserID))
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
