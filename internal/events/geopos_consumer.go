// Package events consumes the geoposition reports published by the
// geo-clustering service.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"engage-service/internal/service/dissemination"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topic   string
}

type GeoposHandler interface {
	HandleGeoposition(ctx context.Context, ev dissemination.GeoposEvent) (int, error)
}

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type GeoposConsumer struct {
	reader  messageReader
	handler GeoposHandler
	logger  *zap.Logger
}

func NewGeoposConsumer(cfg KafkaConfig, handler GeoposHandler, logger *zap.Logger) (*GeoposConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one broker")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer requires group id")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka consumer requires a topic")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return &GeoposConsumer{reader: reader, handler: handler, logger: logger}, nil
}

// Run consumes until ctx is done. Every message is committed once handled,
// including malformed ones, so a bad report never blocks the partition.
func (c *GeoposConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch geoposition message: %w", err)
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn("failed to commit geoposition message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

func (c *GeoposConsumer) handle(ctx context.Context, msg kafka.Message) {
	var ev dissemination.GeoposEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.TerminalID == 0 {
		c.logger.Warn("malformed geoposition message dropped",
			zap.Int64("offset", msg.Offset),
			zap.ByteString("payload", msg.Value),
		)
		return
	}

	fired, err := c.handler.HandleGeoposition(ctx, ev)
	if err != nil {
		c.logger.Warn("geoposition not handled",
			zap.Int64("terminal_id", ev.TerminalID),
			zap.Error(err),
		)
		return
	}
	if fired > 0 {
		c.logger.Info("geoposition fired disseminations",
			zap.Int64("terminal_id", ev.TerminalID),
			zap.Int("fired", fired),
		)
	}
}

func (c *GeoposConsumer) Close() error {
	return c.reader.Close()
}
