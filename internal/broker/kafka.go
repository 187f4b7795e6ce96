package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pos-gateway/internal/util"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of kafka.Writer the producer needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer, topic)
}

// NewProducerWithWriter creates a producer around an existing writer
func NewProducerWithWriter(writer MessageWriter, topic string) *Producer {
	return &Producer{writer: writer, topic: topic, logger: util.GetLogger()}
}

// PublishEvent publishes an event to Kafka. Messages with the same key keep their order.
func (p *Producer) PublishEvent(ctx context.Context, key string, event interface{}, headers ...kafka.Header) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:     []byte(key),
		Value:   eventBytes,
		Headers: headers,
		Time:    time.Now(),
	}

	err = p.writer.WriteMessages(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debug("Published event",
		zap.String("topic", p.topic),
		zap.String("key", key),
		zap.String("type", fmt.Sprintf("%T", event)))
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// MessageReader is the subset of kafka.Reader the consumer needs
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// retryPolicy bounds how long one message is retried before the consumer gives up
type retryPolicy struct {
	initial    time.Duration
	max        time.Duration
	maxElapsed time.Duration
}

// Consumer represents a Kafka consumer
type Consumer struct {
	reader MessageReader
	topic  string
	retry  retryPolicy
	logger *zap.Logger
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	return NewConsumerWithReader(reader, topic)
}

// NewConsumerWithReader creates a consumer around an existing reader
func NewConsumerWithReader(reader MessageReader, topic string) *Consumer {
	return &Consumer{
		reader: reader,
		topic:  topic,
		retry: retryPolicy{
			initial:    time.Second,
			max:        30 * time.Second,
			maxElapsed: 5 * time.Minute,
		},
		logger: util.GetLogger(),
	}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming fetches messages until ctx is cancelled. A failed message is
// retried in place and the next one is not fetched until it succeeds, since the
// reader has already moved past it and a later commit would skip it. When the
// retries run out StartConsuming returns with the message uncommitted, so the
// group redelivers it once the consumer restarts.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting Kafka consumer", zap.String("topic", c.topic))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer context cancelled, stopping", zap.String("topic", c.topic))
			return ctx.Err()
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Error("Error fetching message", zap.String("topic", c.topic), zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			if err := c.handle(ctx, handler, msg); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Error("Giving up on message, stopping consumer",
					zap.String("topic", c.topic),
					zap.Int("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				return fmt.Errorf("handler failed for %s offset %d: %w", c.topic, msg.Offset, err)
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Error("Error committing message", zap.String("topic", c.topic), zap.Error(err))
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.initial
	b.MaxInterval = c.retry.max
	b.MaxElapsedTime = c.retry.maxElapsed
	b.Reset()

	attempt := 0
	op := func() error {
		attempt++
		return handler(ctx, msg)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Error handling message, retrying",
			zap.String("topic", c.topic),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}
