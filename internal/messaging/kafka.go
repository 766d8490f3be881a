package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/vasiliy-maslov/ecommerce-orders/internal/config"
)

// KafkaReader is the part of *kafka.Reader the subscriber uses.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSubscriber feeds events from a Kafka topic to an EventHandlerFunc.
// A message whose handler fails with a retryable error is handled again with
// exponential backoff and its offset stays uncommitted until it succeeds or
// fails for good. Everything else is committed.
type KafkaSubscriber struct {
	reader     KafkaReader
	topic      string
	retryable  func(error) bool
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewKafkaSubscriber(cfg config.KafkaConfig, retryable func(error) bool) *KafkaSubscriber {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return NewKafkaSubscriberWithReader(reader, cfg, retryable)
}

func NewKafkaSubscriberWithReader(reader KafkaReader, cfg config.KafkaConfig, retryable func(error) bool) *KafkaSubscriber {
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	return &KafkaSubscriber{
		reader:     reader,
		topic:      cfg.Topic,
		retryable:  retryable,
		backoff:    cfg.RetryBackoff,
		maxBackoff: cfg.MaxRetryBackoff,
	}
}

// Run blocks until ctx is cancelled. A message still being retried at that
// point is left uncommitted, so the group resumes from it.
func (s *KafkaSubscriber) Run(ctx context.Context, h EventHandlerFunc) error {
	log.Info().Str("topic", s.topic).Msg("kafka: consuming events")
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error().Err(err).Str("topic", s.topic).Msg("kafka: read error")
			if !sleep(ctx, 2*time.Second) {
				return nil
			}
			continue
		}

		if !s.handle(ctx, h, msg) {
			log.Info().Int64("offset", msg.Offset).Int("partition", msg.Partition).Msg("kafka: stopping with message uncommitted")
			return nil
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("kafka: failed to commit offset")
		}
	}
}

// handle reports false when ctx ended before msg was settled.
func (s *KafkaSubscriber) handle(ctx context.Context, h EventHandlerFunc, msg kafka.Message) bool {
	backoff := s.backoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, EventData(msg.Value))
		if err == nil {
			return true
		}

		event := log.Warn().Err(err).
			Str("topic", msg.Topic).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Str("key", string(msg.Key)).
			Int("attempt", attempt)

		if !s.retryable(err) {
			event.Msg("kafka: event handler failed permanently, committing")
			return true
		}
		event.Dur("backoff", backoff).Msg("kafka: event handler failed, retrying")

		if !sleep(ctx, backoff) {
			return false
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

func (s *KafkaSubscriber) Close() error {
	return s.reader.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
