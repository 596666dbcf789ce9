package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// LogSink writes entries through zerolog. It is the fallback when no
// broker is configured.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "audit").Logger()}
}

func (s *LogSink) Write(_ context.Context, entry Entry) error {
	event := s.logger.Info().
		Str("action", entry.Action).
		Str("resource_type", entry.ResourceType).
		Str("resource_id", entry.ResourceID).
		Time("occurred_at", entry.OccurredAt)
	if entry.ActorID != "" {
		event = event.Str("actor_id", entry.ActorID)
	}
	if len(entry.Metadata) > 0 {
		event = event.Interface("metadata", entry.Metadata)
	}
	event.Msg("audit")
	return nil
}

// messageWriter is the part of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes entries as JSON keyed by Entry.OrderKey, so order and
// payment events of one order land on the same partition. Webhook failures
// for an unknown payment are keyed by the provider reference instead.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

func NewKafkaSink(brokers []string, topic string, batchTimeout time.Duration) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 5 * time.Second,
		Compression:  kafka.Snappy,
		Transport: &kafka.Transport{
			Dial: (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		},
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Str("component", "kafka").Msgf(msg, args...)
		}),
	}
	return &KafkaSink{writer: w, topic: topic}
}

func newKafkaSinkWithWriter(w messageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic}
}

func (s *KafkaSink) Write(ctx context.Context, entry Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: failed to encode entry: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(entry.OrderKey()),
		Value: value,
		Time:  entry.OccurredAt,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(entry.Action)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("audit: failed to publish to %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
