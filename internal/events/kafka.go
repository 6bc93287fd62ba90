package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes events as JSON messages keyed by subject, so all
// events about one record land on the same partition.
type KafkaPublisher struct {
	writer MessageWriter
	log    zerolog.Logger
}

// NewKafkaPublisher writes to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) *KafkaPublisher {
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}, log)
}

// NewKafkaPublisherWithWriter publishes through w.
func NewKafkaPublisherWithWriter(w MessageWriter, log zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, log: log}
}

// Notify publishes e. Delivery failures are logged and dropped.
func (p *KafkaPublisher) Notify(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		p.log.Error().Err(err).Str("event", string(e.Type)).Msg("marshaling event")
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Subject),
		Value: data,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		p.log.Error().Err(err).Str("event", string(e.Type)).Str("subject", e.Subject).Msg("publishing event")
	}
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
