// Package firehose publishes committed messages to Kafka for downstream
// consumers (the archiver). It runs strictly after the store commit and is
// best-effort: a publish failure never fails the send that triggered it.
package firehose

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/eventpulse/chat-service/pkg/logging"
	"github.com/eventpulse/chat-service/pkg/model"
)

type Publisher struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

// NewPublisher returns nil when no brokers are configured; a nil Publisher
// is a valid no-op.
func NewPublisher(brokers []string, topic string) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
		},
		log: logging.With("firehose"),
	}
}

// Publish emits a committed message keyed by conversation so one
// conversation's feed stays ordered within a partition.
func (p *Publisher) Publish(ctx context.Context, msg *model.Message) {
	if p == nil {
		return
	}
	value, err := json.Marshal(msg)
	if err != nil {
		p.log.Error().Err(err).Msg("marshal firehose message")
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.ConversationID),
		Value: value,
		Time:  msg.CreatedAt,
	})
	if err != nil {
		p.log.Warn().Err(err).Int64("message_id", msg.ID).Msg("firehose publish failed")
	}
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}

// NewReader builds the consumer used by the archiver.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}
