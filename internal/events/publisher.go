package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/model"
)

const (
	metadataEventType = "event_type"
	metadataAttemptID = "attempt_id"
	metadataExamID    = "exam_id"

	eventTypeFinalized = "attempt.finalized"
)

// Publisher emits finalized results for the review queue.
type Publisher struct {
	pub   message.Publisher
	topic string
	log   zerolog.Logger
}

// New wraps any watermill publisher.
func New(pub message.Publisher, topic string, log zerolog.Logger) *Publisher {
	return &Publisher{
		pub:   pub,
		topic: topic,
		log:   log.With().Str("component", "events").Str("topic", topic).Logger(),
	}
}

// NewFromConfig publishes to Kafka when brokers are configured, otherwise to
// an in-process channel.
func NewFromConfig(cfg *config.Config, log zerolog.Logger) (*Publisher, error) {
	adapter := NewLoggerAdapter(log)

	if len(cfg.KafkaBrokers) == 0 {
		log.Warn().Msg("KAFKA_BROKERS not set, finalized events stay in-process")
		return New(gochannel.NewGoChannel(gochannel.Config{}, adapter), cfg.EventsTopic, log), nil
	}

	pub, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers: cfg.KafkaBrokers,
		// Keyed by exam so one exam's review queue stays ordered.
		Marshaler: kafka.NewWithPartitioningMarshaler(func(topic string, msg *message.Message) (string, error) {
			return msg.Metadata.Get(metadataExamID), nil
		}),
	}, adapter)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}

	log.Info().Strs("brokers", cfg.KafkaBrokers).Msg("Kafka publisher connected")
	return New(pub, cfg.EventsTopic, log), nil
}

// PublishFinalized emits one attempt.finalized event. Consumers must treat
// the attempt id as an idempotency key: a re-run pipeline publishes again.
func (p *Publisher) PublishFinalized(ctx context.Context, res *model.Result) error {
	payload, err := json.Marshal(model.AttemptEvent{
		Type:       model.AttemptEventFinalized,
		AttemptID:  res.AttemptID,
		ExamID:     res.ExamID,
		StudentID:  res.StudentID,
		Status:     res.Status,
		Result:     res,
		OccurredAt: res.ComputedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metadataEventType, eventTypeFinalized)
	msg.Metadata.Set(metadataAttemptID, res.AttemptID.String())
	msg.Metadata.Set(metadataExamID, res.ExamID.String())
	msg.SetContext(ctx)

	if err := p.pub.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", eventTypeFinalized, err)
	}

	p.log.Debug().
		Str("attempt_id", res.AttemptID.String()).
		Str("message_uuid", msg.UUID).
		Msg("Published finalized attempt")
	return nil
}

// Close flushes and closes the underlying publisher.
func (p *Publisher) Close() error {
	return p.pub.Close()
}
