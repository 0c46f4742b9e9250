package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	requiredAcks := kafka.RequiredAcks(cfg.RequiredAcks)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           requiredAcks,
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PackageEvent represents a lifecycle event about an import package
type PackageEvent struct {
	EventType     string          `json:"event_type"` // received, verified, validated, committed, failed, rejected
	TenantID      string          `json:"tenant_id"`
	PackageID     string          `json:"package_id"`
	PackageNumber string          `json:"package_number,omitempty"`
	Status        string          `json:"status"`
	Data          json.RawMessage `json:"data,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ConflictEvent represents a duplicate-detection event
type ConflictEvent struct {
	EventType  string    `json:"event_type"` // conflict.detected, conflict.resolved
	TenantID   string    `json:"tenant_id"`
	ConflictID string    `json:"conflict_id"`
	PackageID  string    `json:"package_id"`
	EntityType string    `json:"entity_type"`
	EntityAID  string    `json:"entity_a_id"`
	EntityBID  string    `json:"entity_b_id"`
	Score      float64   `json:"score"`
	Priority   string    `json:"priority,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PublishPackageEvent publishes a package lifecycle event to Kafka
func (p *Producer) PublishPackageEvent(ctx context.Context, event *PackageEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishPackageEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.PackageID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "tenant_id", Value: []byte(event.TenantID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.KafkaMessagesPublished.WithLabelValues(p.topic, "error").Inc()
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish package event")
		return err
	}
	metrics.KafkaMessagesPublished.WithLabelValues(p.topic, "ok").Inc()

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.EventType,
		"package_id": event.PackageID,
		"status":     event.Status,
	}).Debug("Published package event")

	return nil
}

// PublishConflictEvent publishes a conflict event to Kafka
func (p *Producer) PublishConflictEvent(ctx context.Context, event *ConflictEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishConflictEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.PackageID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "tenant_id", Value: []byte(event.TenantID)},
			{Key: "entity_type", Value: []byte(event.EntityType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.KafkaMessagesPublished.WithLabelValues(p.topic, "error").Inc()
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish conflict event")
		return err
	}
	metrics.KafkaMessagesPublished.WithLabelValues(p.topic, "ok").Inc()

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type":  event.EventType,
		"conflict_id": event.ConflictID,
		"package_id":  event.PackageID,
	}).Debug("Published conflict event")

	return nil
}

// PublishConflictEvents publishes multiple conflict events in a batch
func (p *Producer) PublishConflictEvents(ctx context.Context, events []*ConflictEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishConflictEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}

		data, err := json.Marshal(event)
		if err != nil {
			return err
		}

		messages[i] = kafka.Message{
			Topic: p.topic,
			Key:   []byte(event.PackageID),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.EventType)},
				{Key: "tenant_id", Value: []byte(event.TenantID)},
				{Key: "entity_type", Value: []byte(event.EntityType)},
				{Key: "schema_version", Value: []byte("1.0")},
			},
		}
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		metrics.KafkaMessagesPublished.WithLabelValues(p.topic, "error").Add(float64(len(messages)))
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish conflict events batch")
		return err
	}
	metrics.KafkaMessagesPublished.WithLabelValues(p.topic, "ok").Add(float64(len(messages)))

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
	}).Debug("Published conflict events batch")

	return nil
}
