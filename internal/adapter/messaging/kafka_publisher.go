package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/rl1809/keyshop/internal/core/domain"
	"github.com/rl1809/keyshop/internal/port"
)

const (
	eventTypeHeader = "event-type"

	// DefaultPublishTimeout bounds how long a purchase waits on an unreachable broker.
	DefaultPublishTimeout = 2 * time.Second
)

// MessageWriter is the slice of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer  MessageWriter
	logger  *zap.Logger
	timeout time.Duration
}

// NewKafkaWriter builds a writer tuned for small, latency-sensitive events.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		BatchSize:              100,
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           DefaultPublishTimeout,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaPublisher(writer MessageWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, logger: logger, timeout: DefaultPublishTimeout}
}

var _ port.EventPublisher = (*KafkaPublisher)(nil)

// PublishLowStock keys the message by product so a product's warnings stay ordered in one partition.
// The write is bounded by the publisher timeout and ignores cancellation of the caller's request.
func (p *KafkaPublisher) PublishLowStock(ctx context.Context, event domain.LowStockEvent) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode low stock event: %w", err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]kafka.Header, 0, len(carrier)+1)
	headers = append(headers, kafka.Header{Key: eventTypeHeader, Value: []byte("low_stock")})
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	msg := kafka.Message{
		Key:     []byte(strconv.FormatInt(event.ProductID, 10)),
		Value:   payload,
		Headers: headers,
		Time:    event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write low stock event: %w", err)
	}

	p.logger.Debug("published low stock event",
		zap.Int64("product_id", event.ProductID),
		zap.Int64("notification_id", event.NotificationID),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishLowStock(context.Context, domain.LowStockEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
