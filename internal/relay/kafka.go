package relay

import (
	"context"
	"fmt"
	"strconv"

	skafka "github.com/segmentio/kafka-go"

	"github.com/jmerrifield20/TriageLedger/internal/auditledger"
)

// Writer is the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// KafkaPublisher writes each event as a JSON message keyed by record ID, so
// all events of one record land on one partition in order.
type KafkaPublisher struct {
	writer Writer
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &skafka.Writer{
		Addr:         skafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &skafka.Hash{},
		RequiredAcks: skafka.RequireAll,
	}
	return &KafkaPublisher{writer: w}
}

// NewKafkaPublisherWithWriter allows injecting a test writer.
func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

// Publish writes ev synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, ev *auditledger.AuditEvent) error {
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	msg := skafka.Message{
		Key:   []byte(partitionKey(ev)),
		Value: body,
		Headers: []skafka.Header{
			{Key: "event-id", Value: []byte(ev.ID.String())},
			{Key: "event-kind", Value: []byte(ev.Kind)},
			{Key: "event-seq", Value: []byte(strconv.FormatUint(ev.Seq, 10))},
		},
		Time: ev.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
