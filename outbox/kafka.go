package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes outbox messages to the Kafka topic "<prefix>.<topic>".
// Messages are keyed by dispute id so one dispute's events stay on one
// partition and keep their order.
type KafkaPublisher struct {
	writer *kafka.Writer
	prefix string
}

func NewKafkaPublisher(brokers []string, prefix string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("outbox: kafka publisher requires at least one broker")
	}
	if prefix == "" {
		return nil, errors.New("outbox: empty topic prefix")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		prefix: prefix,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	topic := Subject(p.prefix, msg.Topic)
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(partitionKey(msg)),
		Value: msg.Payload,
		Time:  msg.CreatedAt,
		Headers: []kafka.Header{
			{Key: "message-id", Value: []byte(msg.ID.String())},
			{Key: "seq", Value: []byte(strconv.FormatUint(msg.Seq, 10))},
		},
	})
	if err != nil {
		return fmt.Errorf("outbox: kafka publish %s: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// partitionKey is the payload's dispute_id, or the message id for payloads
// without one.
func partitionKey(msg Message) string {
	var keyed struct {
		DisputeID *uint64 `json:"dispute_id"`
	}
	if err := json.Unmarshal(msg.Payload, &keyed); err == nil && keyed.DisputeID != nil {
		return "dispute-" + strconv.FormatUint(*keyed.DisputeID, 10)
	}
	return msg.ID.String()
}

// Fanout delivers each message to every publisher. A failure on any of them
// fails the delivery, so the relay retries and consumers deduplicate on
// Message.ID.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, msg Message) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
