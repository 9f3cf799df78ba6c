package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSPublisher publishes outbox messages to JetStream under
// "<prefix>.<topic>". The outbox message id is sent as the JetStream
// message id so redelivered messages are deduplicated by the server.
type NATSPublisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// ConnectNATS dials url and binds a JetStream context.
func ConnectNATS(url, prefix string) (*NATSPublisher, error) {
	if prefix == "" {
		return nil, fmt.Errorf("outbox: empty subject prefix")
	}
	conn, err := nats.Connect(url,
		nats.Name("guildcourt-outbox"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("outbox: connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("outbox: create JetStream context: %w", err)
	}
	return &NATSPublisher{conn: conn, js: js, prefix: prefix}, nil
}

// EnsureStream creates or updates the stream capturing every subject under
// the prefix.
func (p *NATSPublisher) EnsureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName(p.prefix),
		Subjects:   []string{p.prefix + ".>"},
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("outbox: ensure stream: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Publish(ctx context.Context, msg Message) error {
	subject := Subject(p.prefix, msg.Topic)
	if _, err := p.js.Publish(ctx, subject, msg.Payload, jetstream.WithMsgID(msg.ID.String())); err != nil {
		return fmt.Errorf("outbox: publish %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// Subject maps an event topic onto the NATS subject or Kafka topic it is
// published on.
func Subject(prefix, topic string) string {
	return prefix + "." + topic
}

func streamName(prefix string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(prefix))
}
