// Package notify forwards turn events to external systems.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/memorialsite/agentgw/internal/bus"
)

const publishTimeout = 10 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes turn events to a topic, keyed by session id so one
// session's turns stay ordered within a partition.
type KafkaPublisher struct {
	w     messageWriter
	topic string
}

// NewKafkaPublisher creates a publisher for comma-separated brokers.
func NewKafkaPublisher(brokers, topic string) (*KafkaPublisher, error) {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("kafka publisher: no brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka publisher: no topic configured")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return &KafkaPublisher{w: w, topic: topic}, nil
}

// Publish writes one event.
func (p *KafkaPublisher) Publish(ctx context.Context, ev *bus.TurnEvent) error {
	msg, err := turnMessage(ev)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish turn %s to %s: %w", ev.TraceID, p.topic, err)
	}
	return nil
}

// Handle is a bus subscriber.
func (p *KafkaPublisher) Handle(ev *bus.TurnEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.Publish(ctx, ev); err != nil {
		slog.Warn("Kafka publish failed", "error", err)
	}
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error { return p.w.Close() }

func turnMessage(ev *bus.TurnEvent) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode turn event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "trace_id", Value: []byte(ev.TraceID)},
			{Key: "status", Value: []byte(ev.Status)},
		},
		Time: ev.Timestamp,
	}, nil
}
