package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"smartbuilding/internal/config"
)

var ErrNoBrokers = errors.New("at least one kafka broker is required")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher forwards selected events to one topic, keyed by event name.
type KafkaPublisher struct {
	writer messageWriter
	events map[string]bool
	now    func() time.Time
}

func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}
	return newKafkaPublisher(writer, cfg.Events), nil
}

func newKafkaPublisher(w messageWriter, events []string) *KafkaPublisher {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[e] = true
	}
	return &KafkaPublisher{writer: w, events: allowed, now: time.Now}
}

// Forwards reports whether the event is sent to Kafka.
func (p *KafkaPublisher) Forwards(event string) bool {
	return p.events[event]
}

func (p *KafkaPublisher) Publish(ctx context.Context, event string, payload any) error {
	if !p.Forwards(event) {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", event, err)
	}

	msg := kafka.Message{
		Key:   []byte(event),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event)},
		},
		Time: p.now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", event, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
