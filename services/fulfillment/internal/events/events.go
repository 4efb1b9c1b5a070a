// Package events publishes fulfillment domain events. Publishing is best
// effort: callers log failures and never change an outcome because of one.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	LicensePurchased  = "license.purchased"
	ProjectRelicensed = "project.relicensed"
	WaiverIssued      = "waiver.issued"
	ProjectOffered    = "project.offered"
	ProjectRetracted  = "project.retracted"
)

type Event struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaPublisher writes every event to topic, keyed by Event.Key so
// events about one order or project stay ordered within a partition.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if topic == "" {
		topic = "licensezero.fulfillment"
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.Key),
		Value: payload,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Memory records published events.
type Memory struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (m *Memory) Publish(_ context.Context, evt Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, evt)
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
