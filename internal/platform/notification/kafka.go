package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel publishes each notification as a JSON event keyed by recipient,
// so one recipient's events stay ordered within a partition.
type KafkaChannel struct {
	writer messageWriter
	topic  string
}

func NewKafkaChannel(brokers []string, topic string) *KafkaChannel {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaChannel{writer: w, topic: topic}
}

func (k *KafkaChannel) Name() string { return "kafka" }

type notificationEvent struct {
	Type         string        `json:"type"`
	Notification *Notification `json:"notification"`
}

func (k *KafkaChannel) Send(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(notificationEvent{Type: "notification.sent", Notification: n})
	if err != nil {
		return fmt.Errorf("encode notification event: %w", err)
	}
	key := n.RecipientID.String()
	if n.Broadcast() {
		key = "pool:" + string(n.RecipientRole)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "category", Value: []byte(n.Category)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaChannel) Close() error {
	return k.writer.Close()
}
