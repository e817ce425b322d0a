package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
)

// KafkaProducer writes JSON records to one topic, keyed so that every record
// of one captain or ride lands on the same partition.
type KafkaProducer struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}, BatchTimeout: 10 * time.Millisecond})
	return &KafkaProducer{writer: w, topic: topic}
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, loc models.CaptainLocation) error {
	return k.publish(ctx, loc.CaptainID, loc)
}

func (k *KafkaProducer) PublishRideEvent(ctx context.Context, ev models.RideEvent) error {
	return k.publish(ctx, ev.RideID, ev)
}

func (k *KafkaProducer) publish(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err = k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
	observability.EventsPublished.WithLabelValues(k.topic, observability.Result(err)).Inc()
	return err
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
