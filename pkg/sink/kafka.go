package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each record as JSON keyed by the profile URL
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates a sink writing to topic on brokers
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: false,
		},
	}
}

// NewKafkaSinkWithWriter builds a sink on a custom writer
func NewKafkaSinkWithWriter(writer messageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

// Publish writes rec to Kafka
func (k *KafkaSink) Publish(ctx context.Context, rec models.ProfileRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(rec.ProfileID),
		Value: payload,
		Time:  time.Now().UTC(),
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, "kafka publish", err)
	}
	return nil
}

// Close shuts down the underlying writer
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
