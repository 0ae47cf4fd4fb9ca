package outbox

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer publishes roster records through one kafka.Writer shared by
// every topic. Records are hashed on their key, the activity name, so each
// activity's events land on one partition in the order the dispatcher sends
// them.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer sizes the writer's batches to the dispatcher's so that one
// dispatcher batch goes out as one produce request.
func NewKafkaProducer(brokers []string, cfg DispatcherConfig) *KafkaProducer {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 25
	}
	return &KafkaProducer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Snappy,
		BatchSize:              batchSize,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            1,
		AllowAutoTopicCreation: true,
	}}
}

// WriteMessages stamps topic on each record and writes them synchronously.
// Retries belong to the dispatcher, which backs off per event.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	for i := range msgs {
		msgs[i].Topic = topic
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

// Close flushes and closes the writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
