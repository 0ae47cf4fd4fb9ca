package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// DispatcherConfig holds delivery tunables.
type DispatcherConfig struct {
	Topic        string
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseDelay    time.Duration
}

// Dispatcher drains the queue and delivers roster events to Kafka using Schema Registry framing.
type Dispatcher struct {
	queue            *Queue
	producer         messageWriter
	registry         schemaRegistrar
	cfg              DispatcherConfig
	logger           *zap.Logger
	schemaIDs        sync.Map
	now              func() time.Time
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(queue *Queue, producer messageWriter, registry schemaRegistrar, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:            queue,
		producer:         producer,
		registry:         registry,
		cfg:              cfg,
		logger:           logger,
		now:              time.Now,
		shutdownComplete: make(chan struct{}),
	}
}

// Start runs the polling loop until ctx is cancelled, then attempts one final
// flush. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		select {
		case <-ctx.Done():
			d.flush()
			return
		case <-ticker.C:
		}

		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("outbox delivery failed", zap.Error(err))
		}
	}
}

// Wait blocks until Start has returned.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

func (d *Dispatcher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.processBatch(ctx); err != nil {
		d.logger.Warn("outbox final flush failed", zap.Error(err), zap.Int("remaining", d.queue.Len()))
	}
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	batch := d.queue.take(d.cfg.BatchSize, d.now())
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	batch = d.dropInvalid(batch)
	if len(batch) == 0 {
		return nil
	}

	if err := d.deliver(ctx, batch); err != nil {
		failedCounter.Add(float64(len(batch)))
		d.retryOrDeadLetter(batch, err)
		return err
	}

	deliveredCounter.Add(float64(len(batch)))
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, batch []pending) error {
	subject := subjectFor(d.cfg.Topic)
	schemaID, err := d.schemaID(ctx, subject)
	if err != nil {
		return err
	}

	records := make([]kafka.Message, 0, len(batch))
	for _, item := range batch {
		records = append(records, kafka.Message{
			Key:   []byte(item.event.Activity),
			Value: encodeWireFormat(schemaID, item.payload),
			Time:  item.event.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(item.event.EventType)},
				{Key: "event_id", Value: []byte(item.event.EventID)},
				{Key: "schema_subject", Value: []byte(subject)},
			},
		})
	}

	return d.producer.WriteMessages(ctx, d.cfg.Topic, records...)
}

// dropInvalid encodes each event and dead-letters those that cannot be
// published as-is. Retrying them would never succeed.
func (d *Dispatcher) dropInvalid(batch []pending) []pending {
	valid := batch[:0]
	for _, item := range batch {
		payload, err := json.Marshal(item.event)
		if err == nil {
			err = validatePayload(payload)
		}
		if err != nil {
			item.lastError = err.Error()
			d.deadLetter(item)
			continue
		}
		item.payload = payload
		valid = append(valid, item)
	}
	return valid
}

func (d *Dispatcher) schemaID(ctx context.Context, subject string) (int, error) {
	if cached, ok := d.schemaIDs.Load(subject); ok {
		return cached.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, subject, rosterChangedSchema)
	if err != nil {
		return 0, err
	}
	d.schemaIDs.Store(subject, id)
	return id, nil
}

func (d *Dispatcher) retryOrDeadLetter(batch []pending, cause error) {
	now := d.now()
	retry := make([]pending, 0, len(batch))
	for _, item := range batch {
		item.attempts++
		item.lastError = cause.Error()
		if item.attempts >= d.cfg.MaxAttempts {
			d.deadLetter(item)
			continue
		}
		item.notBefore = now.Add(d.backoffDelay(item.attempts))
		retry = append(retry, item)
	}
	d.queue.requeue(retry)
}

func (d *Dispatcher) deadLetter(item pending) {
	dlqCounter.WithLabelValues(item.event.EventType).Inc()
	d.logger.Error("roster event dead-lettered",
		zap.String("event_id", item.event.EventID),
		zap.String("event_type", item.event.EventType),
		zap.String("activity", item.event.Activity),
		zap.Int("attempts", item.attempts),
		zap.String("reason", item.lastError),
	)
}

// backoffDelay doubles the base delay per attempt, capped at one minute.
func (d *Dispatcher) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return time.Minute
	}
	delay := time.Duration(1<<uint(attempt-1)) * d.cfg.BaseDelay
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

// encodeWireFormat applies Confluent framing for Schema Registry aware payloads.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
