// Package consumer reads roster events from Kafka for downstream processing.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	wireHeaderLen = 5
	wireMagicByte = 0x00
)

// Reader is the subset of *kafka.Reader the processor relies on.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler consumes one decoded roster event.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is a roster event record with its framing removed.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	EventID       string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the processor's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRetryBackoff sets how long Run pauses after a failed fetch or handler call.
func WithRetryBackoff(d time.Duration) Option {
	return func(p *Processor) {
		p.backoff = d
	}
}

// Processor drives a Reader and hands each decoded record to a Handler.
//
// Kafka offsets are cumulative, so a record the handler rejects is retried in
// place until it succeeds or the context ends. Nothing after it is fetched or
// committed in the meantime. Records that cannot be decoded are committed and
// skipped.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *zap.Logger
	backoff time.Duration
}

// NewProcessor builds a Processor.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  zap.NewNop(),
		backoff: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until ctx is done and returns the context's error.
func (p *Processor) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		record, err := p.reader.FetchMessage(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			p.logger.Warn("fetch failed", zap.Error(err))
			p.pause(ctx)
			continue
		}

		if err := p.process(ctx, record); err != nil {
			return err
		}
		p.commit(ctx, record)
	}
	return ctx.Err()
}

// process returns nil once the record may be committed, or the context's
// error if it ended while the handler was still failing.
func (p *Processor) process(ctx context.Context, record kafka.Message) error {
	msg, err := decodeMessage(record)
	if err != nil {
		recordDecodeError(record.Topic)
		p.logger.Warn("dropping undecodable record",
			zap.String("topic", record.Topic),
			zap.Int("partition", record.Partition),
			zap.Int64("offset", record.Offset),
			zap.Error(err),
		)
		return nil
	}

	for attempt := 1; ; attempt++ {
		err := p.handler.Handle(ctx, msg)
		if err == nil {
			recordProcessed(msg)
			return nil
		}
		recordHandlerError(msg)
		p.logger.Error("handler failed",
			zap.String("event_type", msg.EventType),
			zap.String("event_id", msg.EventID),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		p.pause(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
}

func (p *Processor) commit(ctx context.Context, record kafka.Message) {
	if err := p.reader.CommitMessages(ctx, record); err != nil {
		p.logger.Warn("commit failed",
			zap.String("topic", record.Topic),
			zap.Int64("offset", record.Offset),
			zap.Error(err),
		)
	}
}

func (p *Processor) pause(ctx context.Context) {
	if p.backoff <= 0 {
		return
	}
	timer := time.NewTimer(p.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// decodeMessage strips the schema registry frame and lifts routing headers.
func decodeMessage(record kafka.Message) (Message, error) {
	if len(record.Value) < wireHeaderLen {
		return Message{}, fmt.Errorf("record too short: %d bytes", len(record.Value))
	}
	if record.Value[0] != wireMagicByte {
		return Message{}, fmt.Errorf("unknown magic byte: %d", record.Value[0])
	}

	headers := make(map[string]string, len(record.Headers))
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	eventType := headers["event_type"]
	if eventType == "" {
		return Message{}, errors.New("missing event_type header")
	}

	payload := record.Value[wireHeaderLen:]
	if !json.Valid(payload) {
		return Message{}, errors.New("payload is not valid JSON")
	}

	return Message{
		Topic:         record.Topic,
		Partition:     record.Partition,
		Offset:        record.Offset,
		Timestamp:     record.Time,
		EventType:     eventType,
		EventID:       headers["event_id"],
		SchemaSubject: headers["schema_subject"],
		SchemaID:      int(binary.BigEndian.Uint32(record.Value[1:wireHeaderLen])),
		Payload:       json.RawMessage(payload),
	}, nil
}
