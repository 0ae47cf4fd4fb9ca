//go:build integration

package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkacontainer "github.com/testcontainers/testcontainers-go/modules/kafka"
	"go.uber.org/zap/zaptest"

	"example.com/extracurricular/internal/events"
)

func TestDispatcherDeliversToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkacontainer.Run(ctx, "confluentinc/confluent-local:7.5.0",
		testcontainers.WithEnv(map[string]string{"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true"}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	schemaRegistry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":11}`))
	}))
	defer schemaRegistry.Close()

	topic := "activity_roster_events"
	createTopic(t, brokers[0], topic)

	cfg := DispatcherConfig{
		Topic:        topic,
		PollInterval: 50 * time.Millisecond,
		BatchSize:    10,
	}
	producer := NewKafkaProducer(brokers, cfg)
	defer producer.Close()

	queue := NewQueue(16)
	dispatcher := NewDispatcher(queue, producer, NewSchemaRegistryClient(schemaRegistry.URL), cfg, zaptest.NewLogger(t))

	beforeDelivered := testutil.ToFloat64(deliveredCounter)
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, queue.Record(ctx, sampleEvent("evt-1", events.TypeParticipantSignedUp)))
	require.NoError(t, queue.Record(ctx, sampleEvent("evt-2", events.TypeParticipantUnregistered)))
	require.NoError(t, dispatcher.processBatch(ctx))

	require.InDelta(t, beforeDelivered+2, testutil.ToFloat64(deliveredCounter), 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)
	require.Zero(t, queue.Len())

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	for _, want := range []struct{ id, eventType string }{
		{"evt-1", events.TypeParticipantSignedUp},
		{"evt-2", events.TypeParticipantUnregistered},
	} {
		msg, err := reader.ReadMessage(ctx)
		require.NoError(t, err)
		require.Equal(t, "Chess Club", string(msg.Key))
		require.Equal(t, want.eventType, headerValue(msg, "event_type"))
		require.Equal(t, want.id, headerValue(msg, "event_id"))

		require.Equal(t, byte(0), msg.Value[0])
		require.Equal(t, uint32(11), binary.BigEndian.Uint32(msg.Value[1:5]))

		var decoded events.RosterChanged
		require.NoError(t, json.Unmarshal(msg.Value[5:], &decoded))
		require.Equal(t, want.id, decoded.EventID)
	}
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}
