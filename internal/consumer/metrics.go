package consumer

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	consumedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signup_service",
		Subsystem: "roster_consumer",
		Name:      "events_total",
		Help:      "Roster events read from Kafka by event type and handling result.",
	}, []string{"event_type", "result"})

	undecodableCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signup_service",
		Subsystem: "roster_consumer",
		Name:      "undecodable_records_total",
		Help:      "Records skipped because their framing or headers were invalid.",
	}, []string{"topic"})

	handledOffsetGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signup_service",
		Subsystem: "roster_consumer",
		Name:      "handled_offset",
		Help:      "Offset of the latest successfully handled record per partition.",
	}, []string{"partition"})
)

func init() {
	prometheus.MustRegister(consumedCounter, undecodableCounter, handledOffsetGauge)
}

func recordProcessed(msg Message) {
	consumedCounter.WithLabelValues(msg.EventType, "ok").Inc()
	handledOffsetGauge.WithLabelValues(strconv.Itoa(msg.Partition)).Set(float64(msg.Offset))
}

func recordHandlerError(msg Message) {
	consumedCounter.WithLabelValues(msg.EventType, "handler_error").Inc()
}

func recordDecodeError(topic string) {
	undecodableCounter.WithLabelValues(topic).Inc()
}
