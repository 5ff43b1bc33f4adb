package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/taskboard/service/internal/contracts"
	"github.com/taskboard/service/internal/platform/metrics"
)

var eventsPublished = metrics.NewCounterVec(metrics.Opts{
	Name: "taskboard_events_published_total",
	Help: "Task events published, by topic and result.",
}, []string{"topic", "result"})

func init() {
	metrics.Default.MustRegister(eventsPublished)
}

// jsPublisher is the slice of JetStream the publisher needs.
// nats.JetStreamContext satisfies it.
type jsPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher serializes task events and publishes each to the topic matching
// its event type. A single attempt, no retry; the mutation that triggered
// the event has already been committed, so callers log and discard failures.
type Publisher struct {
	Topics *Registry
	JS     jsPublisher
}

func NewPublisher(topics *Registry, js jsPublisher) *Publisher {
	return &Publisher{Topics: topics, JS: js}
}

// Publish returns the broker-assigned message id on success.
func (p *Publisher) Publish(event contracts.TaskEvent) (string, error) {
	topicName, err := contracts.TopicForEvent(event.EventType)
	if err != nil {
		return "", err
	}
	topic, err := p.Topics.Topic(topicName)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event %s: %w", event.EventType, err)
	}

	ack, err := p.JS.Publish(topic.Subject, payload)
	if err != nil {
		eventsPublished.WithLabelValues(topicName, "error").Inc()
		return "", fmt.Errorf("publish to %s: %w", topicName, err)
	}
	eventsPublished.WithLabelValues(topicName, "ok").Inc()
	return fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence), nil
}
