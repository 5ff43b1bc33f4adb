package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultAckDeadline is how long the broker waits for an ack before
// redelivering a message.
const DefaultAckDeadline = 30 * time.Second

// PullSubscription is the consumer-facing slice of a pull subscription.
// *nats.Subscription satisfies it.
type PullSubscription interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
	Unsubscribe() error
}

// consumerManager is the slice of JetStream the manager needs.
// nats.JetStreamContext satisfies it.
type consumerManager interface {
	ConsumerInfo(stream, name string, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
	AddConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
	PullSubscribe(subj, durable string, opts ...nats.SubOpt) (*nats.Subscription, error)
}

// SubscriptionManager idempotently ensures named durable pull subscriptions
// bound to a topic. It holds no handler logic; consumers attach their own
// processing via Consume.
type SubscriptionManager struct {
	Topics *Registry
	JS     consumerManager
}

func NewSubscriptionManager(topics *Registry, js consumerManager) *SubscriptionManager {
	return &SubscriptionManager{Topics: topics, JS: js}
}

// GetOrCreateSubscription follows the same create-if-missing pattern as the
// topic registry: an "already exists" race with another initializer is
// success. Message retention is a property of the topic itself; the ack
// deadline is configured per subscription here.
func (m *SubscriptionManager) GetOrCreateSubscription(topicName, subName string, ackDeadline time.Duration) (PullSubscription, error) {
	topic, err := m.Topics.GetOrCreateTopic(topicName)
	if err != nil {
		return nil, err
	}
	if ackDeadline <= 0 {
		ackDeadline = DefaultAckDeadline
	}

	if _, err := m.JS.ConsumerInfo(topic.Name, subName); err != nil {
		if !errors.Is(err, nats.ErrConsumerNotFound) {
			return nil, fmt.Errorf("check subscription %s: %w", subName, err)
		}
		_, addErr := m.JS.AddConsumer(topic.Name, &nats.ConsumerConfig{
			Durable:       subName,
			AckPolicy:     nats.AckExplicitPolicy,
			AckWait:       ackDeadline,
			DeliverPolicy: nats.DeliverAllPolicy,
			FilterSubject: topic.Subject,
		})
		if addErr != nil && !errors.Is(addErr, nats.ErrConsumerNameAlreadyInUse) {
			return nil, fmt.Errorf("create subscription %s: %w", subName, addErr)
		}
	}

	sub, err := m.JS.PullSubscribe(topic.Subject, subName, nats.Bind(topic.Name, subName))
	if err != nil {
		return nil, fmt.Errorf("bind subscription %s: %w", subName, err)
	}
	return sub, nil
}
