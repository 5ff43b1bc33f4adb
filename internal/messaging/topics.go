package messaging

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/taskboard/service/internal/contracts"
)

// DefaultRetention is how long unconsumed messages survive on a topic.
const DefaultRetention = 3600 * time.Second

// ErrTopicNotInitialized means Topic was called before the registry
// ensured the topic on the broker. That is a programming error at the call
// site, not a condition to recover from.
var ErrTopicNotInitialized = errors.New("topic not initialized")

// streamManager is the slice of the JetStream management API the registry
// needs. nats.JetStreamContext satisfies it.
type streamManager interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// Topic is a handle to one durable event channel.
type Topic struct {
	Name    string
	Subject string
}

// Registry idempotently ensures one stream per event topic and caches the
// handles for the process lifetime. Constructed once at startup and passed
// to the publisher and subscription manager.
type Registry struct {
	js        streamManager
	retention time.Duration

	mu     sync.RWMutex
	topics map[string]Topic
}

func NewRegistry(js streamManager) *Registry {
	return &Registry{
		js:        js,
		retention: DefaultRetention,
		topics:    map[string]Topic{},
	}
}

// GetOrCreateTopic returns the cached handle, or ensures the stream exists
// on the broker first. A create racing with another initializer is treated
// as success.
func (r *Registry) GetOrCreateTopic(name string) (Topic, error) {
	r.mu.RLock()
	topic, ok := r.topics[name]
	r.mu.RUnlock()
	if ok {
		return topic, nil
	}

	subject := contracts.EventSubject(name)
	if _, err := r.js.StreamInfo(name); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return Topic{}, fmt.Errorf("check topic %s: %w", name, err)
		}
		_, addErr := r.js.AddStream(&nats.StreamConfig{
			Name:      name,
			Subjects:  []string{subject},
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
			MaxAge:    r.retention,
			Replicas:  1,
		})
		if addErr != nil && !errors.Is(addErr, nats.ErrStreamNameAlreadyInUse) {
			return Topic{}, fmt.Errorf("create topic %s: %w", name, addErr)
		}
	}

	topic = Topic{Name: name, Subject: subject}
	r.mu.Lock()
	r.topics[name] = topic
	r.mu.Unlock()
	return topic, nil
}

// InitializeAll concurrently ensures a topic exists for every event kind.
// The first failure other than "already exists" aborts startup.
func (r *Registry) InitializeAll() error {
	names := contracts.Topics()
	var wg sync.WaitGroup
	errCh := make(chan error, len(names))
	for _, name := range names {
		wg.Add(1)
		go func(topicName string) {
			defer wg.Done()
			if _, err := r.GetOrCreateTopic(topicName); err != nil {
				errCh <- err
			}
		}(name)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}
	return nil
}

// Topic returns the cached handle for an already-initialized topic.
func (r *Registry) Topic(name string) (Topic, error) {
	r.mu.RLock()
	topic, ok := r.topics[name]
	r.mu.RUnlock()
	if !ok {
		return Topic{}, fmt.Errorf("%w: %s", ErrTopicNotInitialized, name)
	}
	return topic, nil
}
