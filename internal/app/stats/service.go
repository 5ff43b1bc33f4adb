package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/taskboard/service/internal/contracts"
	"github.com/taskboard/service/internal/messaging"
	"github.com/taskboard/service/internal/platform/metrics"
)

var ErrInvalidEventPayload = errors.New("invalid event payload")

var statisticsEvents = metrics.NewCounterVec(metrics.Opts{
	Name: "taskboard_statistics_events_total",
	Help: "Task events processed by the statistics consumer, by event type and result.",
}, []string{"event_type", "result"})

func init() {
	metrics.Default.MustRegister(statisticsEvents)
}

// Consumer lifecycle states.
const (
	StateUninitialized = "uninitialized"
	StateSubscribed    = "subscribed"
	StateStopped       = "stopped"
)

const applyTimeout = 3 * time.Second

type Subscriber interface {
	GetOrCreateSubscription(topic, name string, ackDeadline time.Duration) (messaging.PullSubscription, error)
}

// subscriptionBindings maps every event topic the aggregator consumes to a
// durable subscription name. Status changes use the primary task-statistics
// subscription; the remaining kinds get derived names so the created,
// deleted and priority-change branches of the dispatch actually receive
// traffic.
var subscriptionBindings = map[string]string{
	contracts.TopicTaskStatusChanged: contracts.SubscriptionTaskStatistics,
	contracts.TopicTaskCreated:       contracts.SubscriptionTaskStatistics + "-created",
	contracts.TopicTaskUpdated:       contracts.SubscriptionTaskStatistics + "-updated",
	contracts.TopicTaskDeleted:       contracts.SubscriptionTaskStatistics + "-deleted",
}

// Service maintains the statistics singleton by applying signed counter
// deltas for every consumed task event. Redelivered events are absorbed by
// the repository's idempotency ledger, so a delta is applied at most once
// per event id.
type Service struct {
	Repo    Repository
	Subs    Subscriber
	Workers int
	Now     func() time.Time

	mu     sync.Mutex
	state  string
	cancel context.CancelFunc
	done   *sync.WaitGroup
}

func New(repo Repository, subs Subscriber) *Service {
	return &Service{
		Repo:    repo,
		Subs:    subs,
		Workers: 4,
		Now:     func() time.Time { return time.Now().UTC() },
		state:   StateUninitialized,
	}
}

// Initialize ensures the singleton row exists, resets the daily counters on
// the first start of a new calendar day, and binds the event subscriptions.
// A no-op when already subscribed.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubscribed {
		return nil
	}

	now := s.Now()
	created, err := s.Repo.EnsureStatistics(ctx, now)
	if err != nil {
		return fmt.Errorf("initialize statistics record: %w", err)
	}
	if !created {
		current, err := s.Repo.Statistics(ctx)
		if err != nil {
			return fmt.Errorf("read statistics record: %w", err)
		}
		// Startup-only check, not a timer: zero the daily counters the
		// first time we come up on a different calendar day.
		if current.LastUpdated.Day() != now.Day() {
			if err := s.Repo.ResetDailyCounters(ctx, now); err != nil {
				return fmt.Errorf("reset daily counters: %w", err)
			}
			log.Printf("statistics daily counters reset (last updated %s)", current.LastUpdated.Format("2006-01-02"))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	var done sync.WaitGroup
	for topic, subName := range subscriptionBindings {
		sub, err := s.Subs.GetOrCreateSubscription(topic, subName, messaging.DefaultAckDeadline)
		if err != nil {
			cancel()
			done.Wait()
			return fmt.Errorf("initialize statistics subscriber for %s: %w", topic, err)
		}
		done.Add(1)
		go func(sub messaging.PullSubscription) {
			defer done.Done()
			messaging.Consume(runCtx, sub, s.Workers, s.handle)
		}(sub)
	}

	s.cancel = cancel
	s.done = &done
	s.state = StateSubscribed
	return nil
}

// Stop detaches the handler loops; in-flight messages complete their ack or
// nack normally. Idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSubscribed {
		s.state = StateStopped
		return
	}
	s.cancel()
	s.done.Wait()
	s.state = StateStopped
}

func (s *Service) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) handle(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()

	eventType, err := s.Process(ctx, msg.Data)
	if err != nil {
		log.Printf("statistics update failed: %v", err)
		statisticsEvents.WithLabelValues(eventType, "nack").Inc()
		_ = msg.Nak()
		return
	}
	statisticsEvents.WithLabelValues(eventType, "ack").Inc()
	_ = msg.Ack()
}

// Process applies the delta for one event payload. Returns the event type
// for observability alongside any processing error.
func (s *Service) Process(ctx context.Context, payload []byte) (string, error) {
	var event contracts.TaskEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return "unknown", ErrInvalidEventPayload
	}

	delta := DeltaForEvent(event)
	if delta.IsZero() {
		return event.EventType, nil
	}

	applied, err := s.Repo.Apply(ctx, event.EventID, delta, s.Now())
	if err != nil {
		return event.EventType, fmt.Errorf("apply statistics delta for %s: %w", event.EventID, err)
	}
	if !applied {
		log.Printf("statistics delta already applied, skipping redelivery: event=%s", event.EventID)
	}
	return event.EventType, nil
}
