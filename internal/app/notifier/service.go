package notifier

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

var notificationsTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "taskboard_notifications_total",
	Help: "Notification messages processed, by result.",
}, []string{"result"})

func init() {
	metrics.Default.MustRegister(notificationsTotal)
}

// Consumer lifecycle states.
const (
	StateUninitialized = "uninitialized"
	StateSubscribed    = "subscribed"
	StateStopped       = "stopped"
)

type Subscriber interface {
	GetOrCreateSubscription(topic, name string, ackDeadline time.Duration) (messaging.PullSubscription, error)
}

// Service consumes the task-created topic and emits one human-readable
// notification line per event. Acks on success, nacks on processing failure
// so the broker redelivers within the retention window.
type Service struct {
	Subs    Subscriber
	Workers int
	Emit    func(line string)

	mu     sync.Mutex
	state  string
	cancel context.CancelFunc
	done   chan struct{}
}

func New(subs Subscriber) *Service {
	return &Service{
		Subs:    subs,
		Workers: 4,
		Emit: func(line string) {
			log.Printf("[notification] %s", line)
		},
		state: StateUninitialized,
	}
}

// Initialize obtains the task-created subscription and starts the worker
// pool. A no-op when already subscribed.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubscribed {
		return nil
	}

	sub, err := s.Subs.GetOrCreateSubscription(
		contracts.TopicTaskCreated,
		contracts.SubscriptionTaskNotification,
		messaging.DefaultAckDeadline,
	)
	if err != nil {
		return fmt.Errorf("initialize notification subscriber: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		messaging.Consume(runCtx, sub, s.Workers, s.handle)
	}()

	s.cancel = cancel
	s.done = done
	s.state = StateSubscribed
	return nil
}

// Stop detaches the handler loop. Messages already in flight complete their
// ack or nack normally. Idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSubscribed {
		s.state = StateStopped
		return
	}
	s.cancel()
	<-s.done
	s.state = StateStopped
}

func (s *Service) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) handle(msg *nats.Msg) {
	line, err := RenderNotification(msg.Data)
	if err != nil {
		log.Printf("notification processing failed: %v", err)
		notificationsTotal.WithLabelValues("nack").Inc()
		_ = msg.Nak()
		return
	}
	s.Emit(line)
	notificationsTotal.WithLabelValues("ack").Inc()
	_ = msg.Ack()
}

// RenderNotification formats one line per event kind, with a generic
// fallback for kinds this consumer does not recognize.
func RenderNotification(payload []byte) (string, error) {
	var event contracts.TaskEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", ErrInvalidEventPayload
	}

	switch event.EventType {
	case contracts.EventTaskCreated:
		return fmt.Sprintf("new task %q was created", event.Task.Title), nil
	case contracts.EventTaskUpdated:
		return fmt.Sprintf("task %q was updated", event.Task.Title), nil
	case contracts.EventTaskDeleted:
		return fmt.Sprintf("task %q was deleted", event.Task.Title), nil
	case contracts.EventTaskStatusChanged:
		previous := "unknown"
		if event.Metadata != nil && event.Metadata.PreviousStatus != "" {
			previous = event.Metadata.PreviousStatus
		}
		return fmt.Sprintf("status of task %q changed from %s to %s", event.Task.Title, previous, event.Task.Status), nil
	default:
		return fmt.Sprintf("task event received: %s", event.EventType), nil
	}
}
