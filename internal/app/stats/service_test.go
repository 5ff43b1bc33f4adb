package stats

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/taskboard/service/internal/contracts"
	"github.com/taskboard/service/internal/messaging"
)

// fakeRepo keeps the singleton and the idempotency ledger in memory.
type fakeRepo struct {
	mu         sync.Mutex
	exists     bool
	stats      Statistics
	applied    map[string]bool
	applyCalls int
	resetCalls int
	ensureErr  error
	applyErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{applied: map[string]bool{}}
}

func (r *fakeRepo) EnsureSchema(context.Context) error { return nil }

func (r *fakeRepo) EnsureStatistics(_ context.Context, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ensureErr != nil {
		return false, r.ensureErr
	}
	if r.exists {
		return false, nil
	}
	r.exists = true
	r.stats = Statistics{LastUpdated: now}
	return true, nil
}

func (r *fakeRepo) Statistics(context.Context) (Statistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.exists {
		return Statistics{}, ErrStatisticsNotFound
	}
	return r.stats, nil
}

func (r *fakeRepo) Apply(_ context.Context, eventID string, delta Delta, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyCalls++
	if r.applyErr != nil {
		return false, r.applyErr
	}
	if r.applied[eventID] {
		return false, nil
	}
	r.applied[eventID] = true
	r.stats.TotalTasks += delta.TotalTasks
	r.stats.TodoTasks += delta.TodoTasks
	r.stats.InProgressTasks += delta.InProgressTasks
	r.stats.DoneTasks += delta.DoneTasks
	r.stats.LowPriority += delta.LowPriority
	r.stats.MediumPriority += delta.MediumPriority
	r.stats.HighPriority += delta.HighPriority
	r.stats.CreatedToday += delta.CreatedToday
	r.stats.CompletedToday += delta.CompletedToday
	r.stats.LastUpdated = now
	return true, nil
}

func (r *fakeRepo) ResetDailyCounters(_ context.Context, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetCalls++
	r.stats.CreatedToday = 0
	r.stats.CompletedToday = 0
	r.stats.LastUpdated = now
	return nil
}

func (r *fakeRepo) Recompute(_ context.Context, now time.Time) (Statistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.CreatedToday = 0
	r.stats.CompletedToday = 0
	r.stats.LastUpdated = now
	return r.stats, nil
}

func (r *fakeRepo) snapshot() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

type fakePullSub struct{}

func (fakePullSub) Fetch(int, ...nats.PullOpt) ([]*nats.Msg, error) { return nil, nats.ErrTimeout }
func (fakePullSub) Unsubscribe() error                              { return nil }

type fakeSubscriber struct {
	mu       sync.Mutex
	bindings map[string]string
	err      error
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{bindings: map[string]string{}}
}

func (f *fakeSubscriber) GetOrCreateSubscription(topic, name string, _ time.Duration) (messaging.PullSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.bindings[topic] = name
	return fakePullSub{}, nil
}

func marshalEvent(t *testing.T, event contracts.TaskEvent) []byte {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload
}

func TestInitializeCreatesSingletonAndBindsAllTopics(t *testing.T) {
	repo := newFakeRepo()
	subs := newFakeSubscriber()
	service := New(repo, subs)
	defer service.Stop()

	if err := service.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !repo.exists {
		t.Fatal("singleton row was not created")
	}
	if repo.resetCalls != 0 {
		t.Fatalf("daily reset on a fresh row: %d calls", repo.resetCalls)
	}

	want := map[string]string{
		contracts.TopicTaskStatusChanged: contracts.SubscriptionTaskStatistics,
		contracts.TopicTaskCreated:       contracts.SubscriptionTaskStatistics + "-created",
		contracts.TopicTaskUpdated:       contracts.SubscriptionTaskStatistics + "-updated",
		contracts.TopicTaskDeleted:       contracts.SubscriptionTaskStatistics + "-deleted",
	}
	if len(subs.bindings) != len(want) {
		t.Fatalf("bound %d subscriptions, want %d", len(subs.bindings), len(want))
	}
	for topic, name := range want {
		if subs.bindings[topic] != name {
			t.Fatalf("topic %s bound as %q, want %q", topic, subs.bindings[topic], name)
		}
	}
}

func TestInitializeResetsDailyCountersOnNewDay(t *testing.T) {
	repo := newFakeRepo()
	repo.exists = true
	repo.stats = Statistics{
		TotalTasks:     3,
		CreatedToday:   2,
		CompletedToday: 1,
		LastUpdated:    time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC),
	}

	service := New(repo, newFakeSubscriber())
	service.Now = func() time.Time { return time.Date(2025, 6, 2, 0, 10, 0, 0, time.UTC) }
	defer service.Stop()

	if err := service.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if repo.resetCalls != 1 {
		t.Fatalf("reset calls = %d, want 1", repo.resetCalls)
	}
	got := repo.snapshot()
	if got.CreatedToday != 0 || got.CompletedToday != 0 {
		t.Fatalf("daily counters not zeroed: %+v", got)
	}
	if got.TotalTasks != 3 {
		t.Fatalf("cumulative counters must survive the reset: %+v", got)
	}
}

func TestInitializeKeepsDailyCountersSameDay(t *testing.T) {
	now := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	repo.exists = true
	repo.stats = Statistics{CreatedToday: 2, LastUpdated: now.Add(-2 * time.Hour)}

	service := New(repo, newFakeSubscriber())
	service.Now = func() time.Time { return now }
	defer service.Stop()

	if err := service.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if repo.resetCalls != 0 {
		t.Fatalf("reset calls = %d, want 0", repo.resetCalls)
	}
}

func TestInitializePropagatesRepositoryError(t *testing.T) {
	repo := newFakeRepo()
	repo.ensureErr = errors.New("database down")
	service := New(repo, newFakeSubscriber())

	if err := service.Initialize(context.Background()); err == nil {
		t.Fatal("expected Initialize to fail")
	}
	if service.State() != StateUninitialized {
		t.Fatalf("state = %s", service.State())
	}
}

func TestProcessAppliesCreatedThenStatusChange(t *testing.T) {
	repo := newFakeRepo()
	service := New(repo, newFakeSubscriber())
	ctx := context.Background()

	created := marshalEvent(t, contracts.TaskEvent{
		EventID:   "evt-1",
		EventType: contracts.EventTaskCreated,
		TaskID:    "task-1",
		Task:      contracts.Task{ID: "task-1", Title: "t", Status: contracts.StatusTodo, Priority: contracts.PriorityHigh},
	})
	if _, err := service.Process(ctx, created); err != nil {
		t.Fatalf("process created: %v", err)
	}

	statusChanged := marshalEvent(t, contracts.TaskEvent{
		EventID:   "evt-2",
		EventType: contracts.EventTaskStatusChanged,
		TaskID:    "task-1",
		Task:      contracts.Task{ID: "task-1", Title: "t", Status: contracts.StatusDone, Priority: contracts.PriorityHigh},
		Metadata:  &contracts.EventMetadata{PreviousStatus: contracts.StatusTodo},
	})
	if _, err := service.Process(ctx, statusChanged); err != nil {
		t.Fatalf("process status change: %v", err)
	}

	got := repo.snapshot()
	want := Statistics{
		TotalTasks:     1,
		DoneTasks:      1,
		HighPriority:   1,
		CreatedToday:   1,
		CompletedToday: 1,
		LastUpdated:    got.LastUpdated,
	}
	if got != want {
		t.Fatalf("statistics = %+v, want %+v", got, want)
	}
}

func TestProcessRedeliveryIsAppliedOnce(t *testing.T) {
	repo := newFakeRepo()
	service := New(repo, newFakeSubscriber())
	ctx := context.Background()

	payload := marshalEvent(t, contracts.TaskEvent{
		EventID:   "evt-dup",
		EventType: contracts.EventTaskCreated,
		TaskID:    "task-1",
		Task:      contracts.Task{ID: "task-1", Title: "t", Status: contracts.StatusTodo, Priority: contracts.PriorityLow},
	})

	for i := 0; i < 3; i++ {
		if _, err := service.Process(ctx, payload); err != nil {
			t.Fatalf("process delivery %d: %v", i+1, err)
		}
	}

	got := repo.snapshot()
	if got.TotalTasks != 1 || got.TodoTasks != 1 || got.LowPriority != 1 || got.CreatedToday != 1 {
		t.Fatalf("redelivered event was applied more than once: %+v", got)
	}
}

func TestProcessSkipsZeroDelta(t *testing.T) {
	repo := newFakeRepo()
	service := New(repo, newFakeSubscriber())

	payload := marshalEvent(t, contracts.TaskEvent{
		EventID:   "evt-3",
		EventType: contracts.EventTaskUpdated,
		Task:      contracts.Task{Priority: contracts.PriorityMedium},
	})
	eventType, err := service.Process(context.Background(), payload)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if eventType != contracts.EventTaskUpdated {
		t.Fatalf("event type = %q", eventType)
	}
	if repo.applyCalls != 0 {
		t.Fatalf("zero delta reached the repository: %d calls", repo.applyCalls)
	}
}

func TestProcessRejectsMalformedPayload(t *testing.T) {
	service := New(newFakeRepo(), newFakeSubscriber())
	if _, err := service.Process(context.Background(), []byte("{not json")); !errors.Is(err, ErrInvalidEventPayload) {
		t.Fatalf("expected ErrInvalidEventPayload, got %v", err)
	}
}

func TestProcessSurfacesRepositoryError(t *testing.T) {
	repo := newFakeRepo()
	repo.applyErr = errors.New("database down")
	service := New(repo, newFakeSubscriber())

	payload := marshalEvent(t, contracts.TaskEvent{
		EventID:   "evt-4",
		EventType: contracts.EventTaskDeleted,
		Task:      contracts.Task{Status: contracts.StatusTodo, Priority: contracts.PriorityLow},
	})
	if _, err := service.Process(context.Background(), payload); err == nil {
		t.Fatal("expected repository error to surface")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	service := New(newFakeRepo(), newFakeSubscriber())
	if err := service.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	service.Stop()
	service.Stop()
	if service.State() != StateStopped {
		t.Fatalf("state = %s", service.State())
	}
}
