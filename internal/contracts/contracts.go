package contracts

import (
	"errors"
	"strings"
	"time"
)

// Task statuses and priorities as they appear on the wire and in storage.
const (
	StatusTodo       = "TODO"
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"

	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
)

// Event types, one per task mutation.
const (
	EventTaskCreated       = "TASK_CREATED"
	EventTaskUpdated       = "TASK_UPDATED"
	EventTaskDeleted       = "TASK_DELETED"
	EventTaskStatusChanged = "TASK_STATUS_CHANGED"
)

// Topic names, one durable stream per event type.
const (
	TopicTaskCreated       = "task-created"
	TopicTaskUpdated       = "task-updated"
	TopicTaskDeleted       = "task-deleted"
	TopicTaskStatusChanged = "task-status-changed"
)

// Subscription names for the two consumer paths.
const (
	SubscriptionTaskNotification = "task-notification"
	SubscriptionTaskStatistics   = "task-statistics"
)

var ErrUnknownEventType = errors.New("unknown event type")

// Task is the full task snapshot carried inside every event.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// PreviousTask is the partial snapshot attached to TASK_UPDATED events.
type PreviousTask struct {
	Title    string `json:"title,omitempty"`
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// EventMetadata carries event-type specific context: previousStatus for
// TASK_STATUS_CHANGED, previousTask for TASK_UPDATED.
type EventMetadata struct {
	PreviousStatus string        `json:"previousStatus,omitempty"`
	PreviousTask   *PreviousTask `json:"previousTask,omitempty"`
}

// TaskEvent is the wire payload published once per task mutation and
// consumed by the notification and statistics workers. It is never mutated
// after creation.
type TaskEvent struct {
	EventID   string         `json:"eventId"`
	EventType string         `json:"eventType"`
	TaskID    string         `json:"taskId"`
	Task      Task           `json:"task"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  *EventMetadata `json:"metadata,omitempty"`
}

// Topics lists every event topic that must exist before publishing.
func Topics() []string {
	return []string{
		TopicTaskCreated,
		TopicTaskUpdated,
		TopicTaskDeleted,
		TopicTaskStatusChanged,
	}
}

// TopicForEvent maps an event type to the topic it is published on.
func TopicForEvent(eventType string) (string, error) {
	switch eventType {
	case EventTaskCreated:
		return TopicTaskCreated, nil
	case EventTaskUpdated:
		return TopicTaskUpdated, nil
	case EventTaskDeleted:
		return TopicTaskDeleted, nil
	case EventTaskStatusChanged:
		return TopicTaskStatusChanged, nil
	default:
		return "", ErrUnknownEventType
	}
}

// EventSubject returns the broker subject bound to a topic.
// Format: task.event.{kind}, e.g. task.event.status-changed.
func EventSubject(topic string) string {
	return "task.event." + strings.TrimPrefix(topic, "task-")
}

func ValidStatus(status string) bool {
	switch status {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	default:
		return false
	}
}

func ValidPriority(priority string) bool {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}
