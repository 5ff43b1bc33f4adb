package tasks

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nats-io/nuid"
	"github.com/taskboard/service/internal/contracts"
)

var ErrTitleRequired = errors.New("title is required")
var ErrTitleTooLong = errors.New("title must be at most 100 characters")
var ErrDescriptionTooLong = errors.New("description must be at most 500 characters")
var ErrInvalidStatus = errors.New("invalid status")
var ErrInvalidPriority = errors.New("invalid priority")
var ErrInvalidDueDate = errors.New("due date must be an RFC 3339 timestamp")

const (
	maxTitleLen       = 100
	maxDescriptionLen = 500
)

// EventPublisher is the fire-and-forget boundary to the statistics and
// notification pipeline. Publish failures never fail the mutation that
// triggered them.
type EventPublisher interface {
	Publish(event contracts.TaskEvent) (string, error)
}

type Service struct {
	Repo   Repository
	Events EventPublisher
	Now    func() time.Time
	NewID  func() string
}

func NewService(repo Repository, events EventPublisher) *Service {
	return &Service{
		Repo:   repo,
		Events: events,
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  nuid.Next,
	}
}

type CreateTaskRequest struct {
	Title       string
	Description *string
	Priority    string
	DueDate     *string
}

type UpdateTaskRequest struct {
	Title        *string
	Description  *string
	Priority     *string
	DueDate      *string
	ClearDueDate bool
}

func (s *Service) Create(ctx context.Context, req CreateTaskRequest) (contracts.Task, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return contracts.Task{}, ErrTitleRequired
	}
	// Limits count characters, not bytes.
	if utf8.RuneCountInString(title) > maxTitleLen {
		return contracts.Task{}, ErrTitleTooLong
	}
	if req.Description != nil && utf8.RuneCountInString(*req.Description) > maxDescriptionLen {
		return contracts.Task{}, ErrDescriptionTooLong
	}
	priority := req.Priority
	if priority == "" {
		priority = contracts.PriorityMedium
	}
	if !contracts.ValidPriority(priority) {
		return contracts.Task{}, ErrInvalidPriority
	}
	dueDate, err := parseDueDate(req.DueDate)
	if err != nil {
		return contracts.Task{}, err
	}

	now := s.Now()
	task := contracts.Task{
		ID:          s.NewID(),
		Title:       title,
		Description: req.Description,
		Status:      contracts.StatusTodo,
		Priority:    priority,
		DueDate:     dueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Repo.Create(ctx, task); err != nil {
		return contracts.Task{}, err
	}

	s.publish(contracts.TaskEvent{
		EventID:   s.NewID(),
		EventType: contracts.EventTaskCreated,
		TaskID:    task.ID,
		Task:      task,
		Timestamp: s.Now(),
	})
	return task, nil
}

func (s *Service) Get(ctx context.Context, id string) (contracts.Task, error) {
	return s.Repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]contracts.Task, int, error) {
	return s.Repo.List(ctx, filter)
}

func (s *Service) Update(ctx context.Context, id string, req UpdateTaskRequest) (contracts.Task, error) {
	task, err := s.Repo.Get(ctx, id)
	if err != nil {
		return contracts.Task{}, err
	}
	previous := contracts.PreviousTask{
		Title:    task.Title,
		Status:   task.Status,
		Priority: task.Priority,
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return contracts.Task{}, ErrTitleRequired
		}
		if utf8.RuneCountInString(title) > maxTitleLen {
			return contracts.Task{}, ErrTitleTooLong
		}
		task.Title = title
	}
	if req.Description != nil {
		if utf8.RuneCountInString(*req.Description) > maxDescriptionLen {
			return contracts.Task{}, ErrDescriptionTooLong
		}
		task.Description = req.Description
	}
	if req.Priority != nil {
		if !contracts.ValidPriority(*req.Priority) {
			return contracts.Task{}, ErrInvalidPriority
		}
		task.Priority = *req.Priority
	}
	if req.ClearDueDate {
		task.DueDate = nil
	} else if req.DueDate != nil {
		dueDate, err := parseDueDate(req.DueDate)
		if err != nil {
			return contracts.Task{}, err
		}
		task.DueDate = dueDate
	}
	task.UpdatedAt = s.Now()

	if err := s.Repo.Update(ctx, task); err != nil {
		return contracts.Task{}, err
	}

	s.publish(contracts.TaskEvent{
		EventID:   s.NewID(),
		EventType: contracts.EventTaskUpdated,
		TaskID:    task.ID,
		Task:      task,
		Timestamp: s.Now(),
		Metadata:  &contracts.EventMetadata{PreviousTask: &previous},
	})
	return task, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id, status string) (contracts.Task, error) {
	if !contracts.ValidStatus(status) {
		return contracts.Task{}, ErrInvalidStatus
	}
	task, err := s.Repo.Get(ctx, id)
	if err != nil {
		return contracts.Task{}, err
	}
	previousStatus := task.Status

	task.Status = status
	task.UpdatedAt = s.Now()
	if err := s.Repo.Update(ctx, task); err != nil {
		return contracts.Task{}, err
	}

	s.publish(contracts.TaskEvent{
		EventID:   s.NewID(),
		EventType: contracts.EventTaskStatusChanged,
		TaskID:    task.ID,
		Task:      task,
		Timestamp: s.Now(),
		Metadata:  &contracts.EventMetadata{PreviousStatus: previousStatus},
	})
	return task, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	task, err := s.Repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, id); err != nil {
		return err
	}

	s.publish(contracts.TaskEvent{
		EventID:   s.NewID(),
		EventType: contracts.EventTaskDeleted,
		TaskID:    task.ID,
		Task:      task,
		Timestamp: s.Now(),
	})
	return nil
}

// publish is fire-and-forget: the mutation has already been committed, so a
// publish failure is logged and the event dropped.
func (s *Service) publish(event contracts.TaskEvent) {
	if s.Events == nil {
		return
	}
	messageID, err := s.Events.Publish(event)
	if err != nil {
		log.Printf("event publish failed, dropping event: type=%s task=%s err=%v", event.EventType, event.TaskID, err)
		return
	}
	log.Printf("event published: type=%s task=%s message=%s", event.EventType, event.TaskID, messageID)
}

func parseDueDate(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil, ErrInvalidDueDate
	}
	return &parsed, nil
}
