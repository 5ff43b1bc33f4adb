package stats

import (
	"github.com/taskboard/service/internal/contracts"
)

// Delta is one signed adjustment to the statistics singleton. All fields of
// a delta are applied together in a single update.
type Delta struct {
	TotalTasks      int
	TodoTasks       int
	InProgressTasks int
	DoneTasks       int
	LowPriority     int
	MediumPriority  int
	HighPriority    int
	CreatedToday    int
	CompletedToday  int
}

func (d Delta) IsZero() bool {
	return d == Delta{}
}

// DeltaForEvent computes the counter adjustments for one task event.
// Unrecognized event kinds and updates without a priority change yield a
// zero delta, which callers skip without touching storage.
func DeltaForEvent(event contracts.TaskEvent) Delta {
	var d Delta
	switch event.EventType {
	case contracts.EventTaskCreated:
		d.TotalTasks = 1
		d.CreatedToday = 1
		d.addStatus(event.Task.Status, 1)
		d.addPriority(event.Task.Priority, 1)

	case contracts.EventTaskDeleted:
		d.TotalTasks = -1
		d.addStatus(event.Task.Status, -1)
		d.addPriority(event.Task.Priority, -1)

	case contracts.EventTaskStatusChanged:
		if event.Metadata != nil {
			d.addStatus(event.Metadata.PreviousStatus, -1)
		}
		d.addStatus(event.Task.Status, 1)
		if event.Task.Status == contracts.StatusDone {
			d.CompletedToday = 1
		}

	case contracts.EventTaskUpdated:
		if event.Metadata == nil || event.Metadata.PreviousTask == nil {
			break
		}
		previous := event.Metadata.PreviousTask.Priority
		if previous == "" || previous == event.Task.Priority {
			break
		}
		d.addPriority(previous, -1)
		d.addPriority(event.Task.Priority, 1)
	}
	return d
}

func (d *Delta) addStatus(status string, n int) {
	switch status {
	case contracts.StatusTodo:
		d.TodoTasks += n
	case contracts.StatusInProgress:
		d.InProgressTasks += n
	case contracts.StatusDone:
		d.DoneTasks += n
	}
}

func (d *Delta) addPriority(priority string, n int) {
	switch priority {
	case contracts.PriorityLow:
		d.LowPriority += n
	case contracts.PriorityMedium:
		d.MediumPriority += n
	case contracts.PriorityHigh:
		d.HighPriority += n
	}
}
