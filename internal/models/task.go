package models

import (
	"time"
)

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "TODO"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskDone       TaskStatus = "DONE"
	TaskCancelled  TaskStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskDone, TaskCancelled:
		return true
	}
	return false
}

// IsClosed returns true for DONE and CANCELLED.
func (s TaskStatus) IsClosed() bool {
	return s == TaskDone || s == TaskCancelled
}

// TaskPriority ranks tasks.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "LOW"
	PriorityMedium TaskPriority = "MEDIUM"
	PriorityHigh   TaskPriority = "HIGH"
	PriorityUrgent TaskPriority = "URGENT"
)

// Valid reports whether p is a known priority.
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// TaskComment is an append-only comment on a task.
type TaskComment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is a unit of work inside a project, optionally tied to a chat room's board.
type Task struct {
	Local
	ID           string        `json:"id"`
	ProjectID    string        `json:"project_id"`
	ChatRoomID   string        `json:"chat_room_id,omitempty"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	Status       TaskStatus    `json:"status"`
	Priority     TaskPriority  `json:"priority"`
	AssignedToID string        `json:"assigned_to_id,omitempty"`
	DueDate      *time.Time    `json:"due_date,omitempty"`
	Tags         []string      `json:"tags"`
	Comments     []TaskComment `json:"comments"`
	CreatedBy    string        `json:"created_by"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (t *Task) EntityID() string    { return t.ID }
func (t *Task) ScopeKey() string    { return t.ProjectID }
func (t *Task) SortTime() time.Time { return t.CreatedAt }

// Normalize restores set semantics for tags and fills defaults.
func (t *Task) Normalize() {
	if t.Status == "" {
		t.Status = TaskTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	t.Tags = NormalizeSet(t.Tags)
	if t.Comments == nil {
		t.Comments = []TaskComment{}
	}
}

// IsOverdue reports whether the task is open past its due date.
func (t *Task) IsOverdue(now time.Time) bool {
	return t.DueDate != nil && !t.Status.IsClosed() && now.After(*t.DueDate)
}
