package models

import (
	"encoding/json"
	"time"
)

// Task is a node of an event's task tree. Root tasks have no parent.
type Task struct {
	ID          string     `json:"id" bson:"_id"`
	Name        string     `json:"name" bson:"name"`
	Description string     `json:"description" bson:"description"`
	EventID     string     `json:"eventId" bson:"eventId"`
	ParentID    *string    `json:"parentId" bson:"parentId"`
	DueDate     *time.Time `json:"dueDate" bson:"dueDate"`
	CompletedAt *time.Time `json:"completedAt" bson:"completedAt"`
	CreatedAt   time.Time  `json:"createdAt" bson:"createdAt"`

	// Filled only when requested through FindOptions. Nil means not loaded.
	SubTasks  []Task     `json:"subTasks" bson:"-"`
	Assignees []Assignee `json:"assignees" bson:"-"`
}

// MarshalJSON leaves out relations that were not loaded and keeps loaded
// but empty ones as [].
func (t Task) MarshalJSON() ([]byte, error) {
	type task Task
	out := struct {
		task
		SubTasks  *[]Task     `json:"subTasks,omitempty"`
		Assignees *[]Assignee `json:"assignees,omitempty"`
	}{task: task(t)}
	if t.SubTasks != nil {
		out.SubTasks = &t.SubTasks
	}
	if t.Assignees != nil {
		out.Assignees = &t.Assignees
	}
	return json.Marshal(out)
}

func (t *Task) IsRoot() bool {
	return t.ParentID == nil
}

func (t *Task) IsCompleted() bool {
	return t.CompletedAt != nil
}

// NewTask holds the caller supplied fields of a task being created.
type NewTask struct {
	Name        string
	Description string
	EventID     string
	DueDate     *time.Time
}

// TaskPatch describes a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Name        *string
	Description *string
	DueDate     *time.Time
	// ClearDueDate removes the due date and wins over DueDate.
	ClearDueDate bool

	// SetCompletedAt makes CompletedAt authoritative, so a nil CompletedAt clears it.
	SetCompletedAt bool
	CompletedAt    *time.Time
}

func (p TaskPatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.DueDate == nil && !p.ClearDueDate && !p.SetCompletedAt
}

// Apply copies the patched fields onto t.
func (p TaskPatch) Apply(t *Task) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	switch {
	case p.ClearDueDate:
		t.DueDate = nil
	case p.DueDate != nil:
		due := *p.DueDate
		t.DueDate = &due
	}
	if p.SetCompletedAt {
		if p.CompletedAt == nil {
			t.CompletedAt = nil
		} else {
			done := *p.CompletedAt
			t.CompletedAt = &done
		}
	}
}
