package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("already exists")
	ErrInvalidReference = errors.New("invalid reference")
	ErrValidation       = errors.New("invalid request")
	ErrTreeTooDeep      = errors.New("task tree too deep")
)

const (
	CodeInvalidEvent      = "INVALID_EVENT"
	CodeInvalidParentTask = "INVALID_PARENT_TASK"
)

// ReferenceError reports a request pointing at an event or task that does not exist.
type ReferenceError struct {
	Code        string
	Description string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *ReferenceError) Unwrap() error {
	return ErrInvalidReference
}

func InvalidEvent(eventID string) error {
	return &ReferenceError{
		Code:        CodeInvalidEvent,
		Description: fmt.Sprintf("Event with id %q does not exist", eventID),
	}
}

func InvalidParentTask(taskID string) error {
	return &ReferenceError{
		Code:        CodeInvalidParentTask,
		Description: fmt.Sprintf("Parent task with id %q does not exist", taskID),
	}
}
