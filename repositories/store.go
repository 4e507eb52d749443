package repositories

import (
	"context"

	"github.com/CodeBTHS/app/models"
)

// FindOptions selects which relations FindByID loads alongside the task.
type FindOptions struct {
	WithSubTasks  bool
	WithAssignees bool
}

// TaskStore is the persistence boundary of the task tree.
//
// Implementations return models.ErrNotFound for missing tasks or edges and
// models.ErrConflict for duplicate assignee edges. Sub-tasks are always
// ordered by ascending creation time.
type TaskStore interface {
	FindByID(ctx context.Context, taskID string, opts FindOptions) (*models.Task, error)
	FindByEvent(ctx context.Context, eventID string) ([]models.Task, error)
	FindAssignedTo(ctx context.Context, userID string) ([]models.Task, error)
	Create(ctx context.Context, task *models.Task) (*models.Task, error)
	Update(ctx context.Context, taskID string, patch models.TaskPatch) (*models.Task, error)
	// Delete removes the task and its own assignee edges. Children are left to the caller.
	Delete(ctx context.Context, taskID string) (*models.Task, error)

	CreateAssignee(ctx context.Context, taskID, userID string) error
	DeleteAssignee(ctx context.Context, taskID, userID string) error
	FindUsersAssignedTo(ctx context.Context, taskID string) ([]models.User, error)

	// Transact runs fn as a single unit of work. Store calls made with the
	// context passed to fn belong to it; an error from fn undoes them.
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
}

type EventDirectory interface {
	EventExists(ctx context.Context, eventID string) (bool, error)
}

// Seeder writes the external records a store only reads. Used for local runs and tests.
type Seeder interface {
	SaveEvent(ctx context.Context, event models.Event) error
	SaveUser(ctx context.Context, user models.User) error
}
