package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CodeBTHS/app/logging"
	"github.com/CodeBTHS/app/models"
	"github.com/CodeBTHS/app/repositories"

	"github.com/sirupsen/logrus"
)

const DefaultMaxDepth = 64

type Options struct {
	// MaxDepth bounds how many levels below a root task the tree may grow.
	MaxDepth int
	Now      func() time.Time
}

// TaskService manages task trees: creation, sub-tasks, completion and
// assignment propagation. Callers are expected to be authorized already.
type TaskService struct {
	store    repositories.TaskStore
	events   repositories.EventDirectory
	maxDepth int
	now      func() time.Time
}

func NewTaskService(store repositories.TaskStore, events repositories.EventDirectory, opts Options) *TaskService {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &TaskService{
		store:    store,
		events:   events,
		maxDepth: opts.MaxDepth,
		now:      opts.Now,
	}
}

// GetTask returns the task with its assignees and its direct sub-tasks, each
// carrying their own assignees.
func (s *TaskService) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	return s.store.FindByID(ctx, taskID, repositories.FindOptions{WithSubTasks: true, WithAssignees: true})
}

func (s *TaskService) CreateTask(ctx context.Context, input models.NewTask) (*models.Task, error) {
	if err := validateName(input.Name); err != nil {
		return nil, err
	}
	exists, err := s.events.EventExists(ctx, input.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up event %s: %w", input.EventID, err)
	}
	if !exists {
		return nil, models.InvalidEvent(input.EventID)
	}

	task, err := s.store.Create(ctx, &models.Task{
		Name:        input.Name,
		Description: input.Description,
		EventID:     input.EventID,
		DueDate:     input.DueDate,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	task.SubTasks = []models.Task{}
	task.Assignees = []models.Assignee{}

	logging.Logger.WithFields(logrus.Fields{
		logging.EventField: "TASK_CREATED",
		"taskId":           task.ID,
		"eventId":          task.EventID,
	}).Info("root task created")
	return task, nil
}

// CreateSubTask attaches a new task under parentID. The child inherits the
// parent's event and starts with a copy of the parent's current assignees.
// The parent is returned with its updated sub-task list.
func (s *TaskService) CreateSubTask(ctx context.Context, parentID string, input models.NewTask) (*models.Task, error) {
	if err := validateName(input.Name); err != nil {
		return nil, err
	}

	var parent *models.Task
	err := s.store.Transact(ctx, func(ctx context.Context) error {
		current, err := s.store.FindByID(ctx, parentID, repositories.FindOptions{WithAssignees: true})
		if errors.Is(err, models.ErrNotFound) {
			return models.InvalidParentTask(parentID)
		}
		if err != nil {
			return err
		}

		depth, err := s.depthOf(ctx, current)
		if err != nil {
			return err
		}
		if depth+1 > s.maxDepth {
			return fmt.Errorf("sub-task of %s would be at depth %d: %w", parentID, depth+1, models.ErrTreeTooDeep)
		}

		child, err := s.store.Create(ctx, &models.Task{
			Name:        input.Name,
			Description: input.Description,
			EventID:     current.EventID,
			ParentID:    &current.ID,
			DueDate:     input.DueDate,
			CreatedAt:   s.now().UTC(),
		})
		if err != nil {
			return err
		}
		for _, assignee := range current.Assignees {
			if err := s.store.CreateAssignee(ctx, child.ID, assignee.UserID); err != nil {
				return fmt.Errorf("copy assignee %s to sub-task %s: %w", assignee.UserID, child.ID, err)
			}
		}

		parent, err = s.store.FindByID(ctx, parentID, repositories.FindOptions{WithSubTasks: true, WithAssignees: true})
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.WithFields(logrus.Fields{
		logging.EventField: "SUB_TASK_CREATED",
		"parentId":         parentID,
		"subTasks":         len(parent.SubTasks),
	}).Info("sub-task created")
	return parent, nil
}

// UpdateTask renames, redescribes or re-dates a task.
func (s *TaskService) UpdateTask(ctx context.Context, taskID string, patch models.TaskPatch) (*models.Task, error) {
	if patch.Name != nil {
		if err := validateName(*patch.Name); err != nil {
			return nil, err
		}
	}
	// Completion goes through ToggleTask.
	patch.SetCompletedAt = false
	patch.CompletedAt = nil
	if patch.IsEmpty() {
		return nil, fmt.Errorf("%w: nothing to update", models.ErrValidation)
	}
	return s.store.Update(ctx, taskID, patch)
}

// AssignUser adds userID to taskID and every task below it. An edge that
// already exists anywhere in the subtree fails the whole operation and nothing
// is kept.
func (s *TaskService) AssignUser(ctx context.Context, taskID, userID string) (*models.Task, error) {
	return s.propagate(ctx, taskID, userID, "TASK_ASSIGNED", func(ctx context.Context, id string) error {
		if err := s.store.CreateAssignee(ctx, id, userID); err != nil {
			return fmt.Errorf("assign %s to task %s: %w", userID, id, err)
		}
		return nil
	})
}

// UnassignUser removes userID from taskID and every task below it. A missing
// edge anywhere in the subtree fails the whole operation.
func (s *TaskService) UnassignUser(ctx context.Context, taskID, userID string) (*models.Task, error) {
	return s.propagate(ctx, taskID, userID, "TASK_UNASSIGNED", func(ctx context.Context, id string) error {
		if err := s.store.DeleteAssignee(ctx, id, userID); err != nil {
			return fmt.Errorf("unassign %s from task %s: %w", userID, id, err)
		}
		return nil
	})
}

func (s *TaskService) propagate(ctx context.Context, taskID, userID, event string, visit visitFunc) (*models.Task, error) {
	var root *models.Task
	visited := 0
	err := s.store.Transact(ctx, func(ctx context.Context) error {
		visited = 0
		counting := func(ctx context.Context, id string) error {
			visited++
			return visit(ctx, id)
		}
		if err := s.walkSubtree(ctx, taskID, counting); err != nil {
			return err
		}
		var err error
		root, err = s.store.FindByID(ctx, taskID, repositories.FindOptions{WithAssignees: true})
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.WithFields(logrus.Fields{
		logging.EventField: event,
		"taskId":           taskID,
		"userId":           userID,
		"tasks":            visited,
	}).Info("assignment propagated")
	return root, nil
}

func (s *TaskService) ToggleTask(ctx context.Context, taskID string, completed bool) (*models.Task, error) {
	patch := models.TaskPatch{SetCompletedAt: true}
	if completed {
		now := s.now().UTC()
		patch.CompletedAt = &now
	}
	return s.store.Update(ctx, taskID, patch)
}

// DeleteTask removes the task together with all of its descendants and their
// assignee edges. The returned task is the state read before deletion.
func (s *TaskService) DeleteTask(ctx context.Context, taskID string) (*models.Task, error) {
	var deleted *models.Task
	err := s.store.Transact(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = s.store.FindByID(ctx, taskID, repositories.FindOptions{WithSubTasks: true, WithAssignees: true})
		if err != nil {
			return err
		}

		var subtree []string
		err = s.walkSubtree(ctx, taskID, func(ctx context.Context, id string) error {
			subtree = append(subtree, id)
			return nil
		})
		if err != nil {
			return err
		}
		// Children go before their parents.
		for i := len(subtree) - 1; i >= 0; i-- {
			if _, err := s.store.Delete(ctx, subtree[i]); err != nil {
				return fmt.Errorf("delete task %s: %w", subtree[i], err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.WithFields(logrus.Fields{
		logging.EventField: "TASK_DELETED",
		"taskId":           taskID,
	}).Info("task subtree deleted")
	return deleted, nil
}

// GetAssignees lists users assigned directly to the task, not to its sub-tasks.
func (s *TaskService) GetAssignees(ctx context.Context, taskID string) ([]models.User, error) {
	if _, err := s.store.FindByID(ctx, taskID, repositories.FindOptions{}); err != nil {
		return nil, err
	}
	return s.store.FindUsersAssignedTo(ctx, taskID)
}

func (s *TaskService) ListEventTasks(ctx context.Context, eventID string) ([]models.Task, error) {
	return s.store.FindByEvent(ctx, eventID)
}

func (s *TaskService) ListAssignedTasks(ctx context.Context, userID string) ([]models.Task, error) {
	return s.store.FindAssignedTo(ctx, userID)
}

// depthOf counts the ancestors of task.
func (s *TaskService) depthOf(ctx context.Context, task *models.Task) (int, error) {
	depth := 0
	for current := task; current.ParentID != nil; depth++ {
		if depth > s.maxDepth {
			return depth, fmt.Errorf("ancestors of %s: %w", task.ID, models.ErrTreeTooDeep)
		}
		parent, err := s.store.FindByID(ctx, *current.ParentID, repositories.FindOptions{})
		if err != nil {
			return 0, fmt.Errorf("find ancestor of %s: %w", current.ID, err)
		}
		current = parent
	}
	return depth, nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name must not be empty", models.ErrValidation)
	}
	return nil
}
