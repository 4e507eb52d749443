package services

import (
	"context"
	"fmt"

	"github.com/CodeBTHS/app/models"
	"github.com/CodeBTHS/app/repositories"
)

type visitFunc func(ctx context.Context, taskID string) error

// walkSubtree visits taskID and then its descendants depth-first in pre-order,
// siblings in ascending creation order. Children are read after the parent
// has been visited, one node at a time.
func (s *TaskService) walkSubtree(ctx context.Context, taskID string, visit visitFunc) error {
	return s.walk(ctx, taskID, 0, visit)
}

func (s *TaskService) walk(ctx context.Context, taskID string, depth int, visit visitFunc) error {
	if depth > s.maxDepth {
		return fmt.Errorf("task %s at depth %d: %w", taskID, depth, models.ErrTreeTooDeep)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := visit(ctx, taskID); err != nil {
		return err
	}

	task, err := s.store.FindByID(ctx, taskID, repositories.FindOptions{WithSubTasks: true})
	if err != nil {
		return err
	}
	for _, child := range task.SubTasks {
		if err := s.walk(ctx, child.ID, depth+1, visit); err != nil {
			return err
		}
	}
	return nil
}
