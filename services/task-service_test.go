package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/CodeBTHS/app/models"
	"github.com/CodeBTHS/app/repositories"

	"github.com/matryer/is"
)

// recordingStore remembers the order in which assignee edges are created.
type recordingStore struct {
	repositories.TaskStore

	mu      sync.Mutex
	visited []string
}

func (s *recordingStore) CreateAssignee(ctx context.Context, taskID, userID string) error {
	if err := s.TaskStore.CreateAssignee(ctx, taskID, userID); err != nil {
		return err
	}
	s.mu.Lock()
	s.visited = append(s.visited, taskID)
	s.mu.Unlock()
	return nil
}

type fixture struct {
	svc   *TaskService
	repo  *repositories.MemoryTaskRepository
	store *recordingStore
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := repositories.NewMemoryTaskRepository()
	for _, e := range []models.Event{{ID: "e1", Name: "Hackathon"}, {ID: "e2", Name: "Fair"}} {
		if err := repo.SaveEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	for _, u := range []models.User{{ID: "u1", Name: "Ada"}, {ID: "u2", Name: "Grace"}} {
		if err := repo.SaveUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	// Each task gets its own second so creation order is unambiguous.
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if opts.Now == nil {
		opts.Now = func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}
	}
	store := &recordingStore{TaskStore: repo}
	return &fixture{svc: NewTaskService(store, repo, opts), repo: repo, store: store}
}

func (f *fixture) root(t *testing.T, name string) *models.Task {
	t.Helper()
	task, err := f.svc.CreateTask(context.Background(), models.NewTask{Name: name, EventID: "e1"})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return task
}

// sub creates a sub-task and returns the new child.
func (f *fixture) sub(t *testing.T, parentID, name string) *models.Task {
	t.Helper()
	parent, err := f.svc.CreateSubTask(context.Background(), parentID, models.NewTask{Name: name})
	if err != nil {
		t.Fatalf("create sub-task %s: %v", name, err)
	}
	child := parent.SubTasks[len(parent.SubTasks)-1]
	if child.Name != name {
		t.Fatalf("newest sub-task is %q, want %q", child.Name, name)
	}
	return &child
}

func (f *fixture) assigneeIDs(t *testing.T, taskID string) []string {
	t.Helper()
	users, err := f.svc.GetAssignees(context.Background(), taskID)
	if err != nil {
		t.Fatalf("assignees of %s: %v", taskID, err)
	}
	ids := []string{}
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}

func TestCreateTask(t *testing.T) {
	ctx := context.Background()

	t.Run("root task starts empty", func(t *testing.T) {
		is := is.New(t)
		f := newFixture(t, Options{})
		due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

		task, err := f.svc.CreateTask(ctx, models.NewTask{Name: "Book venue", Description: "Main hall", EventID: "e1", DueDate: &due})
		is.NoErr(err)
		is.True(task.IsRoot())
		is.Equal(task.EventID, "e1")
		is.True(task.DueDate.Equal(due))
		is.Equal(len(task.Assignees), 0)
		is.Equal(len(task.SubTasks), 0)

		found, err := f.svc.GetTask(ctx, task.ID)
		is.NoErr(err)
		is.Equal(found.Name, "Book venue")
		is.Equal(len(found.Assignees), 0)
		is.Equal(len(found.SubTasks), 0)
	})

	t.Run("unknown event is an invalid reference", func(t *testing.T) {
		is := is.New(t)
		f := newFixture(t, Options{})

		task, err := f.svc.CreateTask(ctx, models.NewTask{Name: "Book venue", EventID: "missing"})
		is.True(task == nil)
		is.True(errors.Is(err, models.ErrInvalidReference))
		var refErr *models.ReferenceError
		is.True(errors.As(err, &refErr))
		is.Equal(refErr.Code, models.CodeInvalidEvent)
	})

	t.Run("empty name is rejected", func(t *testing.T) {
		is := is.New(t)
		f := newFixture(t, Options{})

		_, err := f.svc.CreateTask(ctx, models.NewTask{Name: "  ", EventID: "e1"})
		is.True(errors.Is(err, models.ErrValidation))
	})
}

func TestCreateSubTask(t *testing.T) {
	ctx := context.Background()

	t.Run("inherits event and snapshots assignees", func(t *testing.T) {
		is := is.New(t)
		f := newFixture(t, Options{})
		root := f.root(t, "root")
		_, err := f.svc.AssignUser(ctx, root.ID, "u1")
		is.NoErr(err)

		parent, err := f.svc.CreateSubTask(ctx, root.ID, models.NewTask{Name: "child", Description: "d"})
		is.NoErr(err)
		is.Equal(parent.ID, root.ID)
		is.Equal(len(parent.SubTasks), 1)
		child := parent.SubTasks[0]
		is.Equal(child.EventID, "e1")
		is.Equal(*child.ParentID, root.ID)
		is.Equal(f.assigneeIDs(t, child.ID), []string{"u1"})

		// Changing the parent's own edge later leaves the child untouched.
		is.NoErr(f.repo.DeleteAssignee(ctx, root.ID, "u1"))
		is.NoErr(f.repo.CreateAssignee(ctx, root.ID, "u2"))
		is.Equal(f.assigneeIDs(t, child.ID), []string{"u1"})
	})

	t.Run("parent without assignees gives child none", func(t *testing.T) {
		is := is.New(t)
		f := newFixture(t, Options{})
		root := f.root(t, "root")

		child := f.sub(t, root.ID, "child")
		is.Equal(len(f.assigneeIDs(t, child.ID)), 0)
	})

	t.Run("descendants share the root event", func(t *testing.T) {
		is := is.New(t)
		f := newFixture(t, Options{})
		root, err := f.svc.CreateTask(ctx, models.NewTask{Name: "root", EventID: "e2"})
		is.NoErr(err)

		s1 := f.sub(t, root.ID, "s1")
		s2 := f.sub(t, s1.ID, "s2")
		s3 := f.sub(t, s2.ID, "s3")
		for _, task := range []*models.Task{s1, s2, s3} {
			is.Equal(task.EventID, "e2")
		}
	})

	t.Run("unknown parent is an invalid reference", func(t *testing.T) {
		is := is.New(t)
		f := newFixture(t, Options{})

		_, err := f.svc.CreateSubTask(ctx, "missing", models.NewTask{Name: "child"})
		var refErr *models.ReferenceError
		is.True(errors.As(err, &refErr))
		is.Equal(refErr.Code, models.CodeInvalidParentTask)
	})

	t.Run("depth is bounded", func(t *testing.T) {
		is := is.New(t)
		f := newFixture(t, Options{MaxDepth: 2})
		root := f.root(t, "root")
		s1 := f.sub(t, root.ID, "s1")
		s2 := f.sub(t, s1.ID, "s2")

		_, err := f.svc.CreateSubTask(ctx, s2.ID, models.NewTask{Name: "s3"})
		is.True(errors.Is(err, models.ErrTreeTooDeep))

		found, err := f.svc.GetTask(ctx, s2.ID)
		is.NoErr(err)
		is.Equal(len(found.SubTasks), 0)
	})
}

func TestGetTask(t *testing.T) {
	ctx := context.Background()
	is := is.New(t)
	f := newFixture(t, Options{})
	root := f.root(t, "root")
	first := f.sub(t, root.ID, "first")
	second := f.sub(t, root.ID, "second")
	_, err := f.svc.AssignUser(ctx, second.ID, "u2")
	is.NoErr(err)

	task, err := f.svc.GetTask(ctx, root.ID)
	is.NoErr(err)
	is.Equal(len(task.SubTasks), 2)
	is.Equal(task.SubTasks[0].ID, first.ID)
	is.Equal(task.SubTasks[1].ID, second.ID)
	is.Equal(len(task.SubTasks[1].Assignees), 1)
	is.Equal(task.SubTasks[1].Assignees[0].User.Name, "Grace")

	_, err = f.svc.GetTask(ctx, "missing")
	is.True(errors.Is(err, models.ErrNotFound))
}

func TestAssignUser(t *testing.T) {
	ctx := context.Background()

	t.Run("propagates to the whole subtree and back", func(t *testing.T) {
		is := is.New(t)
		f := newFixture(t, Options{})
		r := f.root(t, "R")
		s1 := f.sub(t, r.ID, "S1")
		s2 := f.sub(t, s1.ID, "S2")

		task, err := f.svc.AssignUser(ctx, r.ID, "u1")
		is.NoErr(err)
		is.Equal(task.ID, r.ID)
		is.Equal(len(task.Assignees), 1)
		is.Equal(task.Assignees[0].User.Name, "Ada")
		is.True(task.SubTasks == nil)

		found, err := f.svc.GetTask(ctx, s2.ID)
		is.NoErr(err)
		is.Equal(len(found.Assignees), 1)
		is.Equal(found.Assignees[0].UserID, "u1")

		task, err = f.svc.UnassignUser(ctx, r.ID, "u1")
		is.NoErr(err)
		is.Equal(len(task.Assignees), 0)
		is.True(task.SubTasks == nil)

		found, err = f.svc.GetTask(ctx, s2.ID)
		is.NoErr(err)
		is.Equal(len(found.Assignees), 0)
	})

	t.Run("visits depth-first in pre-order", func(t *testing.T) {
		is := is.New(t)
		f := newFixture(t, Options{})
		r := f.root(t, "R")
		c1 := f.sub(t, r.ID, "C1")
		c2 := f.sub(t, r.ID, "C2")
		g := f.sub(t, c1.ID, "G")

		f.store.visited = nil
		_, err := f.svc.AssignUser(ctx, r.ID, "u1")
		is.NoErr(err)
		is.Equal(f.store.visited, []string{r.ID, c1.ID, g.ID, c2.ID})
	})

	t.Run("assigning twice conflicts", func(t *testing.T) {
		is := is.New(t)
		f := newFixture(t, Options{})
		r := f.root(t, "R")

		_, err := f.svc.AssignUser(ctx, r.ID, "u1")
		is.NoErr(err)
		_, err = f.svc.AssignUser(ctx, r.ID, "u1")
		is.True(errors.Is(err, models.ErrConflict))
	})

	t.Run("conflict on a descendant rolls back the whole walk", func(t *testing.T) {
		is := is.New(t)
		f := newFixture(t, Options{})
		r := f.root(t, "R")
		c1 := f.sub(t, r.ID, "C1")
		c2 := f.sub(t, r.ID, "C2")
		_, err := f.svc.AssignUser(ctx, c2.ID, "u1")
		is.NoErr(err)

		_, err = f.svc.AssignUser(ctx, r.ID, "u1")
		is.True(errors.Is(err, models.ErrConflict))

		is.Equal(len(f.assigneeIDs(t, r.ID)), 0)
		is.Equal(len(f.assigneeIDs(t, c1.ID)), 0)
		is.Equal(f.assigneeIDs(t, c2.ID), []string{"u1"})
	})

	t.Run("assign then unassign restores every node", func(t *testing.T) {
		is := is.New(t)
		f := newFixture(t, Options{})
		r := f.root(t, "R")
		a := f.sub(t, r.ID, "A")
		b := f.sub(t, r.ID, "B")
		a1 := f.sub(t, a.ID, "A1")
		_, err := f.svc.AssignUser(ctx, a.ID, "u2")
		is.NoErr(err)

		nodes := []*models.Task{r, a, b, a1}
		before := map[string][]string{}
		for _, n := range nodes {
			before[n.ID] = f.assigneeIDs(t, n.ID)
		}

		_, err = f.svc.AssignUser(ctx, r.ID, "u1")
		is.NoErr(err)
		_, err = f.svc.UnassignUser(ctx, r.ID, "u1")
		is.NoErr(err)

		for _, n := range nodes {
			is.Equal(f.assigneeIDs(t, n.ID), before[n.ID])
		}
	})

	t.Run("unassigning a missing edge is not found", func(t *testing.T) {
		is := is.New(t)
		f := newFixture(t, Options{})
		r := f.root(t, "R")

		_, err := f.svc.UnassignUser(ctx, r.ID, "u1")
		is.True(errors.Is(err, models.ErrNotFound))
	})

	t.Run("missing task is not found", func(t *testing.T) {
		is := is.New(t)
		f := newFixture(t, Options{})

		_, err := f.svc.AssignUser(ctx, "missing", "u1")
		is.True(errors.Is(err, models.ErrNotFound))
	})

	t.Run("cancelled context stops the walk", func(t *testing.T) {
		is := is.New(t)
		f := newFixture(t, Options{})
		r := f.root(t, "R")
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := f.svc.AssignUser(cancelled, r.ID, "u1")
		is.True(errors.Is(err, context.Canceled))
		is.Equal(len(f.assigneeIDs(t, r.ID)), 0)
	})
}

func TestGetAssignees(t *testing.T) {
	ctx := context.Background()
	is := is.New(t)
	f := newFixture(t, Options{})
	r := f.root(t, "R")
	c := f.sub(t, r.ID, "C")
	_, err := f.svc.AssignUser(ctx, r.ID, "u1")
	is.NoErr(err)
	_, err = f.svc.AssignUser(ctx, c.ID, "u2")
	is.NoErr(err)

	is.Equal(f.assigneeIDs(t, r.ID), []string{"u1"})
	is.Equal(len(f.assigneeIDs(t, c.ID)), 2)

	_, err = f.svc.GetAssignees(ctx, "missing")
	is.True(errors.Is(err, models.ErrNotFound))
}

func TestToggleTask(t *testing.T) {
	ctx := context.Background()
	is := is.New(t)
	f := newFixture(t, Options{})
	r := f.root(t, "R")
	c := f.sub(t, r.ID, "C")

	task, err := f.svc.ToggleTask(ctx, r.ID, true)
	is.NoErr(err)
	is.True(task.IsCompleted())

	task, err = f.svc.ToggleTask(ctx, r.ID, true)
	is.NoErr(err)
	is.True(task.IsCompleted())

	child, err := f.svc.GetTask(ctx, c.ID)
	is.NoErr(err)
	is.True(!child.IsCompleted())

	task, err = f.svc.ToggleTask(ctx, r.ID, false)
	is.NoErr(err)
	is.True(task.CompletedAt == nil)

	task, err = f.svc.ToggleTask(ctx, r.ID, false)
	is.NoErr(err)
	is.True(task.CompletedAt == nil)

	_, err = f.svc.ToggleTask(ctx, "missing", true)
	is.True(errors.Is(err, models.ErrNotFound))
}

func TestDeleteTask(t *testing.T) {
	ctx := context.Background()
	is := is.New(t)
	f := newFixture(t, Options{})
	r := f.root(t, "R")
	s1 := f.sub(t, r.ID, "S1")
	s2 := f.sub(t, s1.ID, "S2")
	other := f.root(t, "other")
	_, err := f.svc.AssignUser(ctx, r.ID, "u1")
	is.NoErr(err)
	_, err = f.svc.AssignUser(ctx, other.ID, "u1")
	is.NoErr(err)

	deleted, err := f.svc.DeleteTask(ctx, r.ID)
	is.NoErr(err)
	is.Equal(deleted.ID, r.ID)
	is.Equal(len(deleted.SubTasks), 1)
	is.Equal(len(deleted.Assignees), 1)

	for _, id := range []string{r.ID, s1.ID, s2.ID} {
		_, err := f.svc.GetTask(ctx, id)
		is.True(errors.Is(err, models.ErrNotFound))
	}
	assigned, err := f.svc.ListAssignedTasks(ctx, "u1")
	is.NoErr(err)
	is.Equal(len(assigned), 1)
	is.Equal(assigned[0].ID, other.ID)

	_, err = f.svc.DeleteTask(ctx, r.ID)
	is.True(errors.Is(err, models.ErrNotFound))
}

func TestUpdateTask(t *testing.T) {
	ctx := context.Background()
	is := is.New(t)
	f := newFixture(t, Options{})
	r := f.root(t, "R")
	due := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	name := "Renamed"

	task, err := f.svc.UpdateTask(ctx, r.ID, models.TaskPatch{Name: &name, DueDate: &due})
	is.NoErr(err)
	is.Equal(task.Name, "Renamed")
	is.True(task.DueDate.Equal(due))

	empty := ""
	_, err = f.svc.UpdateTask(ctx, r.ID, models.TaskPatch{Name: &empty})
	is.True(errors.Is(err, models.ErrValidation))

	_, err = f.svc.UpdateTask(ctx, r.ID, models.TaskPatch{})
	is.True(errors.Is(err, models.ErrValidation))

	_, err = f.svc.UpdateTask(ctx, "missing", models.TaskPatch{Name: &name})
	is.True(errors.Is(err, models.ErrNotFound))

	task, err = f.svc.UpdateTask(ctx, r.ID, models.TaskPatch{ClearDueDate: true})
	is.NoErr(err)
	is.True(task.DueDate == nil)
	is.Equal(task.Name, "Renamed")
}

func TestListEventTasks(t *testing.T) {
	ctx := context.Background()
	is := is.New(t)
	f := newFixture(t, Options{})
	first := f.root(t, "first")
	f.sub(t, first.ID, "child")
	second := f.root(t, "second")

	tasks, err := f.svc.ListEventTasks(ctx, "e1")
	is.NoErr(err)
	is.Equal(len(tasks), 2)
	is.Equal(tasks[0].ID, first.ID)
	is.Equal(tasks[1].ID, second.ID)
}
