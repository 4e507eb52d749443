package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/CodeBTHS/app/models"

	"github.com/google/uuid"
)

type memoryTask struct {
	task models.Task
	seq  int64
}

type memoryState struct {
	tasks     map[string]memoryTask
	assignees map[string]map[string]time.Time // taskID -> userID -> assigned at
	users     map[string]models.User
	events    map[string]models.Event
	seq       int64
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		tasks:     make(map[string]memoryTask, len(s.tasks)),
		assignees: make(map[string]map[string]time.Time, len(s.assignees)),
		users:     make(map[string]models.User, len(s.users)),
		events:    make(map[string]models.Event, len(s.events)),
		seq:       s.seq,
	}
	for id, t := range s.tasks {
		c.tasks[id] = t
	}
	for taskID, edges := range s.assignees {
		copied := make(map[string]time.Time, len(edges))
		for userID, at := range edges {
			copied[userID] = at
		}
		c.assignees[taskID] = copied
	}
	for id, u := range s.users {
		c.users[id] = u
	}
	for id, e := range s.events {
		c.events[id] = e
	}
	return c
}

// MemoryTaskRepository keeps the task tree in process memory.
type MemoryTaskRepository struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	state *memoryState
}

func NewMemoryTaskRepository() *MemoryTaskRepository {
	return &MemoryTaskRepository{
		state: &memoryState{
			tasks:     map[string]memoryTask{},
			assignees: map[string]map[string]time.Time{},
			users:     map[string]models.User{},
			events:    map[string]models.Event{},
		},
	}
}

type memoryTxKey struct{}

// Transact serializes units of work and restores the previous state when fn fails.
// Writes made outside a transaction wait for the running one, so a rollback only
// ever discards the writes of fn.
func (r *MemoryTaskRepository) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.inTx(ctx) {
		return fn(ctx)
	}
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	snapshot := r.state.clone()
	r.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memoryTxKey{}, r)); err != nil {
		r.mu.Lock()
		r.state = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *MemoryTaskRepository) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(memoryTxKey{}).(*MemoryTaskRepository)
	return owner == r
}

// lock takes the write lock and returns its release.
func (r *MemoryTaskRepository) lock(ctx context.Context) func() {
	if r.inTx(ctx) {
		r.mu.Lock()
		return r.mu.Unlock
	}
	r.txMu.Lock()
	r.mu.Lock()
	return func() {
		r.mu.Unlock()
		r.txMu.Unlock()
	}
}

func (r *MemoryTaskRepository) FindByID(ctx context.Context, taskID string, opts FindOptions) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.state.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	task := stored.task
	if opts.WithAssignees {
		task.Assignees = r.assigneesOf(taskID)
	}
	if opts.WithSubTasks {
		task.SubTasks = []models.Task{}
		for _, child := range r.childrenOf(taskID) {
			if opts.WithAssignees {
				child.Assignees = r.assigneesOf(child.ID)
			}
			task.SubTasks = append(task.SubTasks, child)
		}
	}
	return &task, nil
}

func (r *MemoryTaskRepository) FindByEvent(ctx context.Context, eventID string) ([]models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := r.collect(func(t models.Task) bool {
		return t.EventID == eventID && t.ParentID == nil
	})
	return matches, nil
}

func (r *MemoryTaskRepository) FindAssignedTo(ctx context.Context, userID string) ([]models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := r.collect(func(t models.Task) bool {
		_, ok := r.state.assignees[t.ID][userID]
		return ok
	})
	sortByDueDate(matches)
	return matches, nil
}

func (r *MemoryTaskRepository) Create(ctx context.Context, task *models.Task) (*models.Task, error) {
	defer r.lock(ctx)()

	created := *task
	created.SubTasks = nil
	created.Assignees = nil
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if _, exists := r.state.tasks[created.ID]; exists {
		return nil, fmt.Errorf("task %s: %w", created.ID, models.ErrConflict)
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	r.state.seq++
	r.state.tasks[created.ID] = memoryTask{task: created, seq: r.state.seq}
	return &created, nil
}

func (r *MemoryTaskRepository) Update(ctx context.Context, taskID string, patch models.TaskPatch) (*models.Task, error) {
	defer r.lock(ctx)()

	stored, ok := r.state.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	patch.Apply(&stored.task)
	r.state.tasks[taskID] = stored
	updated := stored.task
	return &updated, nil
}

func (r *MemoryTaskRepository) Delete(ctx context.Context, taskID string) (*models.Task, error) {
	defer r.lock(ctx)()

	stored, ok := r.state.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	deleted := stored.task
	deleted.Assignees = r.assigneesOf(taskID)
	delete(r.state.tasks, taskID)
	delete(r.state.assignees, taskID)
	return &deleted, nil
}

func (r *MemoryTaskRepository) CreateAssignee(ctx context.Context, taskID, userID string) error {
	defer r.lock(ctx)()

	if _, ok := r.state.tasks[taskID]; !ok {
		return fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	edges := r.state.assignees[taskID]
	if edges == nil {
		edges = map[string]time.Time{}
		r.state.assignees[taskID] = edges
	}
	if _, exists := edges[userID]; exists {
		return fmt.Errorf("user %s on task %s: %w", userID, taskID, models.ErrConflict)
	}
	edges[userID] = time.Now().UTC()
	return nil
}

func (r *MemoryTaskRepository) DeleteAssignee(ctx context.Context, taskID, userID string) error {
	defer r.lock(ctx)()

	if _, exists := r.state.assignees[taskID][userID]; !exists {
		return fmt.Errorf("user %s on task %s: %w", userID, taskID, models.ErrNotFound)
	}
	delete(r.state.assignees[taskID], userID)
	return nil
}

func (r *MemoryTaskRepository) FindUsersAssignedTo(ctx context.Context, taskID string) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := []models.User{}
	for _, a := range r.assigneesOf(taskID) {
		users = append(users, a.User)
	}
	return users, nil
}

func (r *MemoryTaskRepository) EventExists(ctx context.Context, eventID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.state.events[eventID]
	return ok, nil
}

func (r *MemoryTaskRepository) SaveEvent(ctx context.Context, event models.Event) error {
	defer r.lock(ctx)()
	r.state.events[event.ID] = event
	return nil
}

func (r *MemoryTaskRepository) SaveUser(ctx context.Context, user models.User) error {
	defer r.lock(ctx)()
	r.state.users[user.ID] = user
	return nil
}

// childrenOf expects r.mu to be held.
func (r *MemoryTaskRepository) childrenOf(taskID string) []models.Task {
	return r.collect(func(t models.Task) bool {
		return t.ParentID != nil && *t.ParentID == taskID
	})
}

// collect returns matching tasks in creation order. Expects r.mu to be held.
func (r *MemoryTaskRepository) collect(match func(models.Task) bool) []models.Task {
	var stored []memoryTask
	for _, t := range r.state.tasks {
		if match(t.task) {
			stored = append(stored, t)
		}
	}
	sort.Slice(stored, func(i, j int) bool {
		a, b := stored[i], stored[j]
		if !a.task.CreatedAt.Equal(b.task.CreatedAt) {
			return a.task.CreatedAt.Before(b.task.CreatedAt)
		}
		return a.seq < b.seq
	})
	tasks := make([]models.Task, 0, len(stored))
	for _, t := range stored {
		tasks = append(tasks, t.task)
	}
	return tasks
}

// assigneesOf returns the task's edges ordered by assignment time. Expects r.mu to be held.
func (r *MemoryTaskRepository) assigneesOf(taskID string) []models.Assignee {
	assignees := []models.Assignee{}
	for userID, at := range r.state.assignees[taskID] {
		user, ok := r.state.users[userID]
		if !ok {
			user = models.User{ID: userID}
		}
		assignees = append(assignees, models.Assignee{TaskID: taskID, UserID: userID, CreatedAt: at, User: user})
	}
	sort.Slice(assignees, func(i, j int) bool {
		if !assignees[i].CreatedAt.Equal(assignees[j].CreatedAt) {
			return assignees[i].CreatedAt.Before(assignees[j].CreatedAt)
		}
		return assignees[i].UserID < assignees[j].UserID
	})
	return assignees
}
