package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CodeBTHS/app/models"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	date INTEGER
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	image TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	event_id TEXT NOT NULL,
	parent_id TEXT REFERENCES tasks(id),
	due_date INTEGER,
	completed_at INTEGER,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS tasks_parent_idx ON tasks (parent_id, created_at);
CREATE INDEX IF NOT EXISTS tasks_event_idx ON tasks (event_id, created_at);

CREATE TABLE IF NOT EXISTS task_assignees (
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (task_id, user_id)
);

CREATE INDEX IF NOT EXISTS task_assignees_user_idx ON task_assignees (user_id);
`

const taskColumns = `t.id, t.name, t.description, t.event_id, t.parent_id, t.due_date, t.completed_at, t.created_at`

// sqlConn is satisfied by both *sql.DB and *sql.Tx.
type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteTxKey struct{}

type SQLiteTaskRepository struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return db, nil
}

func NewSQLiteTaskRepository(db *sql.DB) *SQLiteTaskRepository {
	return &SQLiteTaskRepository{db: db}
}

func (r *SQLiteTaskRepository) conn(ctx context.Context) sqlConn {
	if tx, ok := ctx.Value(sqliteTxKey{}).(*sql.Tx); ok {
		return tx
	}
	return r.db
}

func (r *SQLiteTaskRepository) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(sqliteTxKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, sqliteTxKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteTaskRepository) FindByID(ctx context.Context, taskID string, opts FindOptions) (*models.Task, error) {
	row := r.conn(ctx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = ?`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find task %s: %w", taskID, err)
	}

	if opts.WithAssignees {
		if task.Assignees, err = r.assigneesOf(ctx, taskID); err != nil {
			return nil, err
		}
	}
	if opts.WithSubTasks {
		children, err := r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.parent_id = ? ORDER BY t.created_at, t.rowid`, taskID)
		if err != nil {
			return nil, fmt.Errorf("find sub-tasks of %s: %w", taskID, err)
		}
		if opts.WithAssignees {
			for i := range children {
				if children[i].Assignees, err = r.assigneesOf(ctx, children[i].ID); err != nil {
					return nil, err
				}
			}
		}
		task.SubTasks = children
	}
	return &task, nil
}

func (r *SQLiteTaskRepository) FindByEvent(ctx context.Context, eventID string) ([]models.Task, error) {
	tasks, err := r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks t
		WHERE t.event_id = ? AND t.parent_id IS NULL
		ORDER BY t.created_at, t.rowid`, eventID)
	if err != nil {
		return nil, fmt.Errorf("find tasks of event %s: %w", eventID, err)
	}
	return tasks, nil
}

func (r *SQLiteTaskRepository) FindAssignedTo(ctx context.Context, userID string) ([]models.Task, error) {
	tasks, err := r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks t
		JOIN task_assignees a ON a.task_id = t.id
		WHERE a.user_id = ?
		ORDER BY t.due_date IS NULL, t.due_date, t.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("find tasks assigned to %s: %w", userID, err)
	}
	return tasks, nil
}

func (r *SQLiteTaskRepository) Create(ctx context.Context, task *models.Task) (*models.Task, error) {
	created := *task
	created.SubTasks = nil
	created.Assignees = nil
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	_, err := r.conn(ctx).ExecContext(ctx, `
		INSERT INTO tasks (id, name, description, event_id, parent_id, due_date, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		created.ID,
		created.Name,
		created.Description,
		created.EventID,
		nullString(created.ParentID),
		nullTime(created.DueDate),
		nullTime(created.CompletedAt),
		created.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &created, nil
}

func (r *SQLiteTaskRepository) Update(ctx context.Context, taskID string, patch models.TaskPatch) (*models.Task, error) {
	var sets []string
	var args []any
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	switch {
	case patch.ClearDueDate:
		sets = append(sets, "due_date = NULL")
	case patch.DueDate != nil:
		sets = append(sets, "due_date = ?")
		args = append(args, patch.DueDate.UnixNano())
	}
	if patch.SetCompletedAt {
		sets = append(sets, "completed_at = ?")
		args = append(args, nullTime(patch.CompletedAt))
	}

	if len(sets) > 0 {
		args = append(args, taskID)
		res, err := r.conn(ctx).ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return nil, fmt.Errorf("update task %s: %w", taskID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
		}
	}
	return r.FindByID(ctx, taskID, FindOptions{})
}

func (r *SQLiteTaskRepository) Delete(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := r.FindByID(ctx, taskID, FindOptions{WithAssignees: true})
	if err != nil {
		return nil, err
	}
	conn := r.conn(ctx)
	if _, err := conn.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id = ?`, taskID); err != nil {
		return nil, fmt.Errorf("delete assignees of %s: %w", taskID, err)
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
		return nil, fmt.Errorf("delete task %s: %w", taskID, err)
	}
	return task, nil
}

func (r *SQLiteTaskRepository) CreateAssignee(ctx context.Context, taskID, userID string) error {
	conn := r.conn(ctx)
	var exists int
	err := conn.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, taskID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("find task %s: %w", taskID, err)
	}

	res, err := conn.ExecContext(ctx, `
		INSERT INTO task_assignees (task_id, user_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (task_id, user_id) DO NOTHING`,
		taskID, userID, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("assign user %s to task %s: %w", userID, taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("assign user %s to task %s: %w", userID, taskID, err)
	}
	if n == 0 {
		return fmt.Errorf("user %s on task %s: %w", userID, taskID, models.ErrConflict)
	}
	return nil
}

func (r *SQLiteTaskRepository) DeleteAssignee(ctx context.Context, taskID, userID string) error {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id = ? AND user_id = ?`, taskID, userID)
	if err != nil {
		return fmt.Errorf("unassign user %s from task %s: %w", userID, taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unassign user %s from task %s: %w", userID, taskID, err)
	}
	if n == 0 {
		return fmt.Errorf("user %s on task %s: %w", userID, taskID, models.ErrNotFound)
	}
	return nil
}

func (r *SQLiteTaskRepository) FindUsersAssignedTo(ctx context.Context, taskID string) ([]models.User, error) {
	assignees, err := r.assigneesOf(ctx, taskID)
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(assignees))
	for _, a := range assignees {
		users = append(users, a.User)
	}
	return users, nil
}

func (r *SQLiteTaskRepository) EventExists(ctx context.Context, eventID string) (bool, error) {
	var exists int
	err := r.conn(ctx).QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, eventID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find event %s: %w", eventID, err)
	}
	return true, nil
}

func (r *SQLiteTaskRepository) SaveEvent(ctx context.Context, event models.Event) error {
	_, err := r.conn(ctx).ExecContext(ctx, `
		INSERT INTO events (id, name, date) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, date = excluded.date`,
		event.ID, event.Name, nullDate(event.Date))
	if err != nil {
		return fmt.Errorf("save event %s: %w", event.ID, err)
	}
	return nil
}

func (r *SQLiteTaskRepository) SaveUser(ctx context.Context, user models.User) error {
	_, err := r.conn(ctx).ExecContext(ctx, `
		INSERT INTO users (id, name, email, image) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, email = excluded.email, image = excluded.image`,
		user.ID, user.Name, user.Email, user.Image)
	if err != nil {
		return fmt.Errorf("save user %s: %w", user.ID, err)
	}
	return nil
}

func (r *SQLiteTaskRepository) assigneesOf(ctx context.Context, taskID string) ([]models.Assignee, error) {
	rows, err := r.conn(ctx).QueryContext(ctx, `
		SELECT a.task_id, a.user_id, a.created_at,
			COALESCE(u.name, ''), COALESCE(u.email, ''), COALESCE(u.image, '')
		FROM task_assignees a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE a.task_id = ?
		ORDER BY a.created_at, a.rowid`, taskID)
	if err != nil {
		return nil, fmt.Errorf("find assignees of %s: %w", taskID, err)
	}
	defer rows.Close()

	assignees := []models.Assignee{}
	for rows.Next() {
		var a models.Assignee
		var created int64
		if err := rows.Scan(&a.TaskID, &a.UserID, &created, &a.User.Name, &a.User.Email, &a.User.Image); err != nil {
			return nil, fmt.Errorf("scan assignee: %w", err)
		}
		a.CreatedAt = time.Unix(0, created).UTC()
		a.User.ID = a.UserID
		assignees = append(assignees, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignees of %s: %w", taskID, err)
	}
	return assignees, nil
}

func (r *SQLiteTaskRepository) queryTasks(ctx context.Context, query string, args ...any) ([]models.Task, error) {
	rows, err := r.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.Task, error) {
	var (
		task               models.Task
		parent             sql.NullString
		due, completed     sql.NullInt64
		createdAtUnixNanos int64
	)
	err := row.Scan(&task.ID, &task.Name, &task.Description, &task.EventID, &parent, &due, &completed, &createdAtUnixNanos)
	if err != nil {
		return task, err
	}
	if parent.Valid {
		task.ParentID = &parent.String
	}
	task.DueDate = timeFromNull(due)
	task.CompletedAt = timeFromNull(completed)
	task.CreatedAt = time.Unix(0, createdAtUnixNanos).UTC()
	return task, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullDate(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return nullTime(&t)
}

func timeFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}
