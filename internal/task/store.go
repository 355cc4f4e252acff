package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no task exists for the given id.
	ErrNotFound = errors.New("task not found")
	// ErrStatusConflict is returned when a transition's expected current
	// status no longer matches the stored row. The caller lost the race
	// (or the edge is not allowed) and must re-read before retrying.
	ErrStatusConflict = errors.New("task status conflict")
)

// Store persists tasks and their transition history in PostgreSQL. It is the
// single source of truth for job state; producers and workers never mutate
// status through anything else.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateInput carries everything needed to persist a new task. The id is
// assigned by the producer so the queued message and the row agree before
// either is written.
type CreateInput struct {
	ID        string
	ProjectID string
	Kind      Kind
	Payload   json.RawMessage
}

// Create inserts a task with status NEW.
func (s *Store) Create(ctx context.Context, in CreateInput) (Task, error) {
	if in.ID == "" {
		return Task{}, fmt.Errorf("create task: id is required")
	}

	var t Task
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, project_id, kind, status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, project_id, kind, status, payload, tracking_id, result_message, created_at, updated_at
	`, in.ID, in.ProjectID, string(in.Kind), string(StatusNew), in.Payload).Scan(
		&t.ID, &t.ProjectID, &t.Kind, &t.Status, &t.Payload,
		&t.TrackingID, &t.ResultMessage, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// Get fetches a task by id.
func (s *Store) Get(ctx context.Context, id string) (Task, error) {
	var t Task
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, kind, status, payload, tracking_id, result_message, created_at, updated_at
		FROM tasks
		WHERE id = $1
	`, id).Scan(
		&t.ID, &t.ProjectID, &t.Kind, &t.Status, &t.Payload,
		&t.TrackingID, &t.ResultMessage, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// TransitionInput describes one status move. From is the status the caller
// observed; the update is conditional on it so concurrent transitions on the
// same task serialize through the database.
type TransitionInput struct {
	ID      string
	From    Status
	To      Status
	Message string

	// Optional mutations applied together with the transition.
	TrackingID    *string
	ResultMessage *string
}

// Transition atomically moves a task along one state-machine edge and appends
// the matching history record. Returns ErrStatusConflict when the edge is
// invalid or the stored status is no longer From.
func (s *Store) Transition(ctx context.Context, in TransitionInput) error {
	if !in.From.CanTransition(in.To) {
		return fmt.Errorf("%w: %s -> %s is not a valid edge", ErrStatusConflict, in.From, in.To)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("transition task %s: %w", in.ID, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE tasks
		SET status = $1,
		    tracking_id = COALESCE($2, tracking_id),
		    result_message = COALESCE($3, result_message),
		    updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, string(in.To), in.TrackingID, in.ResultMessage, in.ID, string(in.From))
	if err != nil {
		return fmt.Errorf("transition task %s: %w", in.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing task from a lost race.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, in.ID).Scan(&exists); err != nil {
			return fmt.Errorf("transition task %s: %w", in.ID, err)
		}
		if !exists {
			return ErrNotFound
		}
		return fmt.Errorf("%w: task %s is no longer %s", ErrStatusConflict, in.ID, in.From)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO task_history (task_id, old_status, new_status, message, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, in.ID, string(in.From), string(in.To), in.Message)
	if err != nil {
		return fmt.Errorf("append task history %s: %w", in.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("transition task %s: %w", in.ID, err)
	}
	return nil
}

// History returns the full transition trail for a task, oldest first.
func (s *Store) History(ctx context.Context, taskID string) ([]History, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT task_id, old_status, new_status, message, created_at
		FROM task_history
		WHERE task_id = $1
		ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("task history %s: %w", taskID, err)
	}
	defer rows.Close()

	records := make([]History, 0)
	for rows.Next() {
		var h History
		if err := rows.Scan(&h.TaskID, &h.OldStatus, &h.NewStatus, &h.Message, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("task history %s: %w", taskID, err)
		}
		records = append(records, h)
	}
	return records, rows.Err()
}

// StaleNew lists tasks still NEW after olderThan. These are submissions whose
// publish failed or whose message was lost; the sweeper republishes them.
func (s *Store) StaleNew(ctx context.Context, olderThan time.Duration, limit int) ([]Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, kind, status, payload, tracking_id, result_message, created_at, updated_at
		FROM tasks
		WHERE status = $1 AND created_at < NOW() - $2::interval
		ORDER BY created_at
		LIMIT $3
	`, string(StatusNew), fmt.Sprintf("%f seconds", olderThan.Seconds()), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		var t Task
		if err := rows.Scan(
			&t.ID, &t.ProjectID, &t.Kind, &t.Status, &t.Payload,
			&t.TrackingID, &t.ResultMessage, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("list stale tasks: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
