package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
)

// CreateTask persists a new Task, defaulting Status to TaskPending and
// Input to an empty JSONMap when unset.
func (s *Store) CreateTask(ctx context.Context, t *Task) (*Task, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	if t.Input == nil {
		t.Input = JSONMap{}
	}
	if t.Output == nil {
		t.Output = JSONMap{}
	}
	var out Task
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO tasks (id, group_id, mission_id, agent_id, title, status, order_index, input, output, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, group_id, mission_id, agent_id, title, status, order_index, input, output, error, created_at, updated_at
	`, t.ID, t.GroupID, t.MissionID, t.AgentID, t.Title, t.Status, t.Order, t.Input, t.Output, t.Error)
	if err != nil {
		return nil, apperrors.NewDatabaseError("create_task", err)
	}
	return &out, nil
}

// TasksByGroup lists a group's tasks ordered by order_index ASC, ties
// broken by insertion (created_at, id).
func (s *Store) TasksByGroup(ctx context.Context, groupID uuid.UUID) ([]Task, error) {
	var tasks []Task
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT id, group_id, mission_id, agent_id, title, status, order_index, input, output, error, created_at, updated_at
		FROM tasks WHERE group_id = $1
		ORDER BY order_index ASC, created_at ASC, id ASC
	`, groupID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_tasks", err)
	}
	return tasks, nil
}

// FirstFailedTask returns the first failed task in a group, or nil if none.
func (s *Store) FirstFailedTask(ctx context.Context, groupID uuid.UUID) (*Task, error) {
	var t Task
	err := s.db.GetContext(ctx, &t, `
		SELECT id, group_id, mission_id, agent_id, title, status, order_index, input, output, error, created_at, updated_at
		FROM tasks WHERE group_id = $1 AND status = $2
		ORDER BY order_index ASC LIMIT 1
	`, groupID, TaskFailed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewDatabaseError("first_failed_task", err)
	}
	return &t, nil
}

// UpdateTask persists status/output/error/input for an in-flight task.
// Only the Workflow Engine mutates these fields.
func (s *Store) UpdateTask(ctx context.Context, t *Task) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $2, input = $3, output = $4, error = $5, updated_at = now()
		WHERE id = $1
	`, t.ID, t.Status, t.Input, t.Output, t.Error)
	if err != nil {
		return apperrors.NewDatabaseError("update_task", err)
	}
	return nil
}
