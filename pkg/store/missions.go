package store

import (
	"context"

	"github.com/google/uuid"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
)

// CreateMission persists a new Mission in MissionPending status.
func (s *Store) CreateMission(ctx context.Context, m *Mission) (*Mission, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = MissionPending
	}
	if m.RunMode == "" {
		m.RunMode = RunModeSequential
	}
	var out Mission
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO missions (id, project_id, title, status, run_mode, context)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, project_id, title, status, run_mode, context, created_at, updated_at
	`, m.ID, m.ProjectID, m.Title, m.Status, m.RunMode, m.Context)
	if err != nil {
		return nil, apperrors.NewDatabaseError("create_mission", err)
	}
	return &out, nil
}

// MissionByID fetches a mission by its UUID.
func (s *Store) MissionByID(ctx context.Context, id uuid.UUID) (*Mission, error) {
	var m Mission
	err := s.db.GetContext(ctx, &m, `
		SELECT id, project_id, title, status, run_mode, context, created_at, updated_at
		FROM missions WHERE id = $1
	`, id)
	if err != nil {
		return nil, apperrors.NewNotFoundError("mission")
	}
	return &m, nil
}

// ListMissionsByProject lists all missions for a project, most recent first.
func (s *Store) ListMissionsByProject(ctx context.Context, projectID int64) ([]Mission, error) {
	var missions []Mission
	err := s.db.SelectContext(ctx, &missions, `
		SELECT id, project_id, title, status, run_mode, context, created_at, updated_at
		FROM missions WHERE project_id = $1 ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_missions", err)
	}
	return missions, nil
}

// UpdateMissionStatus persists a new status and bumps updated_at. Only the
// workflow engine calls this: mission status transitions only forward
// within pending -> running -> {completed|failed}.
func (s *Store) UpdateMissionStatus(ctx context.Context, id uuid.UUID, status MissionStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE missions SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return apperrors.NewDatabaseError("update_mission_status", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.NewNotFoundError("mission")
	}
	return nil
}

// CreateTaskGroup persists a new TaskGroup.
func (s *Store) CreateTaskGroup(ctx context.Context, g *TaskGroup) (*TaskGroup, error) {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.Status == "" {
		g.Status = MissionPending
	}
	if g.Kind == "" {
		g.Kind = GroupSequential
	}
	var out TaskGroup
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO task_groups (id, mission_id, title, kind, order_index, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, mission_id, title, kind, order_index, status, created_at
	`, g.ID, g.MissionID, g.Title, g.Kind, g.Order, g.Status)
	if err != nil {
		return nil, apperrors.NewDatabaseError("create_task_group", err)
	}
	return &out, nil
}

// TaskGroupsByMission lists a mission's task groups ordered by order_index
// ASC, ties broken by insertion (created_at, id).
func (s *Store) TaskGroupsByMission(ctx context.Context, missionID uuid.UUID) ([]TaskGroup, error) {
	var groups []TaskGroup
	err := s.db.SelectContext(ctx, &groups, `
		SELECT id, mission_id, title, kind, order_index, status, created_at
		FROM task_groups WHERE mission_id = $1
		ORDER BY order_index ASC, created_at ASC, id ASC
	`, missionID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_task_groups", err)
	}
	return groups, nil
}

// UpdateTaskGroupStatus persists a new status for a task group.
func (s *Store) UpdateTaskGroupStatus(ctx context.Context, id uuid.UUID, status MissionStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE task_groups SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return apperrors.NewDatabaseError("update_task_group_status", err)
	}
	return nil
}
