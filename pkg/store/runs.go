package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
)

// CreateWorkflowRun persists a new WorkflowRun in RunStatusRunning.
func (s *Store) CreateWorkflowRun(ctx context.Context, r *WorkflowRun) (*WorkflowRun, error) {
	if r.RunID == uuid.Nil {
		r.RunID = uuid.New()
	}
	if r.Status == "" {
		r.Status = RunStatusRunning
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	var out WorkflowRun
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO workflow_runs (run_id, mission_id, mode, status, started_at, trace_uri)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING run_id, mission_id, mode, status, started_at, ended_at, trace_uri
	`, r.RunID, r.MissionID, r.Mode, r.Status, r.StartedAt, r.TraceURI)
	if err != nil {
		return nil, apperrors.NewDatabaseError("create_workflow_run", err)
	}
	return &out, nil
}

// FinishWorkflowRun sets the terminal status and ended_at. Per the
// invariant in §3, ended_at is always set and >= started_at for any run
// whose status is no longer "running".
func (s *Store) FinishWorkflowRun(ctx context.Context, runID uuid.UUID, status WorkflowRunStatus, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_runs SET status = $2, ended_at = $3 WHERE run_id = $1
	`, runID, status, endedAt)
	if err != nil {
		return apperrors.NewDatabaseError("finish_workflow_run", err)
	}
	return nil
}

// WorkflowRunByID fetches a run by its UUID.
func (s *Store) WorkflowRunByID(ctx context.Context, runID uuid.UUID) (*WorkflowRun, error) {
	var r WorkflowRun
	err := s.db.GetContext(ctx, &r, `
		SELECT run_id, mission_id, mode, status, started_at, ended_at, trace_uri
		FROM workflow_runs WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, apperrors.NewNotFoundError("workflow_run")
	}
	return &r, nil
}
