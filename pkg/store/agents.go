package store

import (
	"context"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
)

// CreateAgent persists a new Agent within a project. (project_id, name) is
// unique; a duplicate insert surfaces as a database error for the caller
// to translate into a 409.
func (s *Store) CreateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	if a.ContactPolicy == "" {
		a.ContactPolicy = "auto"
	}
	var out Agent
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO agents (project_id, name, program, model, skills, contact_policy)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, project_id, name, program, model, skills, contact_policy, created_at
	`, a.ProjectID, a.Name, a.Program, a.Model, a.Skills, a.ContactPolicy)
	if err != nil {
		return nil, apperrors.NewDatabaseError("create_agent", err)
	}
	return &out, nil
}

// AgentByID fetches an agent by its ID.
func (s *Store) AgentByID(ctx context.Context, id int64) (*Agent, error) {
	var a Agent
	err := s.db.GetContext(ctx, &a, `
		SELECT id, project_id, name, program, model, skills, contact_policy, created_at
		FROM agents WHERE id = $1
	`, id)
	if err != nil {
		return nil, apperrors.NewNotFoundError("agent")
	}
	return &a, nil
}

// AgentByName fetches an agent by (project_id, name).
func (s *Store) AgentByName(ctx context.Context, projectID int64, name string) (*Agent, error) {
	var a Agent
	err := s.db.GetContext(ctx, &a, `
		SELECT id, project_id, name, program, model, skills, contact_policy, created_at
		FROM agents WHERE project_id = $1 AND name = $2
	`, projectID, name)
	if err != nil {
		return nil, apperrors.NewNotFoundError("agent")
	}
	return &a, nil
}
