package store

import (
	"context"

	"github.com/google/uuid"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
)

// CreateArtifact persists a new Artifact. Artifacts are append-only: there
// is no UpdateArtifact.
func (s *Store) CreateArtifact(ctx context.Context, a *Artifact) (*Artifact, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Scope == "" {
		a.Scope = ScopeMission
	}
	if a.Version == "" {
		a.Version = "v1"
	}
	var out Artifact
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO artifacts (id, mission_id, task_id, type, scope, path, version, sha256, content_meta, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, mission_id, task_id, type, scope, path, version, sha256, content_meta, tags, created_at
	`, a.ID, a.MissionID, a.TaskID, a.Type, a.Scope, a.Path, a.Version, a.SHA256, a.ContentMeta, a.Tags)
	if err != nil {
		return nil, apperrors.NewDatabaseError("create_artifact", err)
	}
	return &out, nil
}

// ArtifactsByMission lists every artifact for a mission.
func (s *Store) ArtifactsByMission(ctx context.Context, missionID uuid.UUID) ([]Artifact, error) {
	var artifacts []Artifact
	err := s.db.SelectContext(ctx, &artifacts, `
		SELECT id, mission_id, task_id, type, scope, path, version, sha256, content_meta, tags, created_at
		FROM artifacts WHERE mission_id = $1 ORDER BY created_at ASC
	`, missionID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_artifacts", err)
	}
	return artifacts, nil
}

// CreateKnowledge persists a new Knowledge entry derived from an existing
// artifact. Knowledge is append-only.
func (s *Store) CreateKnowledge(ctx context.Context, k *Knowledge) (*Knowledge, error) {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	if k.Version == "" {
		k.Version = "v1"
	}
	if k.Scope == "" {
		k.Scope = ScopeMission
	}
	var out Knowledge
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO knowledge (id, source_artifact_id, version, scope, summary, tags, reusable)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, source_artifact_id, version, scope, summary, tags, reusable, created_at
	`, k.ID, k.SourceArtifactID, k.Version, k.Scope, k.Summary, k.Tags, k.Reusable)
	if err != nil {
		return nil, apperrors.NewDatabaseError("create_knowledge", err)
	}
	return &out, nil
}
