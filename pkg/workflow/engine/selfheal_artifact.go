package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/agentfleet/missionhub/pkg/store"
	"github.com/google/uuid"
)

// syntheticSHA computes the content-addressed identity used for recovery
// artifacts: sha256("<run_id>:<task_id>:<summary>"). This is deliberately
// not a file digest — there is no backing file for a synthetic summary.
func syntheticSHA(runID uuid.UUID, taskID *uuid.UUID, summary string) string {
	taskPart := "none"
	if taskID != nil {
		taskPart = taskID.String()
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", runID, taskPart, summary)))
	return hex.EncodeToString(h[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// emitSelfHealArtifact writes an Artifact plus a derived Knowledge row
// summarizing either a clean run or a self-heal recovery attempt.
// task_id is nil for the no-matching-failed-task case (see DESIGN.md).
func emitSelfHealArtifact(ctx context.Context, st *store.Store, missionID, runID uuid.UUID, taskID *uuid.UUID, artifactType, summary string, success bool, contentMeta store.JSONMap) error {
	path := fmt.Sprintf("self_heal/%s/%s:%s", runID, taskIDOrNone(taskID), truncate(summary, 80))
	meta := store.JSONMap{}
	for k, v := range contentMeta {
		meta[k] = v
	}
	meta["success"] = success

	artifact := &store.Artifact{
		MissionID:   missionID,
		TaskID:      taskID,
		Type:        artifactType,
		Scope:       store.ScopeMission,
		Path:        path,
		SHA256:      syntheticSHA(runID, taskID, summary),
		ContentMeta: meta,
		Tags:        store.StringSet{"self-heal", "workflow"},
	}
	created, err := st.CreateArtifact(ctx, artifact)
	if err != nil {
		return err
	}

	_, err = st.CreateKnowledge(ctx, &store.Knowledge{
		SourceArtifactID: created.ID,
		Scope:            store.ScopeMission,
		Summary:          &summary,
		Tags:             store.StringSet{"self-heal", "workflow"},
		Reusable:         success,
	})
	return err
}

func taskIDOrNone(taskID *uuid.UUID) string {
	if taskID == nil {
		return "none"
	}
	return taskID.String()
}
