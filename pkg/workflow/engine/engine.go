// Package engine implements the mission state machine: one Workflow type
// parameterized by a GroupStrategy, rather than a class hierarchy of
// sequential/self-heal executors. Group execution returns an explicit
// result value instead of relying on exception-style unwinding, so the
// outer Run loop can branch on it directly.
package engine

import (
	"context"
	"path/filepath"
	"time"

	"github.com/agentfleet/missionhub/pkg/audit"
	"github.com/agentfleet/missionhub/pkg/evidence"
	"github.com/agentfleet/missionhub/pkg/metrics"
	"github.com/agentfleet/missionhub/pkg/signals"
	"github.com/agentfleet/missionhub/pkg/store"
	"github.com/google/uuid"
)

func filepathJoinTraceURI(traceDir string, runID uuid.UUID) string {
	return filepath.Join(traceDir, "workflow_run_"+runID.String()+".jsonl")
}

// GroupStrategy selects how a Workflow reacts to a failed task within a
// group.
type GroupStrategy int

const (
	// StrategyPlain raises on the first failed task with no recovery
	// attempt.
	StrategyPlain GroupStrategy = iota
	// StrategySelfHeal attempts exactly one recovery task per failed group
	// before giving up.
	StrategySelfHeal
)

// GroupStatus is the outcome of executing one task group.
type GroupStatus int

const (
	GroupOK GroupStatus = iota
	GroupFailed
)

// groupResult is returned by executeGroup instead of raising an error for
// control flow: the caller branches on Status directly.
type groupResult struct {
	Status     GroupStatus
	FailedTask *store.Task
	Err        error
}

// Config tunes optional engine behavior.
type Config struct {
	// EmitCleanRunArtifact preserves the original behavior of emitting a
	// summary self_heal_artifact even when no failure occurred. Callers
	// should default this to true (DefaultConfig does) so the behavior
	// stays explicit rather than silently on.
	EmitCleanRunArtifact bool
	TraceDir             string
}

// DefaultConfig returns the engine configuration used when the CLI/server
// does not override it: clean-run artifacts on, trace files under the
// default workflow trace directory.
func DefaultConfig() Config {
	return Config{EmitCleanRunArtifact: true, TraceDir: "data/logs/current/workflow"}
}

// Workflow drives a single mission's task groups to completion using the
// given strategy and dispatcher.
type Workflow struct {
	store      *store.Store
	dispatcher Dispatcher
	chain      *audit.Chain
	evidence   *evidence.Emitter
	signals    *signals.Service
	strategy   GroupStrategy
	cfg        Config
}

// NewWorkflow constructs a Workflow. chain, evidenceEmitter, and
// signalService may be nil in tests that do not exercise audit/evidence/
// signal side effects.
func NewWorkflow(st *store.Store, dispatcher Dispatcher, strategy GroupStrategy, cfg Config, chain *audit.Chain, evidenceEmitter *evidence.Emitter, signalService *signals.Service) *Workflow {
	if cfg.TraceDir == "" {
		cfg.TraceDir = "data/logs/current/workflow"
	}
	return &Workflow{
		store:      st,
		dispatcher: dispatcher,
		chain:      chain,
		evidence:   evidenceEmitter,
		signals:    signalService,
		strategy:   strategy,
		cfg:        cfg,
	}
}

// Run executes missionID's task groups in order and returns the mission's
// final status ("completed" or "failed") along with the id of the
// WorkflowRun record it created.
func (w *Workflow) Run(ctx context.Context, missionID uuid.UUID) (string, uuid.UUID, error) {
	mission, err := w.store.MissionByID(ctx, missionID)
	if err != nil {
		return "", uuid.Nil, ErrMissionNotFound
	}
	if mission.RunMode != "" && mission.RunMode != store.RunModeSequential {
		return "", uuid.Nil, ErrUnsupportedRunMode
	}

	groups, err := w.store.TaskGroupsByMission(ctx, missionID)
	if err != nil {
		return "", uuid.Nil, err
	}
	if len(groups) == 0 {
		return "", uuid.Nil, ErrNoTaskGroups
	}

	if err := w.store.UpdateMissionStatus(ctx, missionID, store.MissionRunning); err != nil {
		return "", uuid.Nil, err
	}

	runID := uuid.New()
	traceURI := filepathJoinTraceURI(w.cfg.TraceDir, runID)
	run, err := w.store.CreateWorkflowRun(ctx, &store.WorkflowRun{
		RunID:     runID,
		MissionID: missionID,
		Mode:      store.RunModeSequential,
		Status:    store.RunStatusRunning,
		TraceURI:  traceURI,
	})
	if err != nil {
		return "", uuid.Nil, err
	}
	runID = run.RunID

	trace, err := newTraceWriter(w.cfg.TraceDir, runID.String())
	if err != nil {
		return "", runID, err
	}
	defer trace.close()

	trace.emit("workflow_engine_run_started", map[string]any{
		"mission_id": missionID.String(),
		"mode":       string(store.RunModeSequential),
		"run_id":     runID.String(),
	})
	w.auditAppend("workflow_engine_run_started", missionID, runID)

	finalStatus, runErr := w.runGroups(ctx, mission, runID, groups, trace)

	endedAt := time.Now().UTC()
	runStatus := store.RunStatusCompleted
	if runErr != nil {
		runStatus = store.RunStatusFailed
	}
	_ = w.store.FinishWorkflowRun(ctx, runID, runStatus, endedAt)

	if runErr != nil {
		trace.emit("workflow_engine_run_failed", map[string]any{"error": runErr.Error()})
	}
	trace.emit("workflow_engine_run_completed", map[string]any{"status": finalStatus})
	w.auditAppend("workflow_engine_run_completed", missionID, runID)
	metrics.WorkflowRunsTotal.WithLabelValues(finalStatus).Inc()

	return finalStatus, runID, nil
}

func (w *Workflow) runGroups(ctx context.Context, mission *store.Mission, runID uuid.UUID, groups []store.TaskGroup, trace *traceWriter) (string, error) {
	var lastCompletedTaskID *uuid.UUID
	var lastSummary string

	for i := range groups {
		group := &groups[i]
		if err := w.store.UpdateTaskGroupStatus(ctx, group.ID, store.MissionRunning); err != nil {
			return w.fail(ctx, mission.ID, err)
		}

		tasks, err := w.store.TasksByGroup(ctx, group.ID)
		if err != nil {
			return w.fail(ctx, mission.ID, err)
		}

		res := w.executeGroup(ctx, mission.ID, runID, group, tasks, trace)
		if res.Status == GroupFailed {
			healed, healErr := w.handleGroupFailure(ctx, mission, runID, group, res, trace)
			if !healed {
				return w.fail(ctx, mission.ID, healErr)
			}
		}

		if err := w.store.UpdateTaskGroupStatus(ctx, group.ID, store.MissionCompleted); err != nil {
			return w.fail(ctx, mission.ID, err)
		}

		// A mission marked failed out-of-band stops the loop and keeps its
		// failed status; it is not moved on to completed.
		refreshed, err := w.store.MissionByID(ctx, mission.ID)
		if err == nil && refreshed.Status == store.MissionFailed {
			return string(store.MissionFailed), nil
		}

		if len(tasks) > 0 {
			last := tasks[len(tasks)-1]
			lastCompletedTaskID = &last.ID
			lastSummary = last.Title
		}
	}

	if err := w.store.UpdateMissionStatus(ctx, mission.ID, store.MissionCompleted); err != nil {
		return w.fail(ctx, mission.ID, err)
	}

	if w.cfg.EmitCleanRunArtifact && w.store != nil {
		summary := lastSummary
		if summary == "" {
			summary = "mission completed"
		}
		_ = emitSelfHealArtifact(ctx, w.store, mission.ID, runID, lastCompletedTaskID,
			"self_heal_artifact", summary, true, store.JSONMap{})
	}

	return string(store.MissionCompleted), nil
}

func (w *Workflow) fail(ctx context.Context, missionID uuid.UUID, err error) (string, error) {
	_ = w.store.UpdateMissionStatus(ctx, missionID, store.MissionFailed)
	return string(store.MissionFailed), err
}

// executeGroup runs every task in a group in order, stopping at the first
// failure and returning an explicit groupResult rather than an error.
func (w *Workflow) executeGroup(ctx context.Context, missionID, runID uuid.UUID, group *store.TaskGroup, tasks []store.Task, trace *traceWriter) groupResult {
	for i := range tasks {
		task := &tasks[i]
		if err := w.executeTask(ctx, missionID, runID, task, trace); err != nil {
			return groupResult{Status: GroupFailed, FailedTask: task, Err: err}
		}
	}
	return groupResult{Status: GroupOK}
}

// executeTask transitions a task pending -> running -> {completed|failed},
// dispatching work via w.dispatcher.
func (w *Workflow) executeTask(ctx context.Context, missionID, runID uuid.UUID, task *store.Task, trace *traceWriter) error {
	task.Status = store.TaskRunning
	if task.Input == nil {
		task.Input = store.JSONMap{}
	}
	if err := w.store.UpdateTask(ctx, task); err != nil {
		return err
	}

	result := w.dispatcher.Dispatch(ctx, task, missionID, runID)

	if result.Err != nil {
		errMsg := result.Err.Error()
		task.Status = store.TaskFailed
		task.Error = &errMsg
	} else {
		task.Status = store.TaskCompleted
		task.Output = result.Output
	}
	if err := w.store.UpdateTask(ctx, task); err != nil {
		return err
	}

	trace.emit("task_execute_completed", map[string]any{
		"task_id": task.ID.String(),
		"status":  string(task.Status),
		"output":  task.Output,
		"run_id":  runID.String(),
	})

	if task.Status == store.TaskFailed {
		return &taskExecutionError{taskID: task.ID.String(), err: result.Err}
	}
	return nil
}

// handleGroupFailure applies the configured strategy to a failed group.
// Returns (true, nil) if the failure was healed and the group may be
// marked completed; (false, err) otherwise.
func (w *Workflow) handleGroupFailure(ctx context.Context, mission *store.Mission, runID uuid.UUID, group *store.TaskGroup, res groupResult, trace *traceWriter) (bool, error) {
	if w.strategy != StrategySelfHeal {
		return false, res.Err
	}
	return w.selfHeal(ctx, mission, runID, group, res, trace)
}

// selfHeal implements OQ2: if no failed task can be identified at all
// (res.FailedTask == nil), this is itself treated as an auditable failure
// — emit a self_heal_failure artifact with task_id=nil and re-raise.
func (w *Workflow) selfHeal(ctx context.Context, mission *store.Mission, runID uuid.UUID, group *store.TaskGroup, res groupResult, trace *traceWriter) (bool, error) {
	missionID := mission.ID
	failed, err := w.store.FirstFailedTask(ctx, group.ID)
	if err != nil {
		return false, err
	}
	if failed == nil {
		_ = emitSelfHealArtifact(ctx, w.store, missionID, runID, nil,
			"self_heal_failure", "no failed task could be identified for recovery", false,
			store.JSONMap{"reason": "no_failed_task_found"})
		return false, res.Err
	}

	trace.emit("workflow_self_heal_attempt", map[string]any{"task_id": failed.ID.String(), "group_id": group.ID.String()})
	if w.evidence != nil {
		w.evidence.Emit(evidenceRecord("workflow_self_heal_attempt", map[string]any{"task_id": failed.ID.String()}))
	}

	recovery := &store.Task{
		GroupID:   group.ID,
		MissionID: &missionID,
		AgentID:   failed.AgentID,
		Title:     "Recovery: " + failed.Title,
		Status:    store.TaskPending,
		Input: store.JSONMap{
			"error":          derefOrEmpty(failed.Error),
			"original_input": failed.Input,
		},
	}
	created, err := w.store.CreateTask(ctx, recovery)
	if err != nil {
		return false, err
	}

	recoveryErr := w.executeTask(ctx, missionID, runID, created, trace)
	if recoveryErr == nil {
		summary := "Recovered after " + failed.Title + " -> " + derefOrEmpty(failed.Error)
		_ = emitSelfHealArtifact(ctx, w.store, missionID, runID, &created.ID,
			"self_heal_artifact", summary, true, store.JSONMap{})
		trace.emit("workflow_self_heal_success", map[string]any{"task_id": created.ID.String()})
		metrics.SelfHealAttemptsTotal.WithLabelValues("success").Inc()
		if w.evidence != nil {
			w.evidence.Emit(evidenceRecord("workflow_self_heal_success", map[string]any{"task_id": created.ID.String()}))
		}
		return true, nil
	}

	metrics.SelfHealAttemptsTotal.WithLabelValues("failure").Inc()
	summary := "Recovery failed for " + failed.Title
	_ = emitSelfHealArtifact(ctx, w.store, missionID, runID, &created.ID,
		"self_heal_failure", summary, false, store.JSONMap{"original_error": derefOrEmpty(failed.Error)})
	if w.signals != nil {
		missionStr := missionID.String()
		_, _ = w.signals.Create(ctx, mission.ProjectID, &missionStr, "self_heal_failed", store.SeverityWarning,
			"self-heal recovery failed for task "+failed.ID.String())
	}
	return false, res.Err
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func evidenceRecord(event string, meta map[string]any) evidence.Record {
	return evidence.Record{Event: event, Status: "ok", Note: "", Metrics: meta}
}

func (w *Workflow) auditAppend(event string, missionID, runID uuid.UUID) {
	if w.chain == nil {
		return
	}
	_, _ = w.chain.Append(audit.Record{
		Actor: "workflow_engine",
		Event: event,
		Metadata: map[string]any{
			"mission_id": missionID.String(),
			"run_id":     runID.String(),
		},
	})
}
