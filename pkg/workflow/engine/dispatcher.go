package engine

import (
	"context"
	"time"

	"github.com/agentfleet/missionhub/pkg/store"
	"github.com/agentfleet/missionhub/pkg/supervisor"
	"github.com/google/uuid"
)

// TaskResult is the outcome a Dispatcher produces for one task.
type TaskResult struct {
	Output store.JSONMap
	Err    error
}

// Dispatcher executes a single task's work and reports its result. The
// sequential/self-heal executors are agnostic to how dispatch actually
// happens: a SimulatedDispatcher lets tests and the MVP run without any
// real agent CLI, while a SupervisorDispatcher invokes the process
// supervisor for the task's configured agent.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *store.Task, missionID uuid.UUID, runID uuid.UUID) TaskResult
}

// SimulatedDispatcher assigns a deterministic "simulated_success" output,
// matching the MVP contract in the absence of a real agent CLI.
type SimulatedDispatcher struct{}

func (SimulatedDispatcher) Dispatch(_ context.Context, _ *store.Task, _ uuid.UUID, _ uuid.UUID) TaskResult {
	return TaskResult{
		Output: store.JSONMap{
			"result":    "simulated_success",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// AgentResolver looks up the command line to run for a task's agent.
type AgentResolver interface {
	CommandForAgent(ctx context.Context, agentID int64) (command []string, workdir string, err error)
}

// SupervisorDispatcher dispatches a task to its configured agent via
// pkg/supervisor.SpawnBatch, translating the batch result into the task's
// output/error fields.
type SupervisorDispatcher struct {
	Resolver  AgentResolver
	TraceDir  string
	Timeout   time.Duration
}

func (d SupervisorDispatcher) Dispatch(ctx context.Context, task *store.Task, missionID uuid.UUID, runID uuid.UUID) TaskResult {
	if task.AgentID == nil {
		return TaskResult{Err: errNoAgentAssigned}
	}
	command, workdir, err := d.Resolver.CommandForAgent(ctx, *task.AgentID)
	if err != nil {
		return TaskResult{Err: err}
	}
	result, err := supervisor.SpawnBatch(ctx, supervisor.BatchRequest{
		Command:   command,
		Workdir:   workdir,
		MissionID: missionID,
		RunID:     runID,
		TraceDir:  d.TraceDir,
		Timeout:   d.Timeout,
	})
	if err != nil {
		return TaskResult{Err: err}
	}
	return TaskResult{Output: store.JSONMap{
		"result":      "dispatched",
		"return_code": result.ReturnCode,
		"stdout":      result.Stdout,
		"stderr":      result.Stderr,
		"trace_path":  result.TracePath,
	}}
}

var errNoAgentAssigned = taskDispatchError("task has no agent_id assigned")

type taskDispatchError string

func (e taskDispatchError) Error() string { return string(e) }
