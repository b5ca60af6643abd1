// Package store provides typed, context-scoped persistence for every
// entity in the mission orchestrator's data model, backed by PostgreSQL
// via sqlx and pgx/v5.
package store

import (
	"time"

	"github.com/google/uuid"
)

// MissionStatus enumerates the lifecycle states of a Mission.
type MissionStatus string

const (
	MissionPending   MissionStatus = "pending"
	MissionRunning   MissionStatus = "running"
	MissionCompleted MissionStatus = "completed"
	MissionFailed    MissionStatus = "failed"
)

// RunMode enumerates how a Mission's task groups are intended to execute.
type RunMode string

const (
	RunModeSequential RunMode = "sequential"
	RunModeParallel   RunMode = "parallel"
	RunModeLoop       RunMode = "loop"
)

// GroupKind enumerates how a TaskGroup's tasks are intended to execute.
type GroupKind string

const (
	GroupSequential GroupKind = "sequential"
	GroupParallel   GroupKind = "parallel"
	GroupLoop       GroupKind = "loop"
)

// TaskStatus enumerates the lifecycle states of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// WorkflowRunStatus enumerates the lifecycle states of a WorkflowRun.
type WorkflowRunStatus string

const (
	RunStatusRunning   WorkflowRunStatus = "running"
	RunStatusCompleted WorkflowRunStatus = "completed"
	RunStatusFailed    WorkflowRunStatus = "failed"
)

// SignalStatus enumerates the lifecycle states of a Signal.
type SignalStatus string

const (
	SignalPending      SignalStatus = "pending"
	SignalApproved     SignalStatus = "approved"
	SignalDenied       SignalStatus = "denied"
	SignalAcknowledged SignalStatus = "acknowledged"
)

// SignalSeverity enumerates the severity of a Signal.
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityError    SignalSeverity = "error"
	SeverityCritical SignalSeverity = "critical"
)

// ArtifactScope enumerates the visibility scope of an Artifact/Knowledge.
type ArtifactScope string

const (
	ScopeSession ArtifactScope = "session"
	ScopeUser    ArtifactScope = "user"
	ScopeProject ArtifactScope = "project"
	ScopeMission ArtifactScope = "mission"
)

// JSONMap is an opaque JSON document stored as JSONB, used for context,
// input, output, content_meta, and metadata fields that intentionally
// stay untyped at this boundary (agent payloads are not statically typed).
type JSONMap map[string]any

// StringSet is an opaque set of tags stored as a JSON array.
type StringSet []string

// Project is the ownership root for agents, missions, and signals.
type Project struct {
	ID        int64     `db:"id"`
	Slug      string    `db:"slug"`
	HumanKey  string    `db:"human_key"`
	CreatedAt time.Time `db:"created_at"`
}

// Agent identifies an executor role within a Project.
type Agent struct {
	ID            int64     `db:"id"`
	ProjectID     int64     `db:"project_id"`
	Name          string    `db:"name"`
	Program       string    `db:"program"`
	Model         string    `db:"model"`
	Skills        StringSet `db:"skills"`
	ContactPolicy string    `db:"contact_policy"`
	CreatedAt     time.Time `db:"created_at"`
}

// Mission is a root unit of work comprising ordered task groups.
type Mission struct {
	ID        uuid.UUID     `db:"id"`
	ProjectID int64         `db:"project_id"`
	Title     string        `db:"title"`
	Status    MissionStatus `db:"status"`
	RunMode   RunMode       `db:"run_mode"`
	Context   JSONMap       `db:"context"`
	CreatedAt time.Time     `db:"created_at"`
	UpdatedAt time.Time     `db:"updated_at"`
}

// TaskGroup is an ordered collection of tasks within a mission.
type TaskGroup struct {
	ID        uuid.UUID     `db:"id"`
	MissionID uuid.UUID     `db:"mission_id"`
	Title     string        `db:"title"`
	Kind      GroupKind     `db:"kind"`
	Order     int           `db:"order_index"`
	Status    MissionStatus `db:"status"`
	CreatedAt time.Time     `db:"created_at"`
}

// Task is a single unit of work dispatched to an agent.
type Task struct {
	ID        uuid.UUID  `db:"id"`
	GroupID   uuid.UUID  `db:"group_id"`
	MissionID *uuid.UUID `db:"mission_id"`
	AgentID   *int64     `db:"agent_id"`
	Title     string     `db:"title"`
	Status    TaskStatus `db:"status"`
	Order     int        `db:"order_index"`
	Input     JSONMap    `db:"input"`
	Output    JSONMap    `db:"output"`
	Error     *string    `db:"error"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// Artifact is an append-only record of a produced file or synthetic
// self-heal summary.
type Artifact struct {
	ID          uuid.UUID     `db:"id"`
	MissionID   uuid.UUID     `db:"mission_id"`
	TaskID      *uuid.UUID    `db:"task_id"`
	Type        string        `db:"type"`
	Scope       ArtifactScope `db:"scope"`
	Path        string        `db:"path"`
	Version     string        `db:"version"`
	SHA256      string        `db:"sha256"`
	ContentMeta JSONMap       `db:"content_meta"`
	Tags        StringSet     `db:"tags"`
	CreatedAt   time.Time     `db:"created_at"`
}

// Knowledge is a reusable fragment always derived from an Artifact.
type Knowledge struct {
	ID               uuid.UUID     `db:"id"`
	SourceArtifactID uuid.UUID     `db:"source_artifact_id"`
	Version          string        `db:"version"`
	Scope            ArtifactScope `db:"scope"`
	Summary          *string       `db:"summary"`
	Tags             StringSet     `db:"tags"`
	Reusable         bool          `db:"reusable"`
	CreatedAt        time.Time     `db:"created_at"`
}

// WorkflowRun is one execution attempt of a mission.
type WorkflowRun struct {
	RunID     uuid.UUID         `db:"run_id"`
	MissionID uuid.UUID         `db:"mission_id"`
	Mode      RunMode           `db:"mode"`
	Status    WorkflowRunStatus `db:"status"`
	StartedAt time.Time         `db:"started_at"`
	EndedAt   *time.Time        `db:"ended_at"`
	TraceURI  string            `db:"trace_uri"`
}

// Signal is a classified notable event awaiting review.
type Signal struct {
	ID        int64          `db:"id"`
	ProjectID int64          `db:"project_id"`
	MissionID *uuid.UUID     `db:"mission_id"`
	Type      string         `db:"type"`
	Severity  SignalSeverity `db:"severity"`
	Status    SignalStatus   `db:"status"`
	Message   string         `db:"message"`
	CreatedAt time.Time      `db:"created_at"`
}
