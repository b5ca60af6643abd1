package engine

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/agentfleet/missionhub/pkg/signals"
	"github.com/agentfleet/missionhub/pkg/store"
)

func newMockEngineStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := sqlx.NewDb(mockDB, "sqlmock")
	return store.NewFromDB(db), mock
}

func missionRow(id uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "project_id", "title", "status", "run_mode", "context", "created_at", "updated_at"}).
		AddRow(id, int64(1), "Demo Mission", "pending", "sequential", []byte("{}"), time.Now(), time.Now())
}

func groupRow(id, missionID uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "mission_id", "title", "kind", "order_index", "status", "created_at"}).
		AddRow(id, missionID, "Group 0", "sequential", 0, "pending", time.Now())
}

func taskRows(groupID uuid.UUID, tasks []store.Task) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "group_id", "mission_id", "agent_id", "title", "status", "order_index", "input", "output", "error", "created_at", "updated_at"})
	for _, t := range tasks {
		rows.AddRow(t.ID, groupID, nil, nil, t.Title, string(t.Status), t.Order, []byte("{}"), []byte("{}"), nil, time.Now(), time.Now())
	}
	return rows
}

func runRow(runID, missionID uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"run_id", "mission_id", "mode", "status", "started_at", "ended_at", "trace_uri"}).
		AddRow(runID, missionID, "sequential", "running", time.Now(), nil, "trace.jsonl")
}

func artifactRow(missionID uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "mission_id", "task_id", "type", "scope", "path", "version", "sha256", "content_meta", "tags", "created_at"}).
		AddRow(uuid.New(), missionID, nil, "self_heal_artifact", "mission", "self_heal/x", "v1", "abc", []byte("{}"), []byte("[]"), time.Now())
}

func knowledgeRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "source_artifact_id", "version", "scope", "summary", "tags", "reusable", "created_at"}).
		AddRow(uuid.New(), uuid.New(), "v1", "mission", "summary", []byte("[]"), true, time.Now())
}

func TestRunSequentialHappyPath(t *testing.T) {
	st, mock := newMockEngineStore(t)
	missionID := uuid.New()
	groupID := uuid.New()
	t1 := store.Task{ID: uuid.New(), Title: "T1", Status: store.TaskPending, Order: 0}
	t2 := store.Task{ID: uuid.New(), Title: "T2", Status: store.TaskPending, Order: 1}

	mock.ExpectQuery("FROM missions").WillReturnRows(missionRow(missionID))
	mock.ExpectQuery("FROM task_groups").WillReturnRows(groupRow(groupID, missionID))
	mock.ExpectExec("UPDATE missions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO workflow_runs").WillReturnRows(runRow(uuid.New(), missionID))
	mock.ExpectExec("UPDATE task_groups").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM tasks WHERE group_id").WillReturnRows(taskRows(groupID, []store.Task{t1, t2}))

	// executeTask(t1): running then completed
	mock.ExpectExec("UPDATE tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	// executeTask(t2): running then completed
	mock.ExpectExec("UPDATE tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tasks").WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec("UPDATE task_groups").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM missions").WillReturnRows(missionRow(missionID))
	mock.ExpectExec("UPDATE missions").WillReturnResult(sqlmock.NewResult(0, 1))

	// clean-run artifact emission
	mock.ExpectQuery("INSERT INTO artifacts").WillReturnRows(artifactRow(missionID))
	mock.ExpectQuery("INSERT INTO knowledge").WillReturnRows(knowledgeRow())

	mock.ExpectExec("UPDATE workflow_runs").WillReturnResult(sqlmock.NewResult(0, 1))

	wf := NewWorkflow(st, SimulatedDispatcher{}, StrategyPlain, DefaultConfig(), nil, nil, nil)
	wf.cfg.TraceDir = t.TempDir()

	status, _, err := wf.Run(context.Background(), missionID)
	require.NoError(t, err)
	require.Equal(t, "completed", status)
}

type failOnceDispatcher struct {
	calls int
}

func (d *failOnceDispatcher) Dispatch(_ context.Context, task *store.Task, _ uuid.UUID, _ uuid.UUID) TaskResult {
	d.calls++
	if d.calls == 1 {
		return TaskResult{Err: errBoom}
	}
	return TaskResult{Output: store.JSONMap{"result": "simulated_success"}}
}

var errBoom = dispatchTestError("boom")

type dispatchTestError string

func (e dispatchTestError) Error() string { return string(e) }

func TestRunSelfHealSuccess(t *testing.T) {
	st, mock := newMockEngineStore(t)
	missionID := uuid.New()
	groupID := uuid.New()
	failedTaskID := uuid.New()
	t1 := store.Task{ID: failedTaskID, Title: "T1", Status: store.TaskPending, Order: 0}

	mock.ExpectQuery("FROM missions").WillReturnRows(missionRow(missionID))
	mock.ExpectQuery("FROM task_groups").WillReturnRows(groupRow(groupID, missionID))
	mock.ExpectExec("UPDATE missions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO workflow_runs").WillReturnRows(runRow(uuid.New(), missionID))
	mock.ExpectExec("UPDATE task_groups").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM tasks WHERE group_id").WillReturnRows(taskRows(groupID, []store.Task{t1}))

	// executeTask(t1) fails
	mock.ExpectExec("UPDATE tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tasks").WillReturnResult(sqlmock.NewResult(0, 1))

	// selfHeal: find first failed task
	failedRow := sqlmock.NewRows([]string{"id", "group_id", "mission_id", "agent_id", "title", "status", "order_index", "input", "output", "error", "created_at", "updated_at"}).
		AddRow(failedTaskID, groupID, nil, nil, "T1", "failed", 0, []byte("{}"), []byte("{}"), "boom", time.Now(), time.Now())
	mock.ExpectQuery("FROM tasks WHERE group_id (.+) AND status").WillReturnRows(failedRow)

	// create recovery task
	recoveryID := uuid.New()
	recoveryRow := sqlmock.NewRows([]string{"id", "group_id", "mission_id", "agent_id", "title", "status", "order_index", "input", "output", "error", "created_at", "updated_at"}).
		AddRow(recoveryID, groupID, missionID, nil, "Recovery: T1", "pending", 0, []byte("{}"), []byte("{}"), nil, time.Now(), time.Now())
	mock.ExpectQuery("INSERT INTO tasks").WillReturnRows(recoveryRow)

	// executeTask(recovery) succeeds
	mock.ExpectExec("UPDATE tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tasks").WillReturnResult(sqlmock.NewResult(0, 1))

	// self_heal_artifact success
	mock.ExpectQuery("INSERT INTO artifacts").WillReturnRows(artifactRow(missionID))
	mock.ExpectQuery("INSERT INTO knowledge").WillReturnRows(knowledgeRow())

	mock.ExpectExec("UPDATE task_groups").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM missions").WillReturnRows(missionRow(missionID))
	mock.ExpectExec("UPDATE missions").WillReturnResult(sqlmock.NewResult(0, 1))

	// clean-run artifact
	mock.ExpectQuery("INSERT INTO artifacts").WillReturnRows(artifactRow(missionID))
	mock.ExpectQuery("INSERT INTO knowledge").WillReturnRows(knowledgeRow())

	mock.ExpectExec("UPDATE workflow_runs").WillReturnResult(sqlmock.NewResult(0, 1))

	wf := NewWorkflow(st, &failOnceDispatcher{}, StrategySelfHeal, DefaultConfig(), nil, nil, nil)
	wf.cfg.TraceDir = t.TempDir()

	status, _, err := wf.Run(context.Background(), missionID)
	require.NoError(t, err)
	require.Equal(t, "completed", status)
}

type alwaysFailDispatcher struct{}

func (alwaysFailDispatcher) Dispatch(_ context.Context, _ *store.Task, _ uuid.UUID, _ uuid.UUID) TaskResult {
	return TaskResult{Err: errBoom}
}

func TestRunSelfHealFailure(t *testing.T) {
	st, mock := newMockEngineStore(t)
	missionID := uuid.New()
	groupID := uuid.New()
	failedTaskID := uuid.New()
	t1 := store.Task{ID: failedTaskID, Title: "T1", Status: store.TaskPending, Order: 0}

	mock.ExpectQuery("FROM missions").WillReturnRows(missionRow(missionID))
	mock.ExpectQuery("FROM task_groups").WillReturnRows(groupRow(groupID, missionID))
	mock.ExpectExec("UPDATE missions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO workflow_runs").WillReturnRows(runRow(uuid.New(), missionID))
	mock.ExpectExec("UPDATE task_groups").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM tasks WHERE group_id").WillReturnRows(taskRows(groupID, []store.Task{t1}))

	// executeTask(t1) fails
	mock.ExpectExec("UPDATE tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tasks").WillReturnResult(sqlmock.NewResult(0, 1))

	// selfHeal: find first failed task
	failedRow := sqlmock.NewRows([]string{"id", "group_id", "mission_id", "agent_id", "title", "status", "order_index", "input", "output", "error", "created_at", "updated_at"}).
		AddRow(failedTaskID, groupID, nil, nil, "T1", "failed", 0, []byte("{}"), []byte("{}"), "boom", time.Now(), time.Now())
	mock.ExpectQuery("FROM tasks WHERE group_id (.+) AND status").WillReturnRows(failedRow)

	// create recovery task
	recoveryID := uuid.New()
	recoveryRow := sqlmock.NewRows([]string{"id", "group_id", "mission_id", "agent_id", "title", "status", "order_index", "input", "output", "error", "created_at", "updated_at"}).
		AddRow(recoveryID, groupID, missionID, nil, "Recovery: T1", "pending", 0, []byte("{}"), []byte("{}"), nil, time.Now(), time.Now())
	mock.ExpectQuery("INSERT INTO tasks").WillReturnRows(recoveryRow)

	// executeTask(recovery) also fails
	mock.ExpectExec("UPDATE tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE tasks").WillReturnResult(sqlmock.NewResult(0, 1))

	// self_heal_failure artifact + knowledge
	mock.ExpectQuery("INSERT INTO artifacts").WillReturnRows(artifactRow(missionID))
	mock.ExpectQuery("INSERT INTO knowledge").WillReturnRows(knowledgeRow())

	// self_heal_failed signal
	signalRow := sqlmock.NewRows([]string{"id", "project_id", "mission_id", "type", "severity", "status", "message", "created_at"}).
		AddRow(int64(1), int64(1), missionID, "self_heal_failed", "warning", "pending", "self-heal recovery failed", time.Now())
	mock.ExpectQuery("INSERT INTO signals").WillReturnRows(signalRow)

	// mission marked failed, workflow run finished failed
	mock.ExpectExec("UPDATE missions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE workflow_runs").WillReturnResult(sqlmock.NewResult(0, 1))

	wf := NewWorkflow(st, alwaysFailDispatcher{}, StrategySelfHeal, DefaultConfig(), nil, nil, signals.New(st))
	wf.cfg.TraceDir = t.TempDir()

	status, _, err := wf.Run(context.Background(), missionID)
	require.NoError(t, err)
	require.Equal(t, "failed", status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunNoTaskGroupsRejected(t *testing.T) {
	st, mock := newMockEngineStore(t)
	missionID := uuid.New()

	mock.ExpectQuery("FROM missions").WillReturnRows(missionRow(missionID))
	mock.ExpectQuery("FROM task_groups").WillReturnRows(sqlmock.NewRows(
		[]string{"id", "mission_id", "title", "kind", "order_index", "status", "created_at"}))

	wf := NewWorkflow(st, SimulatedDispatcher{}, StrategyPlain, DefaultConfig(), nil, nil, nil)
	_, _, err := wf.Run(context.Background(), missionID)
	require.ErrorIs(t, err, ErrNoTaskGroups)
}

func TestSyntheticSHAIsContentAddressed(t *testing.T) {
	runID := uuid.New()
	taskID := uuid.New()
	a := syntheticSHA(runID, &taskID, "summary")
	b := syntheticSHA(runID, &taskID, "summary")
	c := syntheticSHA(runID, &taskID, "different summary")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}
