package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/agentfleet/missionhub/pkg/signals"
	"github.com/agentfleet/missionhub/pkg/store"
	"github.com/agentfleet/missionhub/pkg/workflow/engine"
)

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := sqlx.NewDb(mockDB, "sqlmock")
	st := store.NewFromDB(db)
	return &Server{Store: st, Signals: signals.New(st)}, mock
}

func missionRow(id uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "project_id", "title", "status", "run_mode", "context", "created_at", "updated_at"}).
		AddRow(id, int64(1), "Demo Mission", "pending", "sequential", []byte("{}"), time.Now(), time.Now())
}

func groupRow(id, missionID uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "mission_id", "title", "kind", "order_index", "status", "created_at"}).
		AddRow(id, missionID, "Group 0", "sequential", 0, "pending", time.Now())
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

func TestMissionRunReturns202WithRunID(t *testing.T) {
	s, mock := newTestServer(t)
	missionID := uuid.New()
	groupID := uuid.New()

	mock.ExpectQuery("FROM missions").WillReturnRows(missionRow(missionID))
	mock.ExpectQuery("FROM task_groups").WillReturnRows(groupRow(groupID, missionID))
	mock.ExpectExec("UPDATE missions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO workflow_runs").WillReturnRows(runRow(uuid.New(), missionID))
	mock.ExpectExec("UPDATE task_groups").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM tasks WHERE group_id").WillReturnRows(
		sqlmock.NewRows([]string{"id", "group_id", "mission_id", "agent_id", "title", "status", "order_index", "input", "output", "error", "created_at", "updated_at"}))
	mock.ExpectExec("UPDATE task_groups").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM missions").WillReturnRows(missionRow(missionID))
	mock.ExpectExec("UPDATE missions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO artifacts").WillReturnRows(artifactRow(missionID))
	mock.ExpectQuery("INSERT INTO knowledge").WillReturnRows(knowledgeRow())
	mock.ExpectExec("UPDATE workflow_runs").WillReturnResult(sqlmock.NewResult(0, 1))

	cfg := engine.DefaultConfig()
	cfg.TraceDir = t.TempDir()
	s.Engine = engine.NewWorkflow(s.Store, engine.SimulatedDispatcher{}, engine.StrategyPlain, cfg, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/missions/"+missionID.String()+"/run", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "completed", body["status"])
	require.NotEmpty(t, body["run_id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthEndpointReturnsOK(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestListMissionsRequiresProjectID(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/missions", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMissionsDelegatesToStore(t *testing.T) {
	s, mock := newTestServer(t)
	missionID := uuid.New()
	rows := sqlmock.NewRows([]string{"id", "project_id", "title", "status", "run_mode", "context", "created_at", "updated_at"}).
		AddRow(missionID, int64(1), "Demo", "pending", "sequential", []byte("{}"), time.Now(), time.Now())
	mock.ExpectQuery("FROM missions WHERE project_id").WillReturnRows(rows)
	mock.ExpectQuery("FROM task_groups WHERE mission_id").WillReturnRows(
		sqlmock.NewRows([]string{"id", "mission_id", "title", "kind", "order_index", "status", "created_at"}))
	mock.ExpectQuery("FROM artifacts WHERE mission_id").WillReturnRows(
		sqlmock.NewRows([]string{"id", "mission_id", "task_id", "type", "scope", "path", "version", "sha256", "content_meta", "tags", "created_at"}))

	req := httptest.NewRequest(http.MethodGet, "/api/missions?project_id=1", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []missionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	require.Equal(t, 0, summaries[0].TaskGroupCount)
	require.Equal(t, 0, summaries[0].ArtifactCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMissionResolvesProjectBySlug(t *testing.T) {
	s, mock := newTestServer(t)
	missionID := uuid.New()
	projectRow := sqlmock.NewRows([]string{"id", "slug", "human_key", "created_at"}).
		AddRow(int64(7), "demo", "demo", time.Now())
	mock.ExpectQuery("FROM projects WHERE slug").WillReturnRows(projectRow)
	createdRow := sqlmock.NewRows([]string{"id", "project_id", "title", "status", "run_mode", "context", "created_at", "updated_at"}).
		AddRow(missionID, int64(7), "Demo mission", "pending", "sequential", []byte(`{"summary":"test"}`), time.Now(), time.Now())
	mock.ExpectQuery("INSERT INTO missions").WillReturnRows(createdRow)

	body := `{"project_slug":"demo","title":"Demo mission","summary":"test"}`
	req := httptest.NewRequest(http.MethodPost, "/api/missions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateArtifactAlsoCreatesKnowledgeWhenSummaryGiven(t *testing.T) {
	s, mock := newTestServer(t)
	missionID := uuid.New()
	artifactID := uuid.New()
	createdArtifactRow := sqlmock.NewRows([]string{"id", "mission_id", "task_id", "type", "scope", "path", "version", "sha256", "content_meta", "tags", "created_at"}).
		AddRow(artifactID, missionID, nil, "report", "mission", "out/report.json", "v1", "deadbeef", []byte("{}"), []byte("[]"), time.Now())
	mock.ExpectQuery("INSERT INTO artifacts").WillReturnRows(createdArtifactRow)
	createdKnowledgeRow := sqlmock.NewRows([]string{"id", "source_artifact_id", "version", "scope", "summary", "tags", "reusable", "created_at"}).
		AddRow(uuid.New(), artifactID, "v1", "mission", "a summary", []byte("[]"), true, time.Now())
	mock.ExpectQuery("INSERT INTO knowledge").WillReturnRows(createdKnowledgeRow)

	body := `{"type":"report","path":"out/report.json","sha256":"deadbeef","knowledge_summary":"a summary"}`
	req := httptest.NewRequest(http.MethodPost, "/missions/"+missionID.String()+"/artifacts", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMissionArtifactsRejectsMalformedID(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/missions/not-a-uuid/artifacts", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSignalDelegatesToSignalsService(t *testing.T) {
	s, mock := newTestServer(t)
	row := sqlmock.NewRows([]string{"id", "project_id", "mission_id", "type", "severity", "status", "message", "created_at"}).
		AddRow(int64(1), int64(1), nil, "dangerous_command", "warning", "pending", "rm -rf /", time.Now())
	mock.ExpectQuery("INSERT INTO signals").WillReturnRows(row)

	body := `{"project_id":1,"type":"dangerous_command","severity":"warning","message":"rm -rf /"}`
	req := httptest.NewRequest(http.MethodPost, "/api/signals", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
