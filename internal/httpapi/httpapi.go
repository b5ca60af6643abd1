// Package httpapi exposes the minimal REST surface needed to make the
// orchestrator binary runnable end to end: health checks, mission CRUD,
// artifact listing, a run trigger, and the signals pipeline. It enforces
// no domain invariants of its own — every handler is a thin pass-through
// to pkg/store, pkg/workflow/engine, or pkg/signals, translating
// internal/errors.AppError into the conventional HTTP status codes from
// the error taxonomy.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
	"github.com/agentfleet/missionhub/pkg/metrics"
	"github.com/agentfleet/missionhub/pkg/signals"
	"github.com/agentfleet/missionhub/pkg/store"
	"github.com/agentfleet/missionhub/pkg/workflow/engine"
)

var (
	metricsOnce     sync.Once
	metricsRegistry = prometheus.NewRegistry()
)

func metricsHandler() http.Handler {
	metricsOnce.Do(func() { metrics.MustRegister(metricsRegistry) })
	return promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{})
}

// Server wires pkg/store, the workflow engine, and the signals service to
// a chi router.
type Server struct {
	Store   *store.Store
	Engine  *engine.Workflow
	Signals *signals.Service
}

// Router builds the chi router described by the orchestrator's REST
// surface (§6): health checks, mission read/run, artifact listing, and
// the signals pipeline including the dangerous-command import endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/health/liveness", s.handleHealth)
	r.Handle("/metrics", metricsHandler())

	r.Route("/api/missions", func(r chi.Router) {
		r.Post("/", s.handleCreateMission)
		r.Get("/", s.handleListMissions)
	})
	r.Get("/missions/{id}/artifacts", s.handleMissionArtifacts)
	r.Post("/missions/{id}/artifacts", s.handleCreateArtifact)
	r.Post("/missions/{id}/run", s.handleMissionRun)

	r.Route("/api/signals", func(r chi.Router) {
		r.Get("/", s.handleListSignals)
		r.Post("/", s.handleCreateSignal)
		r.Patch("/{id}", s.handleTransitionSignal)
	})
	r.Post("/api/signals/import/dangerous", s.handleImportDangerous)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createMissionRequest struct {
	ProjectSlug string  `json:"project_slug"`
	Title       string  `json:"title"`
	Summary     *string `json:"summary,omitempty"`
	Status      string  `json:"status,omitempty"`
}

func (s *Server) handleCreateMission(w http.ResponseWriter, r *http.Request) {
	var req createMissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewValidationError("malformed request body"))
		return
	}
	if req.ProjectSlug == "" {
		writeError(w, apperrors.NewValidationError("project_slug is required"))
		return
	}
	project, err := s.Store.ProjectBySlug(r.Context(), req.ProjectSlug)
	if err != nil {
		writeError(w, err)
		return
	}
	var ctxDoc store.JSONMap
	if req.Summary != nil {
		ctxDoc = store.JSONMap{"summary": *req.Summary}
	}
	mission := &store.Mission{
		ProjectID: project.ID,
		Title:     req.Title,
		Context:   ctxDoc,
	}
	if req.Status != "" {
		mission.Status = store.MissionStatus(req.Status)
	}
	created, err := s.Store.CreateMission(r.Context(), mission)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// missionSummary is the §6 list shape: counts instead of the full task
// group / artifact collections, so a caller doesn't have to fetch those
// separately just to render a mission list.
type missionSummary struct {
	ID             uuid.UUID           `json:"id"`
	Title          string              `json:"title"`
	Status         store.MissionStatus `json:"status"`
	RunMode        store.RunMode       `json:"run_mode"`
	TaskGroupCount int                 `json:"task_group_count"`
	ArtifactCount  int                 `json:"artifact_count"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func (s *Server) handleListMissions(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseInt64Query(r, "project_id")
	if err != nil {
		writeError(w, err)
		return
	}
	missions, err := s.Store.ListMissionsByProject(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	summaries := make([]missionSummary, 0, len(missions))
	for _, m := range missions {
		groups, err := s.Store.TaskGroupsByMission(r.Context(), m.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		artifacts, err := s.Store.ArtifactsByMission(r.Context(), m.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		summaries = append(summaries, missionSummary{
			ID:             m.ID,
			Title:          m.Title,
			Status:         m.Status,
			RunMode:        m.RunMode,
			TaskGroupCount: len(groups),
			ArtifactCount:  len(artifacts),
			UpdatedAt:      m.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleMissionArtifacts(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	artifacts, err := s.Store.ArtifactsByMission(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifacts)
}

type createArtifactRequest struct {
	Type             string          `json:"type"`
	Path             string          `json:"path"`
	Version          string          `json:"version,omitempty"`
	SHA256           string          `json:"sha256"`
	Scope            string          `json:"scope,omitempty"`
	Tags             store.StringSet `json:"tags,omitempty"`
	ContentMeta      store.JSONMap   `json:"content_meta,omitempty"`
	KnowledgeSummary string          `json:"knowledge_summary,omitempty"`
	KnowledgeTags    store.StringSet `json:"knowledge_tags,omitempty"`
}

func (s *Server) handleCreateArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req createArtifactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewValidationError("malformed request body"))
		return
	}
	artifact, err := s.Store.CreateArtifact(r.Context(), &store.Artifact{
		MissionID:   id,
		Type:        req.Type,
		Scope:       store.ArtifactScope(req.Scope),
		Path:        req.Path,
		Version:     req.Version,
		SHA256:      req.SHA256,
		ContentMeta: req.ContentMeta,
		Tags:        req.Tags,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if req.KnowledgeSummary != "" {
		summary := req.KnowledgeSummary
		if _, err := s.Store.CreateKnowledge(r.Context(), &store.Knowledge{
			SourceArtifactID: artifact.ID,
			Scope:            artifact.Scope,
			Summary:          &summary,
			Tags:             req.KnowledgeTags,
		}); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, artifact)
}

// handleMissionRun triggers a mission run and returns the §6 shape
// {mission_id, status, run_id}. The engine's self-heal strategy is fixed
// per-process at server construction (see cli.runServe); an
// allow_self_heal query parameter is accepted but not read, so it does not
// switch strategy per request — see DESIGN.md.
func (s *Server) handleMissionRun(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	status, runID, err := s.Engine.Run(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"mission_id": id,
		"status":     status,
		"run_id":     runID,
	})
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	var projectID *int64
	if raw := r.URL.Query().Get("project_id"); raw != "" {
		id, err := parseInt64Query(r, "project_id")
		if err != nil {
			writeError(w, err)
			return
		}
		projectID = &id
	}
	list, err := s.Signals.List(r.Context(), projectID, r.URL.Query().Get("status"), r.URL.Query().Get("type"), 100)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type createSignalRequest struct {
	ProjectID int64  `json:"project_id"`
	MissionID string `json:"mission_id,omitempty"`
	Type      string `json:"type"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
}

func (s *Server) handleCreateSignal(w http.ResponseWriter, r *http.Request) {
	var req createSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewValidationError("malformed request body"))
		return
	}
	var missionID *string
	if req.MissionID != "" {
		missionID = &req.MissionID
	}
	sig, err := s.Signals.Create(r.Context(), req.ProjectID, missionID, req.Type, store.SignalSeverity(req.Severity), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sig)
}

type transitionSignalRequest struct {
	NewStatus string `json:"new_status"`
}

func (s *Server) handleTransitionSignal(w http.ResponseWriter, r *http.Request) {
	id, err := parseInt64Param(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req transitionSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewValidationError("malformed request body"))
		return
	}
	sig, err := s.Signals.Transition(r.Context(), id, store.SignalStatus(req.NewStatus))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

type importDangerousRequest struct {
	LogPath   string `json:"log_path"`
	ProjectID int64  `json:"project_id"`
	MaxRows   int    `json:"max_rows"`
}

func (s *Server) handleImportDangerous(w http.ResponseWriter, r *http.Request) {
	var req importDangerousRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewValidationError("malformed request body"))
		return
	}
	count, err := s.Signals.ImportDangerous(r.Context(), req.LogPath, req.ProjectID, req.MaxRows)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": count})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.GetStatusCode(err), map[string]string{"error": apperrors.SafeErrorMessage(err)})
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.UUID{}, apperrors.NewValidationError("malformed " + name)
	}
	return id, nil
}

func parseInt64Param(r *http.Request, name string) (int64, error) {
	return parseInt64String(chi.URLParam(r, name), name)
}

func parseInt64Query(r *http.Request, name string) (int64, error) {
	return parseInt64String(r.URL.Query().Get(name), name)
}

func parseInt64String(raw, name string) (int64, error) {
	var n int64
	if raw == "" {
		return 0, apperrors.NewValidationError("missing " + name)
	}
	if _, err := fmt.Sscan(raw, &n); err != nil {
		return 0, apperrors.NewValidationError("malformed " + name)
	}
	return n, nil
}
