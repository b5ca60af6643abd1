package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/agentfleet/missionhub/internal/config"
	"github.com/agentfleet/missionhub/pkg/audit"
	"github.com/agentfleet/missionhub/pkg/evidence"
	"github.com/agentfleet/missionhub/pkg/messagebus"
	"github.com/agentfleet/missionhub/pkg/safeops"
	"github.com/agentfleet/missionhub/pkg/signals"
	"github.com/agentfleet/missionhub/pkg/store"
	"github.com/agentfleet/missionhub/pkg/supervisor"
)

var (
	runRoles            string
	runEngine           string
	runMission          string
	runTimeout          time.Duration
	runTraceDir         string
	runParallel         bool
	runMaxWorkers       int
	runWorkflowEndpoint string
	runChatMode         bool
	runMessageBusPath   string
	runRoleConfig       string
	runSignalsProjectID int64
	runSignalsBaseURL   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one or more agent roles against a mission",
	RunE:  runRunCmd,
}

func init() {
	runCmd.Flags().StringVar(&runRoles, "roles", "", "comma-separated role names")
	runCmd.Flags().StringVar(&runEngine, "engine", "", "engine name from config.engines")
	runCmd.Flags().StringVar(&runMission, "mission", "", "mission id associated with this run")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 300*time.Second, "per-role subprocess timeout")
	runCmd.Flags().StringVar(&runTraceDir, "trace-dir", "data/logs/current/audit/cli_runs", "directory for per-command trace logs")
	runCmd.Flags().BoolVar(&runParallel, "parallel", false, "run roles concurrently instead of sequentially")
	runCmd.Flags().IntVar(&runMaxWorkers, "max-workers", 0, "bound on concurrent roles (default: role count)")
	runCmd.Flags().StringVar(&runWorkflowEndpoint, "workflow-endpoint", "", "optional Workflow Engine HTTP endpoint to trigger on success")
	runCmd.Flags().BoolVar(&runChatMode, "chat-mode", false, "interactive single-role stream session")
	runCmd.Flags().StringVar(&runMessageBusPath, "message-bus-path", "data/message_bus", "base directory for per-role handoff files")
	runCmd.Flags().StringVar(&runRoleConfig, "role-config", "", "YAML file mapping engine names to command templates, overrides --config")
	runCmd.Flags().Int64Var(&runSignalsProjectID, "signals-project-id", 1, "project id used when filing dangerous-command signals")
	runCmd.Flags().StringVar(&runSignalsBaseURL, "signals-base-url", "", "unused placeholder for a future HTTP-backed signals client")
}

type rolePlan struct {
	Role    string   `json:"role"`
	Command []string `json:"command"`
	Workdir string   `json:"workdir,omitempty"`
}

type runPlan struct {
	RunID     string     `json:"run_id"`
	MissionID string     `json:"mission_id,omitempty"`
	Engine    string     `json:"engine"`
	Roles     []rolePlan `json:"roles"`
	ChatMode  bool       `json:"chat_mode"`
	Parallel  bool       `json:"parallel"`
}

type roleOutcome struct {
	Role       string `json:"role"`
	Status     string `json:"status"`
	ReturnCode int    `json:"return_code,omitempty"`
	Error      string `json:"error,omitempty"`
	TracePath  string `json:"trace_path,omitempty"`
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	roles := splitNonEmpty(runRoles)
	if len(roles) == 0 {
		return misuse("run: --roles must name at least one role")
	}
	if runChatMode && (runParallel || len(roles) != 1) {
		return misuse("run: --chat-mode requires exactly one role and forbids --parallel")
	}
	if runEngine == "" {
		return misuse("run: --engine is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return operationFailure(err)
	}
	engineDefs := cfg.Engines
	if runRoleConfig != "" {
		engineDefs, err = loadRoleConfig(runRoleConfig)
		if err != nil {
			return operationFailure(err)
		}
	}
	engineDef, ok := engineDefs[runEngine]
	if !ok || len(engineDef.Command) == 0 {
		return misuse("run: unknown or empty engine %q", runEngine)
	}

	runID := uuid.New()
	missionIDStr := runMission

	st, err := store.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		return operationFailure(err)
	}
	defer st.Close()
	signalSvc := signals.New(st)
	emitter := evidence.NewEmitter(cfg.Evidence.Path, logger)
	chain, err := audit.NewChain(cfg.Audit.Dir)
	if err != nil {
		return operationFailure(err)
	}

	plan := runPlan{RunID: runID.String(), MissionID: missionIDStr, Engine: runEngine, ChatMode: runChatMode, Parallel: runParallel}
	for _, role := range roles {
		plan.Roles = append(plan.Roles, rolePlan{
			Role:    role,
			Command: substituteRole(engineDef.Command, role),
			Workdir: engineDef.Workdir,
		})
	}

	runTraceRoot := filepath.Join(runTraceDir, runID.String())
	if err := writePlan(runTraceRoot, plan); err != nil {
		return operationFailure(err)
	}
	auditAppendRun(chain, "PLAN", runID, missionIDStr, map[string]any{"engine": runEngine, "roles": roles})

	consultSafeOps(cmd.Context(), signalSvc, missionIDStr, roles)

	var outcomes []roleOutcome
	var firstFailure error

	if runChatMode {
		configureStreamRegistryMirror(cfg)
		outcomes, firstFailure = runChat(cmd.Context(), roles[0], plan.Roles[0], runID, missionIDStr)
	} else if runParallel {
		outcomes, firstFailure = runRolesParallel(cmd.Context(), plan.Roles, runID, missionIDStr)
	} else {
		outcomes, firstFailure = runRolesSequential(cmd.Context(), plan.Roles, runID, missionIDStr)
	}

	status := "ok"
	if firstFailure != nil {
		status = "failed"
	}
	if err := writeReports(runTraceRoot, status, outcomes); err != nil {
		logger.WithError(err).Warn("failed writing run reports")
	}
	emitter.Emit(evidence.Record{
		Event:  "cli_run",
		Status: status,
		Note:   fmt.Sprintf("run_id=%s roles=%s", runID, strings.Join(roles, ",")),
	})

	// §4.9: both the failure and success paths emit TEST/PATCH/APPLY audit
	// records; only their status metadata differs.
	runMeta := map[string]any{"status": status, "roles": outcomes}
	auditAppendRun(chain, "TEST", runID, missionIDStr, runMeta)
	auditAppendRun(chain, "PATCH", runID, missionIDStr, runMeta)
	auditAppendRun(chain, "APPLY", runID, missionIDStr, runMeta)

	if firstFailure == nil && runWorkflowEndpoint != "" {
		notifyWorkflowEndpoint(cmd.Context(), runWorkflowEndpoint, missionIDStr, runID, roles)
	}

	if firstFailure != nil {
		if isTimeoutErr(firstFailure) {
			return timedOut(firstFailure)
		}
		return operationFailure(firstFailure)
	}
	return nil
}

func splitNonEmpty(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func substituteRole(command []string, role string) []string {
	out := make([]string, len(command))
	for i, part := range command {
		out[i] = strings.ReplaceAll(part, "{ROLE}", role)
	}
	return out
}

func loadRoleConfig(path string) (map[string]config.EngineDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var defs map[string]config.EngineDefinition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

func writePlan(dir string, plan runPlan) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "plan.json"), data, 0o644)
}

func writeReports(dir, status string, outcomes []roleOutcome) error {
	testReport := map[string]any{"status": status, "roles": outcomes}
	auditReport := map[string]any{"status": status, "ts": time.Now().UTC().Format(time.RFC3339)}
	if err := writeJSONFile(filepath.Join(dir, "test_report.json"), testReport); err != nil {
		return err
	}
	return writeJSONFile(filepath.Join(dir, "audit.json"), auditReport)
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// auditAppendRun records one PLAN/TEST/PATCH/APPLY event (§4.9) to the
// run's audit chain. Best-effort: an append failure is logged, not
// surfaced, since the CLI's exit code already reflects role outcomes.
func auditAppendRun(chain *audit.Chain, event string, runID uuid.UUID, missionID string, meta map[string]any) {
	meta["run_id"] = runID.String()
	if missionID != "" {
		meta["mission_id"] = missionID
	}
	if _, err := chain.Append(audit.Record{
		Actor:    "cli_run",
		Event:    event,
		Metadata: meta,
	}); err != nil {
		logger.WithError(err).Warn("failed to append audit record")
	}
}

// consultSafeOps checks the manual-only gate for each role and files a
// pending dangerous-command signal when it is not auto-approved, which is
// always today (see pkg/safeops).
func consultSafeOps(ctx context.Context, svc *signals.Service, missionID string, roles []string) {
	var missionPtr *string
	if missionID != "" {
		missionPtr = &missionID
	}
	for _, role := range roles {
		tag := "orchestrator_run:" + role
		if safeops.ShouldAutoApprove(tag, missionPtr, safeops.LevelManual) {
			continue
		}
		if _, err := svc.Create(ctx, runSignalsProjectID, missionPtr, "dangerous_command", store.SeverityInfo, "pending approval: "+tag); err != nil {
			logger.WithError(err).Warn("failed to file orchestrator_run signal")
		}
	}
}

func runRolesSequential(ctx context.Context, roles []rolePlan, runID uuid.UUID, missionID string) ([]roleOutcome, error) {
	var outcomes []roleOutcome
	for _, r := range roles {
		outcome, err := runOneRole(ctx, r, runID, missionID)
		outcomes = append(outcomes, outcome)
		if err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

func runRolesParallel(ctx context.Context, roles []rolePlan, runID uuid.UUID, missionID string) ([]roleOutcome, error) {
	limit := runMaxWorkers
	if limit <= 0 {
		limit = len(roles)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	outcomes := make([]roleOutcome, len(roles))
	var mu sync.Mutex
	var firstErr error

	for i, r := range roles {
		i, r := i, r
		g.Go(func() error {
			outcome, err := runOneRole(gctx, r, runID, missionID)
			mu.Lock()
			outcomes[i] = outcome
			if err != nil && firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, firstErr
}

func runOneRole(ctx context.Context, r rolePlan, runID uuid.UUID, missionID string) (roleOutcome, error) {
	missionUUID, _ := uuid.Parse(missionID)
	result, err := supervisor.SpawnBatch(ctx, supervisor.BatchRequest{
		Command:   r.Command,
		Workdir:   r.Workdir,
		MissionID: missionUUID,
		RunID:     runID,
		TraceDir:  runTraceDir,
		Timeout:   runTimeout,
		Role:      r.Role,
	})

	status := "completed"
	outcome := roleOutcome{Role: r.Role}
	if err != nil {
		status = "failed"
		outcome.Error = err.Error()
	}
	if result != nil {
		outcome.ReturnCode = result.ReturnCode
		outcome.TracePath = result.TracePath
		if result.ReturnCode != 0 && err == nil {
			status = "failed"
			err = fmt.Errorf("role %s exited with code %d", r.Role, result.ReturnCode)
		}
	}
	outcome.Status = status

	if _, sendErr := messagebus.Send(runMessageBusPath, r.Role, messagebus.Message{
		"run_id": runID.String(),
		"status": status,
	}); sendErr != nil {
		logger.WithError(sendErr).Warn("failed to append role handoff to message bus")
	}

	return outcome, err
}

func runChat(ctx context.Context, role string, plan rolePlan, runID uuid.UUID, missionID string) ([]roleOutcome, error) {
	missionUUID, _ := uuid.Parse(missionID)
	session, err := supervisor.SpawnStream(ctx, supervisor.StreamRequest{
		Command:   plan.Command,
		Workdir:   plan.Workdir,
		MissionID: missionUUID,
		RunID:     runID,
		TraceDir:  runTraceDir,
		Role:      role,
	})
	if err != nil {
		return []roleOutcome{{Role: role, Status: "failed", Error: err.Error()}}, err
	}
	registerLiveSession(ctx, session)
	defer deregisterLiveSession(ctx, runID)
	defer session.Terminate(5 * time.Second)

	if err := session.Wait(runTimeout); err != nil {
		return []roleOutcome{{Role: role, Status: "failed", Error: err.Error()}}, err
	}
	return []roleOutcome{{Role: role, Status: "completed"}}, nil
}

// notifyWorkflowEndpoint posts the completed run's identity to an external
// Workflow Engine trigger. Best-effort: the CLI's own exit code already
// reflects the roles it ran, so a failure here is logged, not surfaced.
func notifyWorkflowEndpoint(ctx context.Context, endpoint, missionID string, runID uuid.UUID, roles []string) {
	body, err := json.Marshal(map[string]any{
		"mission_id": missionID,
		"run_id":     runID.String(),
		"roles":      roles,
	})
	if err != nil {
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		logger.WithError(err).Warn("failed to build workflow endpoint request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.WithError(err).Warn("workflow endpoint notification failed")
		return
	}
	defer resp.Body.Close()
}

func isTimeoutErr(err error) bool {
	return strings.Contains(err.Error(), "timed out") || strings.Contains(err.Error(), "timeout")
}
