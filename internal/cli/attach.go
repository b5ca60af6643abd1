package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/agentfleet/missionhub/internal/config"
	"github.com/agentfleet/missionhub/pkg/evidence"
	"github.com/agentfleet/missionhub/pkg/streamregistry"
	"github.com/agentfleet/missionhub/pkg/supervisor"
)

var (
	attachRunID string
	attachLine  string
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Pipe a line (or stdin) into a running stream session",
	RunE:  runAttach,
}

func init() {
	attachCmd.Flags().StringVar(&attachRunID, "run-id", "", "run id of the stream session to attach to")
	attachCmd.Flags().StringVar(&attachLine, "line", "", "single line to send; omit to stream stdin until EOF")
	_ = attachCmd.MarkFlagRequired("run-id")
}

// liveSessions holds the actual attachable supervisor.Session objects for
// stream mode runs started by this process. streamregistry only carries
// the metadata needed to discover a run id (including across processes, if
// a Mirror is wired); a Session itself cannot cross a process boundary, so
// attach only succeeds against a run this same process started.
var (
	liveSessionsMu sync.Mutex
	liveSessions   = map[string]*supervisor.Session{}
	sharedRegistry = streamregistry.New()
)

func registerLiveSession(ctx context.Context, session *supervisor.Session) {
	liveSessionsMu.Lock()
	liveSessions[session.RunID.String()] = session
	liveSessionsMu.Unlock()

	_ = sharedRegistry.Register(ctx, &streamregistry.Entry{
		RunID:     session.RunID,
		Role:      session.Role,
		MissionID: session.MissionID,
	})
}

func deregisterLiveSession(ctx context.Context, runID uuid.UUID) {
	liveSessionsMu.Lock()
	delete(liveSessions, runID.String())
	liveSessionsMu.Unlock()
	_ = sharedRegistry.Deregister(ctx, runID.String())
}

var mirrorOnce sync.Once

// configureStreamRegistryMirror attaches a Redis-backed Mirror to the
// shared registry when cfg.StreamRegistry.RedisURL is set, so a separate
// `missionhub attach` process on the same host can discover a run id
// registered by the process that started it. Only one mirror is ever
// attached per process.
func configureStreamRegistryMirror(cfg *config.Config) {
	if cfg.StreamRegistry.RedisURL == "" {
		return
	}
	mirrorOnce.Do(func() {
		opts, err := redis.ParseURL(cfg.StreamRegistry.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("invalid stream registry redis url, mirror disabled")
			return
		}
		client := redis.NewClient(opts)
		sharedRegistry.WithMirror(streamregistry.NewRedisMirror(client, cfg.StreamRegistry.TTL))
	})
}

func runAttach(cmd *cobra.Command, args []string) error {
	if _, err := uuid.Parse(attachRunID); err != nil {
		return misuse("attach: --run-id must be a valid uuid")
	}

	cfg, cfgErr := loadConfig()
	if cfgErr == nil {
		configureStreamRegistryMirror(cfg)
	}

	if _, err := sharedRegistry.Lookup(cmd.Context(), attachRunID); err != nil {
		return operationFailure(fmt.Errorf("attach: no known session for run %s: %w", attachRunID, err))
	}

	liveSessionsMu.Lock()
	session, ok := liveSessions[attachRunID]
	liveSessionsMu.Unlock()
	if !ok {
		return operationFailure(fmt.Errorf("attach: run %s is not attachable from this process", attachRunID))
	}

	if cfgErr == nil {
		emitChatAttachEvidence(cfg, session)
	}

	if attachLine != "" {
		if err := session.SendLine(attachLine); err != nil {
			return operationFailure(err)
		}
		return nil
	}
	return streamStdinToSession(cmd.Context(), session)
}

// emitChatAttachEvidence records that this process successfully resolved
// and attached to a live stream session, pointing at its trace log.
func emitChatAttachEvidence(cfg *config.Config, session *supervisor.Session) {
	emitter := evidence.NewEmitter(cfg.Evidence.Path, logger)
	tracePath := session.TracePath()
	emitter.Emit(evidence.Record{
		Event:  "orchestrator_chat_attach",
		Status: "ok",
		Note:   "log_path=" + tracePath,
		Files:  []evidence.FileRef{emitter.RefFor(tracePath)},
	})
}

func streamStdinToSession(ctx context.Context, session *supervisor.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := session.SendLine(scanner.Text()); err != nil {
			return operationFailure(err)
		}
	}
	return nil
}
