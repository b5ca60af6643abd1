package cli

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentfleet/missionhub/internal/httpapi"
	"github.com/agentfleet/missionhub/pkg/audit"
	"github.com/agentfleet/missionhub/pkg/evidence"
	"github.com/agentfleet/missionhub/pkg/shared/logging"
	"github.com/agentfleet/missionhub/pkg/signals"
	"github.com/agentfleet/missionhub/pkg/store"
	"github.com/agentfleet/missionhub/pkg/workflow/engine"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return operationFailure(err)
	}
	host := cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}

	st, err := store.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		return operationFailure(err)
	}
	defer st.Close()
	if err := store.Migrate(cmd.Context(), st.DB()); err != nil {
		return operationFailure(err)
	}

	chain, err := audit.NewChain(cfg.Audit.Dir)
	if err != nil {
		return operationFailure(err)
	}
	emitter := evidence.NewEmitter(cfg.Evidence.Path, logger)

	signalSvc := signals.New(st)
	wf := engine.NewWorkflow(st, engine.SimulatedDispatcher{}, engine.StrategySelfHeal, engine.DefaultConfig(), chain, emitter, signalSvc)

	server := &httpapi.Server{Store: st, Engine: wf, Signals: signalSvc}
	addr := host + ":" + portString(port)

	httpServer := &http.Server{Addr: addr, Handler: server.Router()}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	// Probe our own /health once startup has had a moment to bind.
	time.Sleep(100 * time.Millisecond)
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status := probeHealth(probeCtx, addr)
	fields := logging.NewFields().Component("cli.serve").Operation("serve")
	fields["addr"] = addr
	fields["health"] = status
	logger.WithFields(fields.Logrus()).Info("missionhub serve started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return operationFailure(err)
		}
		return nil
	}
}

func probeHealth(ctx context.Context, addr string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return "unknown"
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "unreachable"
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return "ok"
	}
	return "degraded"
}

func portString(p int) string {
	if p == 0 {
		p = 8000
	}
	return strconv.Itoa(p)
}
