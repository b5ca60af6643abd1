package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentfleet/missionhub/pkg/evidence"
)

var (
	callEndpoint string
	callMethod   string
	callData     string
	callBaseURL  string
	callTimeout  time.Duration
	callEngine   string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Perform a single REST call against the orchestrator API",
	RunE:  runCall,
}

func init() {
	callCmd.Flags().StringVar(&callEndpoint, "endpoint", "", "API path, e.g. /api/missions")
	callCmd.Flags().StringVar(&callMethod, "method", "GET", "HTTP method: GET or POST")
	callCmd.Flags().StringVar(&callData, "data", "", "request body JSON for POST")
	callCmd.Flags().StringVar(&callBaseURL, "base-url", "http://127.0.0.1:8000", "API base URL")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "request timeout")
	callCmd.Flags().StringVar(&callEngine, "engine", "", "engine tag recorded in the evidence event")
	_ = callCmd.MarkFlagRequired("endpoint")
}

func runCall(cmd *cobra.Command, args []string) error {
	method := strings.ToUpper(callMethod)
	if method != http.MethodGet && method != http.MethodPost {
		return misuse("call: unsupported method %q (must be GET or POST)", callMethod)
	}

	cfg, err := loadConfig()
	if err != nil {
		return operationFailure(err)
	}
	emitter := evidence.NewEmitter(cfg.Evidence.Path, logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()

	var body io.Reader
	if method == http.MethodPost && callData != "" {
		body = bytes.NewBufferString(callData)
	}
	req, err := http.NewRequestWithContext(ctx, method, callBaseURL+callEndpoint, body)
	if err != nil {
		return operationFailure(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			emitter.Emit(evidence.Record{Event: "cli_call", Status: "timeout", Note: callEndpoint})
			return timedOut(err)
		}
		emitter.Emit(evidence.Record{Event: "cli_call", Status: "failed", Note: err.Error()})
		return operationFailure(err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	status := "ok"
	if resp.StatusCode >= 400 {
		status = "failed"
	}
	emitter.Emit(evidence.Record{
		Event:  "cli_call",
		Status: status,
		Note:   callEndpoint,
		Metrics: map[string]any{
			"status_code": resp.StatusCode,
			"engine":      callEngine,
		},
	})

	cmd.Println(string(respBody))
	if resp.StatusCode >= 400 {
		return operationFailure(nil)
	}
	return nil
}
