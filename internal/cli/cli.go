// Package cli wires the cobra command tree exposed by cmd/missionhub:
// serve, call, run, and attach, matching the orchestrator's documented
// exit-code contract (0 success, 1 operation failure, 2 misuse, 124
// timeout, 126 guardrail blocked, 130 interrupted). Grounded on
// githubnext-gh-aw's cmd/gh-aw rootCmd/init()/GroupID idiom: one package
// global rootCmd, flags bound in each subcommand's init, Execute left to
// main.
package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agentfleet/missionhub/internal/config"
)

// Exit codes per the external interface contract. Named instead of
// sprinkled as magic numbers since every subcommand must agree on them.
const (
	ExitSuccess          = 0
	ExitOperationFailure = 1
	ExitMisuse           = 2
	ExitTimeout          = 124
	ExitGuardrailBlocked = 126
	ExitInterrupted      = 130
)

var (
	cfgPath string
	logger  = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:           "missionhub",
	Short:         "Mission orchestrator: runs agent roles against a mission and records everything",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
	logger.SetFormatter(&logrus.JSONFormatter{})

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(attachCmd)
}

// Execute runs the command tree and returns the process exit code the
// caller should pass to os.Exit. It never calls os.Exit itself so tests
// can invoke it without terminating the test binary.
func Execute(args []string) int {
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		if code, ok := exitCodeFromError(err); ok {
			return code
		}
		fmt.Fprintln(os.Stderr, err)
		return ExitOperationFailure
	}
	return ExitSuccess
}

// exitCode is returned by subcommand RunEs to carry a specific exit code
// through cobra's error-only return channel.
type exitCode struct {
	code int
	err  error
}

func (e *exitCode) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit %d", e.code)
}

func exitCodeFromError(err error) (int, bool) {
	if ec, ok := err.(*exitCode); ok {
		return ec.code, true
	}
	return 0, false
}

func misuse(format string, args ...any) error {
	return &exitCode{code: ExitMisuse, err: fmt.Errorf(format, args...)}
}

func operationFailure(err error) error {
	return &exitCode{code: ExitOperationFailure, err: err}
}

func timedOut(err error) error {
	return &exitCode{code: ExitTimeout, err: err}
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgPath)
}
