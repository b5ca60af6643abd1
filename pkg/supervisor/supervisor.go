// Package supervisor launches and supervises agent CLI subprocesses in two
// modes: batch (capture stdout/stderr, enforce a timeout, return a single
// completed result) and stream (live stdio for CLI attach flows). Both
// modes write a trace log under a shared format so batch and stream runs
// can be correlated by run id.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
	"github.com/agentfleet/missionhub/pkg/metrics"
	"github.com/google/uuid"
)

// BatchResult is the outcome of a SpawnBatch call.
type BatchResult struct {
	ReturnCode int
	Stdout     string
	Stderr     string
	TimedOut   bool
	TracePath  string
}

// BatchRequest describes a batch subprocess invocation.
type BatchRequest struct {
	Command      []string
	Workdir      string
	MissionID    uuid.UUID
	RunID        uuid.UUID
	TraceDir     string
	Timeout      time.Duration
	CommandIndex *int
	Role         string
}

func traceLogName(runID uuid.UUID, commandIndex *int) string {
	if commandIndex != nil {
		return fmt.Sprintf("%s_cmd%d.log", runID, *commandIndex)
	}
	return fmt.Sprintf("%s.log", runID)
}

func writeBatchHeader(w io.Writer, req BatchRequest) {
	fmt.Fprintf(w, "# Timestamp: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "# Mission ID: %s\n", req.MissionID)
	fmt.Fprintf(w, "# Run ID: %s\n", req.RunID)
	if req.CommandIndex != nil {
		fmt.Fprintf(w, "# Command Index: %d\n", *req.CommandIndex)
	}
	if req.Role != "" {
		fmt.Fprintf(w, "# Role: %s\n", req.Role)
	}
	fmt.Fprintf(w, "# Command: %s\n\n", strings.Join(req.Command, " "))
}

func sectionOrEmpty(label string, content string) string {
	if content == "" {
		return fmt.Sprintf("=== %s === (empty)\n", label)
	}
	return fmt.Sprintf("=== %s (%d chars) === %s\n", label, len(content), content)
}

// SpawnBatch runs command to completion, capturing stdout/stderr, enforcing
// timeout, and writing a trace log shaped per the supervisor's header/section
// format. The child runs in its own process group so a timeout kill takes
// the whole descendant tree with it.
func SpawnBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Command) == 0 {
		return nil, apperrors.NewValidationError("supervisor: empty command")
	}
	if err := os.MkdirAll(req.TraceDir, 0o755); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "create trace dir")
	}
	tracePath := filepath.Join(req.TraceDir, traceLogName(req.RunID, req.CommandIndex))

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, req.Command[0], req.Command[1:]...)
	if req.Workdir != "" {
		cmd.Dir = req.Workdir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	traceFile, err := os.Create(tracePath)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "create trace file")
	}
	defer traceFile.Close()
	writeBatchHeader(traceFile, req)

	err = cmd.Run()

	result := &BatchResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		TracePath: tracePath,
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.TimedOut = true
		killProcessGroup(cmd)
		fmt.Fprintf(traceFile, "=== ERROR === subprocess exceeded timeout of %s\n", timeout)
		metrics.SupervisorSpawnsTotal.WithLabelValues("batch", "timeout").Inc()
		return result, apperrors.NewTimeoutError("supervisor.spawn_batch")
	case isExecutableNotFound(err):
		fmt.Fprintf(traceFile, "=== ERROR === executable not found: %s\n", req.Command[0])
		metrics.SupervisorSpawnsTotal.WithLabelValues("batch", "not_found").Inc()
		return result, apperrors.New(apperrors.ErrorTypeNotFound, "executable not found: "+req.Command[0])
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ReturnCode = exitErr.ExitCode()
	} else if err == nil {
		result.ReturnCode = 0
	}

	fmt.Fprintf(traceFile, "=== RETURN CODE === %d\n", result.ReturnCode)
	fmt.Fprint(traceFile, sectionOrEmpty("STDOUT", result.Stdout))
	fmt.Fprint(traceFile, sectionOrEmpty("STDERR", result.Stderr))

	outcome := "success"
	if result.ReturnCode != 0 {
		outcome = "nonzero_exit"
	}
	metrics.SupervisorSpawnsTotal.WithLabelValues("batch", outcome).Inc()

	return result, nil
}

func isExecutableNotFound(err error) bool {
	if err == nil {
		return false
	}
	var pathErr *os.PathError
	if ok := asPathError(err, &pathErr); ok {
		return os.IsNotExist(pathErr.Err) || strings.Contains(pathErr.Err.Error(), "no such file")
	}
	return strings.Contains(err.Error(), "executable file not found")
}

func asPathError(err error, target **os.PathError) bool {
	for err != nil {
		if pe, ok := err.(*os.PathError); ok {
			*target = pe
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

// Session is a live, attachable subprocess with piped stdio.
type Session struct {
	RunID     uuid.UUID
	Role      string
	MissionID uuid.UUID

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	traceFile *os.File
	traceMu   sync.Mutex
	done      chan struct{}
	waitErr   error
}

// StreamRequest describes a stream subprocess invocation.
type StreamRequest struct {
	Command   []string
	Workdir   string
	MissionID uuid.UUID
	RunID     uuid.UUID
	TraceDir  string
	Role      string
}

// SpawnStream launches command with piped stdin/stdout/stderr and starts
// two daemon goroutines pumping stdout/stderr lines into the trace log.
// The caller owns the returned Session until it calls Wait or Terminate.
func SpawnStream(ctx context.Context, req StreamRequest) (*Session, error) {
	if len(req.Command) == 0 {
		return nil, apperrors.NewValidationError("supervisor: empty command")
	}
	if err := os.MkdirAll(req.TraceDir, 0o755); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "create trace dir")
	}
	tracePath := filepath.Join(req.TraceDir, traceLogName(req.RunID, nil))
	traceFile, err := os.Create(tracePath)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "create trace file")
	}

	cmd := exec.Command(req.Command[0], req.Command[1:]...)
	if req.Workdir != "" {
		cmd.Dir = req.Workdir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		traceFile.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "open stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		traceFile.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "open stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		traceFile.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "open stderr pipe")
	}

	session := &Session{
		RunID:     req.RunID,
		Role:      req.Role,
		MissionID: req.MissionID,
		cmd:       cmd,
		stdin:     stdin,
		traceFile: traceFile,
		done:      make(chan struct{}),
	}

	writeBatchHeader(traceFile, BatchRequest{
		Command:   req.Command,
		MissionID: req.MissionID,
		RunID:     req.RunID,
		Role:      req.Role,
	})

	if err := cmd.Start(); err != nil {
		traceFile.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "start stream subprocess")
	}

	go session.pump("STDOUT", stdout)
	go session.pump("STDERR", stderr)
	go session.reap()

	metrics.SupervisorSpawnsTotal.WithLabelValues("stream", "started").Inc()
	return session, nil
}

func (s *Session) pump(label string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.writeTraceLine(label, scanner.Text())
	}
}

func (s *Session) reap() {
	s.waitErr = s.cmd.Wait()
	code := 0
	if exitErr, ok := s.waitErr.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	}
	s.writeTraceLine("RETURN", fmt.Sprintf("%d", code))
	close(s.done)
}

func (s *Session) writeTraceLine(label, text string) {
	s.traceMu.Lock()
	defer s.traceMu.Unlock()
	if label == "RETURN" {
		fmt.Fprintf(s.traceFile, "[RETURN] %s\n", text)
		return
	}
	fmt.Fprintf(s.traceFile, "[%s] %s\n", label, text)
}

// SendLine writes text plus a newline to the session's stdin and records it
// in the trace log under a [STDIN] label.
func (s *Session) SendLine(text string) error {
	s.writeTraceLine("STDIN", text)
	_, err := fmt.Fprintf(s.stdin, "%s\n", text)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "write stream stdin")
	}
	return nil
}

// Wait blocks until the session's subprocess exits or the timeout elapses.
func (s *Session) Wait(timeout time.Duration) error {
	select {
	case <-s.done:
		return nil
	case <-time.After(timeout):
		return apperrors.NewTimeoutError("supervisor.wait")
	}
}

// Terminate closes stdin, signals SIGTERM to the process group, waits up to
// grace for exit, then escalates to SIGKILL. RETURN is always recorded by
// the reap goroutine regardless of which path closes the process.
func (s *Session) Terminate(grace time.Duration) error {
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		pgid, err := syscall.Getpgid(s.cmd.Process.Pid)
		if err == nil {
			_ = syscall.Kill(-pgid, syscall.SIGTERM)
		} else {
			_ = s.cmd.Process.Signal(syscall.SIGTERM)
		}
	}
	select {
	case <-s.done:
		return nil
	case <-time.After(grace):
		killProcessGroup(s.cmd)
		<-s.done
		return nil
	}
}

// TracePath returns the path of this session's trace log.
func (s *Session) TracePath() string {
	return s.traceFile.Name()
}

// Close releases the trace file handle. Safe to call after Wait/Terminate.
func (s *Session) Close() error {
	return s.traceFile.Close()
}
