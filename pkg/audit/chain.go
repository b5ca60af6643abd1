// Package audit implements the tamper-evident, hash-chained append-only
// event log described by the mission orchestrator's audit chain: each
// manifest line is folded into a rolling SHA-256 so that altering or
// removing any prior line is detectable by recomputing the chain.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/agentfleet/missionhub/internal/errors"
	"github.com/agentfleet/missionhub/pkg/metrics"
)

const (
	manifestFile = "manifest.jsonl"
	chainFile    = "manifest.sha256"
	sigFile      = "manifest.sig"
)

// Record is one line of the audit manifest.
type Record struct {
	Timestamp       time.Time      `json:"ts"`
	Actor           string         `json:"actor"`
	Event           string         `json:"event"`
	RuleIDs         []string       `json:"rule_ids,omitempty"`
	PolicyRefs      []string       `json:"policy_refs,omitempty"`
	ReasoningDigest string         `json:"reasoning_digest,omitempty"`
	InputsHash      string         `json:"inputs_hash,omitempty"`
	OutputsHash     string         `json:"outputs_hash,omitempty"`
	ApprovalState   string         `json:"approval_state,omitempty"`
	ApprovalsRowID  *int64         `json:"approvals_row_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ErrTamperDetected is returned by Verify when the recomputed chain does
// not match the stored chain hash.
type ErrTamperDetected struct {
	LineIndex int
}

func (e *ErrTamperDetected) Error() string {
	return fmt.Sprintf("audit: tamper detected at or before manifest line %d", e.LineIndex)
}

// Chain is a hash-chained append-only manifest rooted at a directory.
// Appenders must hold chain.mu for the read-modify-write of the chain
// file; this is the only synchronization primitive the chain needs since
// it lives on a single node (§1 Non-goals: distributed coordination).
type Chain struct {
	mu           sync.Mutex
	dir          string
	manifestPath string
	chainPath    string
	sigPath      string
}

// NewChain creates (if absent) the manifest directory and returns a Chain
// rooted there.
func NewChain(dir string) (*Chain, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "create audit dir %s", dir)
	}
	return &Chain{
		dir:          dir,
		manifestPath: filepath.Join(dir, manifestFile),
		chainPath:    filepath.Join(dir, chainFile),
		sigPath:      filepath.Join(dir, sigFile),
	}, nil
}

// foldLine computes H_i = sha256(prevHash || "\n" || line).
func foldLine(prevHash, line string) string {
	h := sha256.New()
	if prevHash != "" {
		h.Write([]byte(prevHash))
		h.Write([]byte("\n"))
	}
	h.Write([]byte(line))
	return hex.EncodeToString(h.Sum(nil))
}

// readChainHash reads the currently stored rolling hash, returning "" if
// no chain file exists yet (i.e. the manifest is empty).
func readChainHash(chainPath string) (string, error) {
	data, err := os.ReadFile(chainPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// atomicWriteFile writes data to path via write-temp-then-rename so a
// failure mid-write never leaves a torn file in place.
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Append serializes record as one manifest line, folds it into the rolling
// hash, and persists both the manifest and the chain file. The manifest
// line is appended first and the chain file is then replaced via
// write-temp-then-rename; if either write fails, the manifest is truncated
// back to its previous length so the previous consistent pair stays on
// disk.
func (c *Chain) Append(record Record) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(record)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal audit record")
	}

	prevHash, err := readChainHash(c.chainPath)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "read audit chain")
	}

	f, err := os.OpenFile(c.manifestPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "open audit manifest")
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "stat audit manifest")
	}
	prevSize := info.Size()
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		_ = os.Truncate(c.manifestPath, prevSize)
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "append audit manifest")
	}
	if err := f.Close(); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "close audit manifest")
	}

	newHash := foldLine(prevHash, string(line))
	if err := atomicWriteFile(c.chainPath, []byte(newHash)); err != nil {
		_ = os.Truncate(c.manifestPath, prevSize)
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "persist audit chain")
	}
	metrics.AuditAppendsTotal.Inc()
	return newHash, nil
}

// recomputeChain folds every manifest line in order and returns the final
// rolling hash along with the number of lines it folded — used by both
// Verify and Rebuild.
func recomputeChain(manifestPath string) (string, int, error) {
	f, err := os.Open(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, nil
		}
		return "", 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	hash := ""
	index := 0
	for scanner.Scan() {
		hash = foldLine(hash, scanner.Text())
		index++
	}
	if err := scanner.Err(); err != nil {
		return "", index, err
	}
	return hash, index, nil
}

// Verify recomputes the chain from the manifest and compares it against
// the stored chain hash. Any discrepancy is a hard failure: ErrTamperDetected.
func (c *Chain) Verify() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored, err := readChainHash(c.chainPath)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "read audit chain")
	}
	recomputed, lineCount, err := recomputeChain(c.manifestPath)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "recompute audit chain")
	}
	if stored != recomputed {
		metrics.AuditVerifyFailuresTotal.Inc()
		return &ErrTamperDetected{LineIndex: lineCount}
	}
	return nil
}

// Rebuild recomputes the chain file from the manifest only — it never
// resurrects missing lines, it only restores consistency between the
// manifest as it exists on disk and the chain file.
func (c *Chain) Rebuild() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	recomputed, _, err := recomputeChain(c.manifestPath)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "recompute audit chain")
	}
	if err := atomicWriteFile(c.chainPath, []byte(recomputed)); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "persist audit chain")
	}
	return recomputed, nil
}

// Sign is best-effort: if signingKeyPath is empty or the gpg tool is
// unavailable, it records a "skip:<reason>" outcome rather than failing.
func (c *Chain) Sign(signingKeyPath string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if signingKeyPath == "" {
		return "skip:no-signing-key", nil
	}
	if _, err := os.Stat(signingKeyPath); err != nil {
		return "skip:signing-key-unreadable", nil
	}
	gpgPath, err := exec.LookPath("gpg")
	if err != nil {
		return "skip:gpg-not-found", nil
	}
	cmd := exec.Command(gpgPath, "--batch", "--yes", "--local-user", signingKeyPath,
		"--detach-sign", "--output", c.sigPath, c.manifestPath)
	if err := cmd.Run(); err != nil {
		return "skip:gpg-failed", nil
	}
	return "signed", nil
}

// ManifestPath exposes the manifest file location for evidence/CLI use.
func (c *Chain) ManifestPath() string { return c.manifestPath }

// ChainPath exposes the chain file location.
func (c *Chain) ChainPath() string { return c.chainPath }
