// Package runstate implements the atomic per-run JSON state store
// (component J): `_tl/run.json`, mutated only via whole-document atomic
// replace, monotonic status transitions toward one of four terminal
// states.
//
// Grounded on original_source/src/tasklattice/run/state.py and
// utils/json_utils.py for read/write semantics. Unlike the teacher's
// deleted pkg/kernel/engine/state.go (plain os.WriteFile, no fsync or
// rename), this store always writes through a temp file, fsyncs it, then
// renames (DESIGN.md ledger).
package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tasklattice/tasklattice/pkg/runplan"
)

// Status is one state in the run lifecycle
// staged -> queued -> running -> {succeeded|failed|cancelled|timed_out}
// (spec.md 3, "RunStatus"). Transitions are monotonic toward terminal;
// there are no reverse transitions.
type Status string

const (
	StatusStaged    Status = "staged"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether s is one of the four terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

var order = map[Status]int{
	StatusStaged:    0,
	StatusQueued:    1,
	StatusRunning:   2,
	StatusSucceeded: 3,
	StatusFailed:    3,
	StatusCancelled: 3,
	StatusTimedOut:  3,
}

// CanTransition reports whether moving from `from` to `to` is monotonic.
// A terminal state can never move to another state; a given rank can
// otherwise only move forward (including across the shared terminal
// rank, since only one terminal status is ever actually assigned).
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	fr, ok1 := order[from]
	tr, ok2 := order[to]
	if !ok1 || !ok2 {
		return false
	}
	return tr >= fr
}

const schema = 0

// RunFile is the persisted document at `_tl/run.json` (spec.md 3/6).
type RunFile struct {
	Schema       int            `json:"schema"`
	Status       Status         `json:"status"`
	CreatedAt    string         `json:"created_at"`
	SubmittedAt  *string        `json:"submitted_at"`
	StartedAt    *string        `json:"started_at"`
	FinishedAt   *string        `json:"finished_at"`
	UpdatedAt    string         `json:"updated_at"`
	UpdateReason string         `json:"update_reason"`
	RunnerKind   string         `json:"runner_kind"`
	RunnerMeta   map[string]any `json:"runner_meta"`
	VariantHash  string         `json:"variant_hash"`
	ExitCode     *int           `json:"exit_code"`
}

func runFilePath(runDir string) string {
	return filepath.Join(runDir, runplan.MetadataDir, "run.json")
}

// Read loads the RunFile for runDir. A missing file is not an error: it
// returns (nil, nil), mirroring original_source's json_load "return None"
// contract for "not yet staged". Genuine I/O errors (permissions, disk) and
// JSON corruption are returned as errors rather than folded into "absent" —
// once callers rely on the absent/present distinction to decide a run's
// fate (e.g. the attach PID-liveness fallback), a corrupt file must not be
// silently mistaken for "not yet staged".
func Read(runDir string) (*RunFile, error) {
	blob, err := os.ReadFile(runFilePath(runDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("runstate: read run.json: %w", err)
	}
	var rf RunFile
	if err := json.Unmarshal(blob, &rf); err != nil {
		return nil, fmt.Errorf("runstate: corrupt run.json: %w", err)
	}
	return &rf, nil
}

// Write atomically replaces run.json with rf (write to .tmp, fsync,
// rename; spec.md 6 "Atomic write protocol").
func Write(runDir string, rf *RunFile) error {
	dir := filepath.Join(runDir, runplan.MetadataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return err
	}
	blob = append(blob, '\n')

	path := runFilePath(runDir)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	fsyncDirBestEffort(dir)
	return nil
}

func fsyncDirBestEffort(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	defer f.Close()
	_ = f.Sync()
}

// Evolve is the single mutation path: it reads the current RunFile (or
// starts from a fresh staged one if none exists), applies mutate, refreshes
// updated_at unless suppressUpdatedAt is set, validates the status transition is
// monotonic, and atomically writes the result back.
func Evolve(runDir string, now func() string, mutate func(*RunFile), suppressUpdatedAt bool) (*RunFile, error) {
	current, err := Read(runDir)
	if err != nil {
		return nil, err
	}
	if current == nil {
		ts := now()
		current = &RunFile{
			Schema:     schema,
			Status:     StatusStaged,
			CreatedAt:  ts,
			UpdatedAt:  ts,
			RunnerMeta: map[string]any{},
		}
	}

	prevStatus := current.Status
	mutate(current)

	if current.Status != prevStatus && !CanTransition(prevStatus, current.Status) {
		return nil, fmt.Errorf("runstate: invalid transition %s -> %s", prevStatus, current.Status)
	}
	if !suppressUpdatedAt {
		current.UpdatedAt = now()
	}
	if err := Write(runDir, current); err != nil {
		return nil, err
	}
	return current, nil
}
