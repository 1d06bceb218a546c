package materialize

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// StagingBackend controls where a run's temp build directory lives, where
// its final directory is, and how the temp directory is finalized into
// place. Grounded on original_source/src/tasklattice/staging.py's
// StagingBackend protocol.
type StagingBackend interface {
	TempDir(runsRoot, runID string) (string, error)
	FinalDir(runsRoot, runID string) string
	Finalize(tmp, final string) error
}

// DefaultStaging builds under a hidden sibling directory of runsRoot and
// finalizes with os.Rename (atomic on the same filesystem). The temp
// directory's unique suffix comes from google/uuid, standing in for
// Python's tempfile.mkdtemp random suffix (original_source's staging.py).
type DefaultStaging struct{}

func (DefaultStaging) TempDir(runsRoot, runID string) (string, error) {
	if err := os.MkdirAll(runsRoot, 0o755); err != nil {
		return "", fmt.Errorf("materialize: create runs_root: %w", err)
	}
	dir := filepath.Join(runsRoot, fmt.Sprintf(".tmp-%s-%s", runID, uuid.NewString()))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("materialize: create staging dir: %w", err)
	}
	return dir, nil
}

func (DefaultStaging) FinalDir(runsRoot, runID string) string {
	return filepath.Join(runsRoot, runID)
}

func (DefaultStaging) Finalize(tmp, final string) error {
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}
