package runner

import (
	"path/filepath"

	"github.com/tasklattice/tasklattice/pkg/runplan"
)

// defaultStdoutPath and defaultStderrPath mirror original_source's
// constants.stdout_path/stderr_path: both log files live under the
// reserved metadata directory of the run.
func defaultStdoutPath(runDir string) string {
	return filepath.Join(runDir, runplan.MetadataDir, "stdout.log")
}

func defaultStderrPath(runDir string) string {
	return filepath.Join(runDir, runplan.MetadataDir, "stderr.log")
}
