// Package runner implements the Local subprocess Runner (component K):
// admission control over a concurrency cap, a single monitor goroutine
// driving every active run, timeout enforcement, and cancellation.
//
// Grounded throughout on original_source/src/tasklattice/runners/{base,local}.py.
package runner

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tasklattice/tasklattice/pkg/materialize"
)

// Resources are portable resource hints; LocalRunner only enforces
// TimeLimitSecs, and warns (rather than fails) when GPUs are requested
// (spec.md 4.K, runners/local.py's validate_spec).
type Resources struct {
	CPUs           *int
	GPUs           *int
	MemMB          *int
	TimeLimitSecs  *int
	Nodes          *int
	TasksPerNode   *int
	Exclusive      *bool
}

// LaunchSpec describes how to launch a materialized run.
//
// Cwd must be "" or a RELATIVE path, resolved under the run directory by
// the backend. StdoutPath/StderrPath, if set, must resolve under the run
// directory. BackendOpts keys must be namespaced "<ns>.<key>".
type LaunchSpec struct {
	Cmd         []string
	Env         map[string]string
	Cwd         string
	StdoutPath  string
	StderrPath  string
	Resources   Resources
	BackendOpts map[string]any
}

// Factory produces a LaunchSpec for a specific materialized run, letting
// callers vary argv/env per variant.
type Factory func(run *materialize.RunMaterialized) LaunchSpec

// SpecProvenance is a JSON-friendly snapshot of the effective LaunchSpec
// used to launch a run, recorded alongside run.json for audit/debugging
// (original_source's run/state.py spec_to_jsonable). Cwd is rendered
// absolute (under runDir) when the spec left it empty, since that's the
// directory the process actually ran in.
type SpecProvenance struct {
	Cmd         []string          `json:"cmd"`
	Env         map[string]string `json:"env,omitempty"`
	Cwd         string            `json:"cwd"`
	StdoutPath  string            `json:"stdout_path"`
	StderrPath  string            `json:"stderr_path"`
	Resources   Resources         `json:"resources"`
	BackendOpts map[string]any    `json:"backend_opts,omitempty"`
}

// NewSpecProvenance builds the provenance view of spec for a run rooted at
// runDir, filling in the defaults a LocalRunner would have used.
func NewSpecProvenance(spec LaunchSpec, runDir string) SpecProvenance {
	cwd := spec.Cwd
	if cwd == "" {
		cwd = runDir
	} else {
		cwd = joinUnderRoot(runDir, cwd)
	}
	stdoutP := spec.StdoutPath
	if stdoutP == "" {
		stdoutP = defaultStdoutPath(runDir)
	}
	stderrP := spec.StderrPath
	if stderrP == "" {
		stderrP = defaultStderrPath(runDir)
	}
	return SpecProvenance{
		Cmd:         append([]string{}, spec.Cmd...),
		Env:         spec.Env,
		Cwd:         cwd,
		StdoutPath:  stdoutP,
		StderrPath:  stderrP,
		Resources:   spec.Resources,
		BackendOpts: spec.BackendOpts,
	}
}

// allowedBackendOptNamespaces mirrors ALLOWED_BACKEND_OPT_NAMESPACES.
var allowedBackendOptNamespaces = map[string]struct{}{
	"local": {}, "slurm": {}, "k8s": {},
}

// validateSpecCommon performs runner-agnostic sanity checks shared by every
// backend (original_source's validate_spec_common).
func validateSpecCommon(spec LaunchSpec, runDir string) error {
	if len(spec.Cmd) == 0 {
		return fmt.Errorf("runner: LaunchSpec.Cmd must be a non-empty sequence of strings")
	}
	for _, c := range spec.Cmd {
		if c == "" {
			return fmt.Errorf("runner: LaunchSpec.Cmd entries must be non-empty")
		}
	}

	if spec.Resources.CPUs != nil && *spec.Resources.CPUs <= 0 {
		return fmt.Errorf("runner: Resources.CPUs must be a positive integer (or nil)")
	}
	if spec.Resources.GPUs != nil && *spec.Resources.GPUs <= 0 {
		return fmt.Errorf("runner: Resources.GPUs must be a positive integer (or nil)")
	}
	if spec.Resources.MemMB != nil && *spec.Resources.MemMB <= 0 {
		return fmt.Errorf("runner: Resources.MemMB must be positive (or nil)")
	}
	if spec.Resources.TimeLimitSecs != nil && *spec.Resources.TimeLimitSecs <= 0 {
		return fmt.Errorf("runner: Resources.TimeLimitSecs must be a positive integer (or nil)")
	}

	if spec.Cwd != "" && filepath.IsAbs(spec.Cwd) {
		return fmt.Errorf("runner: LaunchSpec.Cwd must be empty or a RELATIVE path (resolved under run_dir)")
	}

	for _, labeled := range []struct {
		label, p string
	}{{"StdoutPath", spec.StdoutPath}, {"StderrPath", spec.StderrPath}} {
		if labeled.p == "" {
			continue
		}
		abs := labeled.p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(runDir, abs)
		}
		if !isWithin(abs, runDir) {
			return fmt.Errorf("runner: LaunchSpec.%s must resolve under the run directory (got: %s)", labeled.label, labeled.p)
		}
	}

	for key := range spec.BackendOpts {
		ns, _, ok := strings.Cut(key, ".")
		if !ok || ns == "" {
			return fmt.Errorf("runner: backend_opts key %q must be namespaced (ns.key)", key)
		}
		if _, known := allowedBackendOptNamespaces[ns]; !known {
			return fmt.Errorf("runner: backend_opts key %q has unknown namespace %q", key, ns)
		}
	}

	return nil
}

func isWithin(child, root string) bool {
	rel, err := filepath.Rel(root, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
