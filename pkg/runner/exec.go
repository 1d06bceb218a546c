package runner

import (
	"os"
	"os/exec"

	"github.com/tasklattice/tasklattice/pkg/runner/platform"
)

// buildCmd constructs the *exec.Cmd for a validated LaunchSpec: argv,
// working directory, environment overlay, redirected log files, and the
// platform-specific process-group configuration so a later cancel/timeout
// can signal the whole tree at once.
//
// Adapted from pkg/kernel/executor/executor.go's runStdio: that function
// built a one-shot *exec.Command, ran it synchronously to completion, and
// captured stdout/stderr into buffers for extract-rule post-processing.
// Here the spawned command is long-lived and monitored asynchronously, so
// output goes to append-mode log files under run_dir instead of in-memory
// buffers, and there is no extract step — the run's result is its exit
// code and log files, not structured tool outputs.
func buildCmd(spec LaunchSpec, cwdAbs string, outF, errF *os.File) *exec.Cmd {
	cmd := exec.Command(spec.Cmd[0], spec.Cmd[1:]...) //#nosec G204 -- cmd comes from a caller-supplied LaunchSpec/factory, not untrusted input
	cmd.Dir = cwdAbs
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = outF
	cmd.Stderr = errF
	platform.Current.ConfigureGroup(cmd)
	return cmd
}
