package runner

import (
	"time"

	"github.com/tasklattice/tasklattice/pkg/runstate"
)

// Handle is the live view of one submitted run: a queued run returns a
// Handle before it has a process, a running one after.
//
// Grounded on original_source/src/tasklattice/runners/base.py's RunHandle
// Protocol.
type Handle interface {
	RunID() string
	ExternalID() string
	Status() runstate.Status
	// Wait blocks until the run reaches a terminal status, or timeout
	// elapses (<=0 means wait forever).
	Wait(timeout time.Duration) runstate.Status
	Cancel(force bool, reason string)
	ReturnCode() *int
	StdoutPath() string
	StderrPath() string
}
