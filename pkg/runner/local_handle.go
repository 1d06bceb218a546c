package runner

import (
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/tasklattice/tasklattice/pkg/runner/platform"
	"github.com/tasklattice/tasklattice/pkg/runstate"
)

// localHandle is the LocalRunner's Handle implementation. It supports the
// queued state (cmd == nil) as well as running/terminal states once a
// process has been spawned; the monitor goroutine and Cancel both mutate
// it under mu. An attached handle (attached == true, built by Attach) never
// gets a live cmd — this process never spawned it — so it resolves status
// and cancellation through run.json and PID liveness instead.
type localHandle struct {
	runner *LocalRunner
	runID  string
	runDir string

	attached bool

	mu              sync.Mutex
	cmd             *exec.Cmd
	exited          bool
	exitCode        int
	cancelRequested bool
	timedOut        bool

	stdoutPath string
	stderrPath string

	startedCh  chan struct{}
	finishedCh chan struct{}
}

func (h *localHandle) RunID() string { return h.runID }

func (h *localHandle) ExternalID() string {
	h.mu.Lock()
	cmd := h.cmd
	attached := h.attached
	h.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		return strconv.Itoa(cmd.Process.Pid)
	}
	if attached {
		if rf, err := runstate.Read(h.runDir); err == nil && rf != nil {
			if pid, ok := pidFromMeta(rf.RunnerMeta); ok {
				return strconv.Itoa(pid)
			}
		}
	}
	return ""
}

func (h *localHandle) Status() runstate.Status {
	h.mu.Lock()
	cmd := h.cmd
	attached := h.attached
	exited := h.exited
	exitCode := h.exitCode
	cancelRequested := h.cancelRequested
	timedOut := h.timedOut
	h.mu.Unlock()

	if cmd == nil {
		if attached {
			return h.attachedStatus()
		}
		if cancelRequested {
			return runstate.StatusCancelled
		}
		return runstate.StatusQueued
	}
	if !exited {
		return runstate.StatusRunning
	}
	if timedOut {
		return runstate.StatusTimedOut
	}
	if cancelRequested {
		return runstate.StatusCancelled
	}
	if exitCode == 0 {
		return runstate.StatusSucceeded
	}
	return runstate.StatusFailed
}

// attachedStatus resolves status for an attached handle by consulting
// run.json and, when it claims running, PID liveness (spec.md 4.K's
// status() fallback). A running state whose PID is no longer alive is
// finalized to failed with reason pid_not_found.
func (h *localHandle) attachedStatus() runstate.Status {
	rf, err := runstate.Read(h.runDir)
	if err != nil || rf == nil {
		return runstate.StatusFailed
	}
	if rf.Status != runstate.StatusRunning {
		return rf.Status
	}
	if pid, ok := pidFromMeta(rf.RunnerMeta); ok && platform.Current.PIDAlive(pid) {
		return runstate.StatusRunning
	}

	lock := h.runner.runLock(h.runDir)
	lock.Lock()
	defer lock.Unlock()
	final, evErr := runstate.Evolve(h.runDir, h.runner.now, func(rf *runstate.RunFile) {
		if rf.Status.Terminal() {
			return
		}
		rf.Status = runstate.StatusFailed
		now := h.runner.now()
		rf.FinishedAt = &now
		rf.UpdateReason = "pid_not_found"
		appendEvent(rf, runstate.StatusFailed, "pid_not_found", now)
	}, false)
	if evErr != nil || final == nil {
		return runstate.StatusFailed
	}
	closeOnce(h.finishedCh)
	return final.Status
}

func (h *localHandle) Wait(timeout time.Duration) runstate.Status {
	h.mu.Lock()
	cmd := h.cmd
	attached := h.attached
	h.mu.Unlock()

	if attached && cmd == nil {
		return h.waitAttached(timeout)
	}

	if timeout <= 0 {
		<-h.finishedCh
		return h.Status()
	}
	select {
	case <-h.finishedCh:
	case <-time.After(timeout):
	}
	return h.Status()
}

// waitAttached polls run.json (spec.md 5's suspension-point table: attached
// handles poll at >=200ms intervals instead of waiting on an in-process
// event, since no goroutine here observes the subprocess exiting).
func (h *localHandle) waitAttached(timeout time.Duration) runstate.Status {
	const pollInterval = 200 * time.Millisecond
	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}
	for {
		status := h.attachedStatus()
		if status.Terminal() {
			return status
		}
		if hasDeadline && time.Now().After(deadline) {
			return status
		}
		time.Sleep(pollInterval)
	}
}

// Cancel requests cancellation: queued runs are pulled from the runner's
// pending FIFO, running ones are signalled soft-then-hard (hard after a
// 5s grace, or at once when force is set), and attached
// runs (no live cmd, not this runner's queue) are cancelled by PID
// (mirrors original_source's RunHandle.cancel plus spec.md 4.K's attached
// cancellation clause).
func (h *localHandle) Cancel(force bool, reason string) {
	h.mu.Lock()
	h.cancelRequested = true
	cmd := h.cmd
	attached := h.attached
	h.mu.Unlock()

	if attached && cmd == nil {
		h.cancelAttached(reason)
		return
	}

	if cmd == nil {
		h.runner.cancelQueued(h.runDir, h)
		return
	}

	platform.Current.SoftTerminate(cmd)
	if force {
		platform.Current.HardKill(cmd)
		return
	}
	select {
	case <-h.finishedCh:
	case <-time.After(5 * time.Second):
		platform.Current.HardKill(cmd)
	}
}

// cancelAttached looks up the PID from run.json and only signals it if
// observed alive, to avoid reaping a reused PID, then finalizes to
// cancelled regardless (spec.md 4.K, "Running (attached handle without
// Popen)").
func (h *localHandle) cancelAttached(reason string) {
	lock := h.runner.runLock(h.runDir)
	lock.Lock()
	defer lock.Unlock()

	rf, err := runstate.Read(h.runDir)
	if err != nil || rf == nil || rf.Status.Terminal() {
		return
	}
	if rf.Status == runstate.StatusRunning {
		if pid, ok := pidFromMeta(rf.RunnerMeta); ok && platform.Current.PIDAlive(pid) {
			platform.GracefulKillPID(pid, true, 5)
		}
	}
	if reason == "" {
		reason = "cancelled via attach"
	}
	_, _ = runstate.Evolve(h.runDir, h.runner.now, func(rf *runstate.RunFile) {
		if rf.Status.Terminal() {
			return
		}
		rf.Status = runstate.StatusCancelled
		now := h.runner.now()
		rf.FinishedAt = &now
		rf.UpdateReason = reason
		appendEvent(rf, runstate.StatusCancelled, reason, now)
	}, false)
	closeOnce(h.finishedCh)
}

func (h *localHandle) ReturnCode() *int {
	h.mu.Lock()
	cmd := h.cmd
	attached := h.attached
	exited := h.exited
	exitCode := h.exitCode
	h.mu.Unlock()

	if cmd != nil {
		if !exited {
			return nil
		}
		ec := exitCode
		return &ec
	}
	if attached {
		if rf, err := runstate.Read(h.runDir); err == nil && rf != nil {
			return rf.ExitCode
		}
	}
	return nil
}

func (h *localHandle) StdoutPath() string { return h.stdoutPath }
func (h *localHandle) StderrPath() string { return h.stderrPath }
