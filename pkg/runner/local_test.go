package runner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tasklattice/tasklattice/pkg/lattice"
	"github.com/tasklattice/tasklattice/pkg/materialize"
	"github.com/tasklattice/tasklattice/pkg/placeholder"
	"github.com/tasklattice/tasklattice/pkg/runplan"
	"github.com/tasklattice/tasklattice/pkg/runstate"
)

func materializeFixture(t *testing.T) *materialize.RunMaterialized {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "proto.txt"), []byte("hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runsRoot := filepath.Join(dir, "runs")
	plan, err := runplan.New("demo", runsRoot, dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	mat, err := materialize.New(plan)
	if err != nil {
		t.Fatal(err)
	}
	result, err := mat.Run(lattice.SubstitutionMap{"x": placeholder.Int(1)})
	if err != nil {
		t.Fatal(err)
	}
	return result
}

func TestSubmitRunsToCompletion(t *testing.T) {
	run := materializeFixture(t)
	r, err := NewLocalRunner("local", func(*materialize.RunMaterialized) LaunchSpec {
		return LaunchSpec{Cmd: []string{"true"}}
	}, ParallelUnbounded)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	h, err := r.Submit(run)
	if err != nil {
		t.Fatal(err)
	}
	status := h.Wait(5 * time.Second)
	if status != runstate.StatusSucceeded {
		t.Fatalf("expected succeeded, got %q", status)
	}
	if rc := h.ReturnCode(); rc == nil || *rc != 0 {
		t.Fatalf("expected return code 0, got %v", rc)
	}
}

func TestSubmitNonZeroExitIsFailed(t *testing.T) {
	run := materializeFixture(t)
	r, err := NewLocalRunner("local", func(*materialize.RunMaterialized) LaunchSpec {
		return LaunchSpec{Cmd: []string{"false"}}
	}, ParallelUnbounded)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	h, err := r.Submit(run)
	if err != nil {
		t.Fatal(err)
	}
	status := h.Wait(5 * time.Second)
	if status != runstate.StatusFailed {
		t.Fatalf("expected failed, got %q", status)
	}
}

func TestSubmitPersistsRunState(t *testing.T) {
	run := materializeFixture(t)
	r, err := NewLocalRunner("local", func(*materialize.RunMaterialized) LaunchSpec {
		return LaunchSpec{Cmd: []string{"true"}}
	}, ParallelUnbounded)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	h, err := r.Submit(run)
	if err != nil {
		t.Fatal(err)
	}
	h.Wait(5 * time.Second)

	rf, err := runstate.Read(run.RunDir)
	if err != nil {
		t.Fatal(err)
	}
	if rf == nil || rf.Status != runstate.StatusSucceeded {
		t.Fatalf("expected persisted succeeded RunFile, got %+v", rf)
	}
}

func TestAdmissionControlQueuesBeyondCapacity(t *testing.T) {
	runA := materializeFixtureNamed(t, "a")
	runB := materializeFixtureNamed(t, "b")

	r, err := NewLocalRunner("local", func(*materialize.RunMaterialized) LaunchSpec {
		return LaunchSpec{Cmd: []string{"sleep", "0.2"}}
	}, MaxParallel(1))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ha, err := r.Submit(runA)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := r.Submit(runB)
	if err != nil {
		t.Fatal(err)
	}

	if st := hb.Status(); st != runstate.StatusQueued {
		t.Fatalf("expected the second submission to be queued behind the first, got %q", st)
	}

	if st := ha.Wait(5 * time.Second); st != runstate.StatusSucceeded {
		t.Fatalf("run a: expected succeeded, got %q", st)
	}
	if st := hb.Wait(5 * time.Second); st != runstate.StatusSucceeded {
		t.Fatalf("run b: expected succeeded, got %q", st)
	}
}

func TestCancelQueuedRun(t *testing.T) {
	runA := materializeFixtureNamed(t, "a")
	runB := materializeFixtureNamed(t, "b")

	r, err := NewLocalRunner("local", func(*materialize.RunMaterialized) LaunchSpec {
		return LaunchSpec{Cmd: []string{"sleep", "1"}}
	}, MaxParallel(1))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	_, err = r.Submit(runA)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := r.Submit(runB)
	if err != nil {
		t.Fatal(err)
	}

	hb.Cancel(false, "no longer needed")
	st := hb.Wait(5 * time.Second)
	if st != runstate.StatusCancelled {
		t.Fatalf("expected cancelled, got %q", st)
	}
}

func TestAttachReconstructsTerminalHandle(t *testing.T) {
	run := materializeFixture(t)
	r, err := NewLocalRunner("local", func(*materialize.RunMaterialized) LaunchSpec {
		return LaunchSpec{Cmd: []string{"true"}}
	}, ParallelUnbounded)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	h, err := r.Submit(run)
	if err != nil {
		t.Fatal(err)
	}
	if st := h.Wait(5 * time.Second); st != runstate.StatusSucceeded {
		t.Fatalf("expected succeeded, got %q", st)
	}

	attached := r.Attach(run)
	if attached == nil {
		t.Fatal("expected Attach to reconstruct a handle from run.json")
	}
	if st := attached.Status(); st != runstate.StatusSucceeded {
		t.Fatalf("expected attached handle to report succeeded, got %q", st)
	}
	if rc := attached.ReturnCode(); rc == nil || *rc != 0 {
		t.Fatalf("expected attached return code 0, got %v", rc)
	}
}

func TestAttachUnknownRunReturnsNil(t *testing.T) {
	dir := t.TempDir()
	run := &materialize.RunMaterialized{RunID: "ghost", RunDir: dir}

	r, err := NewLocalRunner("local", func(*materialize.RunMaterialized) LaunchSpec {
		return LaunchSpec{Cmd: []string{"true"}}
	}, ParallelUnbounded)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if h := r.Attach(run); h != nil {
		t.Fatalf("expected nil handle for a run that was never staged, got %v", h)
	}
}

func TestAttachFinalizesDeadPIDToFailed(t *testing.T) {
	run := materializeFixtureNamed(t, "attach-dead-pid")

	r, err := NewLocalRunner("local", func(*materialize.RunMaterialized) LaunchSpec {
		return LaunchSpec{Cmd: []string{"true"}}
	}, ParallelUnbounded)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	// Simulate a prior process's run.json left in "running" state with a
	// PID that is no longer alive (PID 1 reuse is not possible to fake
	// portably, so pick a very unlikely-to-be-alive value and rely on the
	// fact any fixed large PID is vanishingly unlikely to be a live
	// process in a test sandbox).
	const deadPID = 999999
	if _, err := runstate.Evolve(run.RunDir, nowISO, func(rf *runstate.RunFile) {
		rf.Status = runstate.StatusQueued
		rf.RunnerMeta = map[string]any{}
	}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := runstate.Evolve(run.RunDir, nowISO, func(rf *runstate.RunFile) {
		rf.Status = runstate.StatusRunning
		rf.RunnerMeta["pid"] = deadPID
	}, false); err != nil {
		t.Fatal(err)
	}

	h := r.Attach(run)
	if h == nil {
		t.Fatal("expected Attach to reconstruct a handle for a running RunFile")
	}
	st := h.Status()
	if st != runstate.StatusFailed {
		t.Fatalf("expected a dead-PID running run to finalize to failed, got %q", st)
	}

	rf, err := runstate.Read(run.RunDir)
	if err != nil {
		t.Fatal(err)
	}
	if rf.UpdateReason != "pid_not_found" {
		t.Fatalf("expected update_reason pid_not_found, got %q", rf.UpdateReason)
	}
}

func materializeFixtureNamed(t *testing.T, name string) *materialize.RunMaterialized {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "proto.txt"), []byte("hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runsRoot := filepath.Join(dir, "runs")
	plan, err := runplan.New("demo-"+name, runsRoot, dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	mat, err := materialize.New(plan)
	if err != nil {
		t.Fatal(err)
	}
	result, err := mat.Run(lattice.SubstitutionMap{"x": placeholder.Str(name)})
	if err != nil {
		t.Fatal(err)
	}
	return result
}
