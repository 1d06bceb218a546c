package materialize

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/tasklattice/tasklattice/pkg/lattice"
	"github.com/tasklattice/tasklattice/pkg/placeholder"
	"github.com/tasklattice/tasklattice/pkg/runplan"
)

func setupPrototype(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`name: {{TL name = "widget"}}
`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "static.txt"), []byte("unchanged\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestRunMaterializesAndIsLoadable(t *testing.T) {
	dir := setupPrototype(t)
	runsRoot := filepath.Join(dir, "runs")

	plan, err := runplan.New("demo", runsRoot, dir, []runplan.UserRenderSpec{{Source: "config.yaml"}})
	if err != nil {
		t.Fatal(err)
	}

	mat, err := New(plan)
	if err != nil {
		t.Fatal(err)
	}

	subs := lattice.SubstitutionMap{"name": placeholder.Str("gizmo")}
	result, err := mat.Run(subs)
	if err != nil {
		t.Fatal(err)
	}

	rendered, err := os.ReadFile(filepath.Join(result.RunDir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if string(rendered) != "name: gizmo\n" {
		t.Errorf("got %q", rendered)
	}

	if _, err := os.Stat(filepath.Join(result.RunDir, "static.txt")); err != nil {
		t.Errorf("expected static.txt to be copied: %v", err)
	}

	loaded, err := Load(result.RunDir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.RunID != result.RunID {
		t.Errorf("loaded run_id %q != original %q", loaded.RunID, result.RunID)
	}
	if len(loaded.FileRecords) != 1 {
		t.Fatalf("expected 1 rendered file record, got %d", len(loaded.FileRecords))
	}
}

func TestRunRejectsExistingRunDir(t *testing.T) {
	dir := setupPrototype(t)
	runsRoot := filepath.Join(dir, "runs")

	plan, err := runplan.New("demo", runsRoot, dir, []runplan.UserRenderSpec{{Source: "config.yaml"}})
	if err != nil {
		t.Fatal(err)
	}
	mat, err := New(plan)
	if err != nil {
		t.Fatal(err)
	}

	subs := lattice.SubstitutionMap{"name": placeholder.Str("gizmo")}
	if _, err := mat.Run(subs); err != nil {
		t.Fatal(err)
	}
	if _, err := mat.Run(subs); err == nil {
		t.Fatal("expected second identical run to fail: run directory already exists")
	}
}

func TestPlanFingerprintStableAcrossRebuilds(t *testing.T) {
	dir := setupPrototype(t)
	runsRoot := filepath.Join(dir, "runs")
	plan1, err := runplan.New("demo", runsRoot, dir, []runplan.UserRenderSpec{{Source: "config.yaml"}})
	if err != nil {
		t.Fatal(err)
	}
	plan2, err := runplan.New("demo", runsRoot, dir, []runplan.UserRenderSpec{{Source: "config.yaml"}})
	if err != nil {
		t.Fatal(err)
	}
	if PlanFingerprint(plan1) != PlanFingerprint(plan2) {
		t.Error("expected identical plans to fingerprint identically")
	}
}

func TestSubsFingerprintOrderIndependent(t *testing.T) {
	a := lattice.SubstitutionMap{"x": placeholder.Int(1), "y": placeholder.Str("z")}
	b := lattice.SubstitutionMap{"y": placeholder.Str("z"), "x": placeholder.Int(1)}
	fpA, err := SubsFingerprint(a)
	if err != nil {
		t.Fatal(err)
	}
	fpB, err := SubsFingerprint(b)
	if err != nil {
		t.Fatal(err)
	}
	if fpA != fpB {
		t.Errorf("expected order-independent fingerprint, got %q vs %q", fpA, fpB)
	}
}

func TestSubsFingerprintRejectsNonFiniteFloat(t *testing.T) {
	_, err := SubsFingerprint(lattice.SubstitutionMap{"x": placeholder.Float(math.Inf(1))})
	if err == nil {
		t.Fatal("expected non-finite float rejection")
	}
}
