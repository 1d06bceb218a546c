package sweep

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tasklattice/tasklattice/pkg/lattice"
)

func writePrototype(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "run.sh"), []byte("#!/bin/sh\necho hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	doc := "apiVersion: tasklattice/sweep/v1\nname: x\nbogus_field: 1\nops: []\n"
	_, err := Load(strings.NewReader(doc))
	if err == nil {
		t.Fatal("expected an error for an unknown top-level field")
	}
}

func TestValidateRejectsMissingLeadingSeed(t *testing.T) {
	cfg := &Config{
		APIVersion: "tasklattice/sweep/v1",
		Name:       "x",
		Ops:        []Op{{Kind: OpConst, Values: map[string]any{"a": 1}}},
	}
	errs := validateDomain(cfg)
	if len(errs) == 0 {
		t.Fatal("expected a domain error when the first op is not seed")
	}
}

func TestCompileProductExpandsVariants(t *testing.T) {
	proto := writePrototype(t)
	cfg := &Config{
		APIVersion:   "tasklattice/sweep/v1",
		Name:         "demo",
		PrototypeDir: proto,
		RunsRoot:     filepath.Join(proto, "runs"),
		Ops: []Op{
			{Kind: OpSeed, Values: map[string]any{"mode": "fast"}},
			{Kind: OpProduct, Name: "seed", Variants: []any{1, 2, 3}},
		},
	}

	_, lat, err := Compile(cfg)
	if err != nil {
		t.Fatal(err)
	}
	var maps []lattice.SubstitutionMap
	if err := lat.Each(func(m lattice.SubstitutionMap) (bool, error) {
		maps = append(maps, m)
		return true, nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(maps) != 3 {
		t.Fatalf("expected 3 variants, got %d", len(maps))
	}
	for _, m := range maps {
		if m["mode"].S != "fast" {
			t.Fatalf("expected seed default to survive, got %+v", m)
		}
	}
}

func TestCompileFilterNarrowsVariants(t *testing.T) {
	proto := writePrototype(t)
	cfg := &Config{
		APIVersion:   "tasklattice/sweep/v1",
		Name:         "demo",
		PrototypeDir: proto,
		RunsRoot:     filepath.Join(proto, "runs"),
		Ops: []Op{
			{Kind: OpSeed, Values: map[string]any{}},
			{Kind: OpProduct, Name: "seed", Variants: []any{1, 2, 3, 4}},
			{Kind: OpFilter, Expr: "seed % 2 == 0"},
		},
	}

	_, lat, err := Compile(cfg)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	if err := lat.Each(func(m lattice.SubstitutionMap) (bool, error) {
		n++
		return true, nil
	}); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 even variants, got %d", n)
	}
}

func TestCompileRejectsNonSeedFirstOp(t *testing.T) {
	proto := writePrototype(t)
	cfg := &Config{
		APIVersion:   "tasklattice/sweep/v1",
		Name:         "demo",
		PrototypeDir: proto,
		RunsRoot:     filepath.Join(proto, "runs"),
		Ops:          []Op{{Kind: OpConst, Values: map[string]any{"a": 1}}},
	}
	if _, _, err := Compile(cfg); err == nil {
		t.Fatal("expected an error when ops does not open with seed")
	}
}

func TestValidateSemanticRejectsUnknownKind(t *testing.T) {
	cfg := &Config{
		APIVersion:   "tasklattice/sweep/v1",
		Name:         "demo",
		PrototypeDir: "/tmp",
		RunsRoot:     "/tmp/runs",
		Ops:          []Op{{Kind: "not_a_real_kind"}},
	}
	errs := Validate(cfg)
	if len(errs) == 0 {
		t.Fatal("expected validation errors for an unrecognized op kind")
	}
}
