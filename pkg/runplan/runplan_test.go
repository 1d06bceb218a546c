package runplan

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, rel string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml")

	p, err := New("demo", filepath.Join(dir, "runs"), dir, []UserRenderSpec{{Source: "config.yaml"}})
	if err != nil {
		t.Fatal(err)
	}
	if p.LinkMode != LinkCopy {
		t.Errorf("expected default link mode copy, got %s", p.LinkMode)
	}
	if p.Newline != "\n" || !p.EnsureTrailingNewline {
		t.Errorf("expected default newline policy, got %q %v", p.Newline, p.EnsureTrailingNewline)
	}
	if len(p.RenderFiles) != 1 || p.RenderFiles[0].TargetRelPath != "config.yaml" {
		t.Errorf("unexpected render files: %+v", p.RenderFiles)
	}
}

func TestNewRejectsMissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := New("demo", filepath.Join(dir, "runs"), dir, []UserRenderSpec{{Source: "missing.yaml"}})
	if err == nil {
		t.Fatal("expected missing source error")
	}
}

func TestNewRejectsDuplicateTargets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml")
	writeFile(t, dir, "b.yaml")
	_, err := New("demo", filepath.Join(dir, "runs"), dir, []UserRenderSpec{
		{Source: "a.yaml", Target: "out.yaml"},
		{Source: "b.yaml", Target: "out.yaml"},
	})
	if err == nil {
		t.Fatal("expected duplicate target error")
	}
}

func TestNewRejectsReservedPrefix(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml")
	_, err := New("demo", filepath.Join(dir, "runs"), dir, []UserRenderSpec{
		{Source: "a.yaml", Target: "_tl/a.yaml"},
	})
	if err == nil {
		t.Fatal("expected reserved-prefix rejection")
	}
}

func TestNewRejectsParentTraversal(t *testing.T) {
	dir := t.TempDir()
	_, err := New("demo", filepath.Join(dir, "runs"), dir, []UserRenderSpec{
		{Source: "../outside.yaml"},
	})
	if err == nil {
		t.Fatal("expected '..' rejection")
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml")
	p, err := New("demo", filepath.Join(dir, "runs"), dir, []UserRenderSpec{{Source: "a.yaml"}},
		WithLinkMode(LinkSymlink),
		WithNewline("\r\n", false),
		WithExcludeGlobs([]string{"custom/**"}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if p.LinkMode != LinkSymlink {
		t.Errorf("got %s", p.LinkMode)
	}
	if p.Newline != "\r\n" || p.EnsureTrailingNewline {
		t.Errorf("got %q %v", p.Newline, p.EnsureTrailingNewline)
	}
	if len(p.ExcludeGlobs) != 1 || p.ExcludeGlobs[0] != "custom/**" {
		t.Errorf("got %v", p.ExcludeGlobs)
	}
}
