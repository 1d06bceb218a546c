// Package runplan implements declarative run-plan construction (component
// H): normalizing user inputs into an immutable RunPlan, validating render
// sources against the prototype directory and rejecting duplicate or
// reserved render targets.
//
// Grounded on original_source/src/tasklattice/run/plan.py and
// constants.py for the exact default globs, metadata-directory name, and
// validation order.
package runplan

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MetadataDir is the reserved directory name under every run directory
// holding materialization and run-state metadata (constants.py's
// RUN_METADATA_DIR).
const MetadataDir = "_tl"

// LinkMode selects how prototype files are materialized into a run
// directory.
type LinkMode string

const (
	LinkCopy     LinkMode = "copy"
	LinkSymlink  LinkMode = "symlink"
	LinkHardlink LinkMode = "hardlink"
)

// DefaultExcludeGlobs are applied after DefaultIncludeGlobs and skip VCS
// directories, common OS cruft, and the metadata directory itself.
var DefaultExcludeGlobs = []string{
	".git/**",
	".hg/**",
	".svn/**",
	"__pycache__/**",
	".DS_Store",
	"Thumbs.db",
	MetadataDir + "/**",
}

// DefaultIncludeGlobs copies the entire prototype tree by default.
var DefaultIncludeGlobs = []string{"**/*"}

// RenderSpec names one prototype file to render, and where its rendered
// output lands relative to the run directory.
type RenderSpec struct {
	SourceRelPath string // POSIX-style, relative to the prototype directory
	TargetRelPath string // defaults to SourceRelPath
	Encoding      string
	Mode          os.FileMode
}

// UserRenderSpec is either a bare relative path (source == target) or an
// explicit (source, target) pair, as accepted from configuration.
type UserRenderSpec struct {
	Source string
	Target string // "" means "same as Source"
}

func normalizeRelPath(p string) (string, error) {
	s := filepath.ToSlash(p)
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") {
		return "", fmt.Errorf("runplan: path must be relative, got %q", p)
	}
	if len(s) >= 2 && s[1] == ':' {
		return "", fmt.Errorf("runplan: path must be relative, got %q", p)
	}
	var parts []string
	for _, seg := range strings.Split(s, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("runplan: path may not contain '..': %q", p)
		default:
			parts = append(parts, seg)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("runplan: path may not be empty")
	}
	return strings.Join(parts, "/"), nil
}

func constructRenderSpec(prototypeDir string, item UserRenderSpec) (RenderSpec, error) {
	srcRel, err := normalizeRelPath(item.Source)
	if err != nil {
		return RenderSpec{}, err
	}
	tgtSource := item.Target
	if tgtSource == "" {
		tgtSource = item.Source
	}
	tgtRel, err := normalizeRelPath(tgtSource)
	if err != nil {
		return RenderSpec{}, err
	}

	srcAbs := filepath.Join(prototypeDir, filepath.FromSlash(srcRel))
	info, err := os.Stat(srcAbs)
	if err != nil {
		return RenderSpec{}, fmt.Errorf("runplan: source path doesn't exist: %s", srcAbs)
	}
	if info.IsDir() {
		return RenderSpec{}, fmt.Errorf("runplan: source path is a directory, not a file: %s", srcAbs)
	}

	return RenderSpec{SourceRelPath: srcRel, TargetRelPath: tgtRel, Encoding: "utf-8", Mode: 0o644}, nil
}

// RunPlan is the immutable, validated description of one materialization
// target (spec.md 4.H). Construct with New; the zero value is invalid.
type RunPlan struct {
	Name          string
	RunsRoot      string // absolute
	PrototypeDir  string // absolute, existing directory

	RenderFiles []RenderSpec

	LinkMode LinkMode

	IncludeGlobs []string
	ExcludeGlobs []string

	Newline                string // "" means "leave as produced by renderer"
	EnsureTrailingNewline  bool

	PostRunPruneGlobs []string

	Meta map[string]any
}

// Option configures optional New fields; all have spec-mandated defaults.
type Option func(*RunPlan)

func WithLinkMode(m LinkMode) Option { return func(p *RunPlan) { p.LinkMode = m } }
func WithIncludeGlobs(globs []string) Option {
	return func(p *RunPlan) { p.IncludeGlobs = append([]string(nil), globs...) }
}
func WithExcludeGlobs(globs []string) Option {
	return func(p *RunPlan) { p.ExcludeGlobs = append([]string(nil), globs...) }
}
func WithNewline(nl string, ensureTrailing bool) Option {
	return func(p *RunPlan) { p.Newline = nl; p.EnsureTrailingNewline = ensureTrailing }
}
func WithPostRunPruneGlobs(globs []string) Option {
	return func(p *RunPlan) { p.PostRunPruneGlobs = append([]string(nil), globs...) }
}
func WithMeta(meta map[string]any) Option {
	return func(p *RunPlan) {
		p.Meta = make(map[string]any, len(meta))
		for k, v := range meta {
			p.Meta[k] = v
		}
	}
}

// New constructs and validates a RunPlan: resolves runsRoot and
// prototypeDir to absolute paths (the latter must already exist), builds
// each RenderSpec against the prototype directory, and rejects duplicate
// or reserved-prefix render targets (spec.md 4.H).
func New(name, runsRoot, prototypeDir string, renderFiles []UserRenderSpec, opts ...Option) (*RunPlan, error) {
	absRunsRoot, err := filepath.Abs(runsRoot)
	if err != nil {
		return nil, fmt.Errorf("runplan: normalize runs_root: %w", err)
	}

	absPrototypeDir, err := filepath.Abs(prototypeDir)
	if err != nil {
		return nil, fmt.Errorf("runplan: normalize prototype_dir: %w", err)
	}
	info, err := os.Stat(absPrototypeDir)
	if err != nil {
		return nil, fmt.Errorf("runplan: prototype_dir does not exist: %s", absPrototypeDir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("runplan: prototype_dir is not a directory: %s", absPrototypeDir)
	}

	specs := make([]RenderSpec, 0, len(renderFiles))
	for _, item := range renderFiles {
		rs, err := constructRenderSpec(absPrototypeDir, item)
		if err != nil {
			return nil, err
		}
		specs = append(specs, rs)
	}

	if err := validateTargets(specs); err != nil {
		return nil, err
	}

	plan := &RunPlan{
		Name:                  name,
		RunsRoot:              absRunsRoot,
		PrototypeDir:          absPrototypeDir,
		RenderFiles:           specs,
		LinkMode:              LinkCopy,
		IncludeGlobs:          append([]string(nil), DefaultIncludeGlobs...),
		ExcludeGlobs:          append([]string(nil), DefaultExcludeGlobs...),
		Newline:               "\n",
		EnsureTrailingNewline: true,
		Meta:                  map[string]any{},
	}
	for _, o := range opts {
		o(plan)
	}
	return plan, nil
}

func validateTargets(specs []RenderSpec) error {
	counts := make(map[string]int, len(specs))
	for _, rs := range specs {
		counts[rs.TargetRelPath]++
	}
	var dupes []string
	for t, n := range counts {
		if n > 1 {
			dupes = append(dupes, t)
		}
	}
	if len(dupes) > 0 {
		sort.Strings(dupes)
		return fmt.Errorf("runplan: duplicate render targets: %v", dupes)
	}
	for _, rs := range specs {
		if rs.TargetRelPath == MetadataDir || strings.HasPrefix(rs.TargetRelPath, MetadataDir+"/") {
			return fmt.Errorf("runplan: render targets may not write under the reserved prefix %q: %s", MetadataDir, rs.TargetRelPath)
		}
	}
	return nil
}
