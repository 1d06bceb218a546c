// Package materialize implements the atomic Materializer (component I):
// stage a run directory from a prototype tree plus a SubstitutionMap,
// render declared templates into it, and atomically publish it with a
// manifest and provenance metadata.
//
// Grounded on original_source/src/tasklattice/run/materialize.py, the
// single most detailed file in the original implementation for this
// component.
package materialize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tasklattice/tasklattice/pkg/lattice"
	"github.com/tasklattice/tasklattice/pkg/placeholder"
	"github.com/tasklattice/tasklattice/pkg/profile"
	"github.com/tasklattice/tasklattice/pkg/render"
	"github.com/tasklattice/tasklattice/pkg/runplan"
	"github.com/tasklattice/tasklattice/pkg/tlsource"
	"github.com/tasklattice/tasklattice/pkg/tmpl"
)

// hashChunkSize is the streaming SHA-256 read size (spec.md 4.I).
const hashChunkSize = 1024 * 1024

// FileRecord describes one file present in a materialized run directory.
type FileRecord struct {
	TargetRelPath string
	SourceRelPath string // "" for copies whose relpath wasn't tracked separately
	WasRendered   bool
	SizeBytes     *int64
	SHA256        *string
}

// RunMaterialized is the immutable description of one realized run
// directory (spec.md 4.I).
type RunMaterialized struct {
	RunID           string
	RunDir          string
	PlanFingerprint string
	SubsFingerprint string
	FileRecords     []FileRecord
}

// Option configures a Materializer.
type Option func(*Materializer)

func WithStaging(s StagingBackend) Option       { return func(m *Materializer) { m.staging = s } }
func WithIndexCopied(b bool) Option             { return func(m *Materializer) { m.indexCopied = b } }
func WithHashRendered(b bool) Option            { return func(m *Materializer) { m.hashRendered = b } }
func WithHashCopied(b bool) Option              { return func(m *Materializer) { m.hashCopied = b } }

// Materializer materializes run directories for a fixed RunPlan, caching
// each render target's parsed Template and inferred Profile so repeated
// Run calls avoid re-reading and re-parsing prototype files.
type Materializer struct {
	plan *runplan.RunPlan

	staging      StagingBackend
	indexCopied  bool
	hashRendered bool
	hashCopied   bool

	templates map[runplan.RenderSpec]*tmpl.Template
	profiles  map[runplan.RenderSpec]profile.Profile
	denySet   map[string]struct{}
}

// New preloads and parses every declared render target's template.
func New(plan *runplan.RunPlan, opts ...Option) (*Materializer, error) {
	m := &Materializer{
		plan:         plan,
		staging:      DefaultStaging{},
		hashRendered: true,
		templates:    map[runplan.RenderSpec]*tmpl.Template{},
		profiles:     map[runplan.RenderSpec]profile.Profile{},
		denySet:      map[string]struct{}{},
	}
	for _, o := range opts {
		o(m)
	}

	for _, rs := range plan.RenderFiles {
		srcAbs := filepath.Join(plan.PrototypeDir, filepath.FromSlash(rs.SourceRelPath))
		text, err := os.ReadFile(srcAbs)
		if err != nil {
			return nil, fmt.Errorf("materialize: template not found: %s: %w", rs.SourceRelPath, err)
		}
		src, err := tlsource.New(tlsource.Origin{File: srcAbs}, string(text))
		if err != nil {
			return nil, err
		}
		tp, err := tmpl.Build(src)
		if err != nil {
			return nil, err
		}
		m.templates[rs] = tp

		prof, err := profile.Default(rs.SourceRelPath)
		if err != nil {
			return nil, err
		}
		m.profiles[rs] = prof

		m.denySet[rs.TargetRelPath] = struct{}{}
	}
	return m, nil
}

// Run materializes exactly one run directory for subs.
func (m *Materializer) Run(subs lattice.SubstitutionMap) (*RunMaterialized, error) {
	planFP := PlanFingerprint(m.plan)
	subsFP, err := SubsFingerprint(subs)
	if err != nil {
		return nil, err
	}
	runID := MakeRunID(planFP, subsFP)

	finalDir := m.staging.FinalDir(m.plan.RunsRoot, runID)
	if _, err := os.Stat(finalDir); err == nil {
		return nil, fmt.Errorf("materialize: run directory already exists: %s", finalDir)
	}

	tmpDir, err := m.staging.TempDir(m.plan.RunsRoot, runID)
	if err != nil {
		return nil, err
	}

	if err := copyTree(m.plan.PrototypeDir, tmpDir, m.plan.IncludeGlobs, m.plan.ExcludeGlobs, m.denySet, m.plan.LinkMode); err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, err
	}

	var records []FileRecord
	for rs, tp := range m.templates {
		prof := m.profiles[rs]
		text, warnings, err := render.Render(tp, toRenderSubs(subs), prof)
		_ = warnings // callers needing warnings should use Render directly
		if err != nil {
			_ = os.RemoveAll(tmpDir)
			return nil, fmt.Errorf("materialize: render %s: %w", rs.SourceRelPath, err)
		}

		text = applyNewlinePolicy(text, m.plan)

		dstAbs := filepath.Join(tmpDir, filepath.FromSlash(rs.TargetRelPath))
		if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
			_ = os.RemoveAll(tmpDir)
			return nil, err
		}
		if err := os.WriteFile(dstAbs, []byte(text), rs.Mode); err != nil {
			_ = os.RemoveAll(tmpDir)
			return nil, err
		}

		info, err := os.Stat(dstAbs)
		if err != nil {
			_ = os.RemoveAll(tmpDir)
			return nil, err
		}
		size := info.Size()
		var sha *string
		if m.hashRendered {
			s, err := sha256File(dstAbs)
			if err != nil {
				_ = os.RemoveAll(tmpDir)
				return nil, err
			}
			sha = &s
		}
		records = append(records, FileRecord{
			TargetRelPath: rs.TargetRelPath,
			SourceRelPath: rs.SourceRelPath,
			WasRendered:   true,
			SizeBytes:     &size,
			SHA256:        sha,
		})
	}

	if err := m.staging.Finalize(tmpDir, finalDir); err != nil {
		return nil, err
	}

	if err := writeInputsJSON(finalDir, subs, planFP, subsFP); err != nil {
		return nil, err
	}

	if m.indexCopied {
		copied, err := indexCopiedFiles(finalDir, m.plan.IncludeGlobs, m.plan.ExcludeGlobs, m.denySet, m.hashCopied)
		if err != nil {
			return nil, err
		}
		records = append(records, copied...)
	}

	if err := writeFilesJSON(finalDir, records); err != nil {
		return nil, err
	}

	return &RunMaterialized{
		RunID:           runID,
		RunDir:          finalDir,
		PlanFingerprint: planFP,
		SubsFingerprint: subsFP,
		FileRecords:     records,
	}, nil
}

func toRenderSubs(subs lattice.SubstitutionMap) map[placeholder.Name]placeholder.Value {
	out := make(map[placeholder.Name]placeholder.Value, len(subs))
	for k, v := range subs {
		out[k] = v
	}
	return out
}

func applyNewlinePolicy(text string, plan *runplan.RunPlan) string {
	if plan.Newline == "" {
		return text
	}
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	if plan.Newline != "\n" {
		normalized = strings.ReplaceAll(normalized, "\n", plan.Newline)
	}
	if plan.EnsureTrailingNewline && !strings.HasSuffix(normalized, plan.Newline) {
		normalized += plan.Newline
	}
	return normalized
}

// PlanFingerprint hashes the plan knobs that affect on-disk results,
// independent of substitutions (spec.md 4.I).
func PlanFingerprint(plan *runplan.RunPlan) string {
	type pair struct{ Source, Target string }
	pairs := make([]pair, len(plan.RenderFiles))
	for i, rs := range plan.RenderFiles {
		pairs[i] = pair{rs.SourceRelPath, rs.TargetRelPath}
	}
	payload := map[string]any{
		"include":                 plan.IncludeGlobs,
		"exclude":                 plan.ExcludeGlobs,
		"newline":                 plan.Newline,
		"ensure_trailing_newline": plan.EnsureTrailingNewline,
		"link_mode":               string(plan.LinkMode),
		"render_pairs":            pairs,
	}
	return hashStable(payload)
}

// SubsFingerprint hashes subs order-independently: (key, value) pairs
// sorted by string-form key (spec.md 4.I). Non-finite floats are rejected
// so the fingerprint always maps to valid JSON.
func SubsFingerprint(subs lattice.SubstitutionMap) (string, error) {
	keys := make([]string, 0, len(subs))
	for k := range subs {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	items := make([][2]any, 0, len(keys))
	for _, k := range keys {
		scalar, err := toJSONScalar(subs[placeholder.Name(k)])
		if err != nil {
			return "", err
		}
		items = append(items, [2]any{k, scalar})
	}
	return hashStable(items), nil
}

func hashStable(obj any) string {
	blob, err := json.Marshal(obj)
	if err != nil {
		// payload is always built from primitive slices/maps/strings here
		panic(fmt.Sprintf("materialize: unhashable fingerprint payload: %v", err))
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])[:12]
}

// MakeRunID composes the final run_id from the plan/subs fingerprints.
func MakeRunID(planFP, subsFP string) string { return planFP + "-" + subsFP }

func toJSONScalar(v placeholder.Value) (any, error) {
	switch v.Kind {
	case placeholder.KindStr:
		return v.S, nil
	case placeholder.KindInt:
		return v.I, nil
	case placeholder.KindBool:
		return v.B, nil
	case placeholder.KindFloat:
		if math.IsNaN(v.F) || math.IsInf(v.F, 0) {
			return nil, fmt.Errorf("materialize: non-finite float not allowed in inputs.json: %v", v.F)
		}
		return v.F, nil
	default:
		return nil, fmt.Errorf("materialize: unsupported parameter value kind %q", v.Kind)
	}
}

func copyTree(src, dst string, include, exclude []string, deny map[string]struct{}, mode runplan.LinkMode) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		relposix := filepath.ToSlash(rel)
		if !passesIncludeExclude(relposix, include, exclude) {
			return nil
		}
		if _, denied := deny[relposix]; denied {
			return nil
		}

		dstFile := filepath.Join(dst, filepath.FromSlash(relposix))
		if err := os.MkdirAll(filepath.Dir(dstFile), 0o755); err != nil {
			return err
		}
		return linkOrCopy(path, dstFile, mode)
	})
}

func linkOrCopy(src, dst string, mode runplan.LinkMode) error {
	switch mode {
	case runplan.LinkSymlink:
		_ = os.Remove(dst)
		if err := os.Symlink(src, dst); err == nil {
			return nil
		}
		return copyFile(src, dst)
	case runplan.LinkHardlink:
		_ = os.Remove(dst)
		if err := os.Link(src, dst); err == nil {
			return nil
		}
		return copyFile(src, dst)
	default:
		return copyFile(src, dst)
	}
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func indexCopiedFiles(root string, include, exclude []string, deny map[string]struct{}, hashFiles bool) ([]FileRecord, error) {
	var out []FileRecord
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relposix := filepath.ToSlash(rel)
		if !passesIncludeExclude(relposix, include, exclude) {
			return nil
		}
		if _, denied := deny[relposix]; denied {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		size := info.Size()
		var sha *string
		if hashFiles {
			s, err := sha256File(path)
			if err != nil {
				return err
			}
			sha = &s
		}
		out = append(out, FileRecord{
			TargetRelPath: relposix,
			SourceRelPath: relposix,
			WasRendered:   false,
			SizeBytes:     &size,
			SHA256:        sha,
		})
		return nil
	})
	return out, err
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
