package materialize

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tasklattice/tasklattice/pkg/lattice"
	"github.com/tasklattice/tasklattice/pkg/runplan"
)

const (
	inputsSchema = 0
	filesSchema  = 0

	inputsBasename = "inputs.json"
	filesBasename  = "files.json"
)

func metaDir(runDir string) string { return filepath.Join(runDir, runplan.MetadataDir) }

type inputsDoc struct {
	Schema          int            `json:"schema"`
	PlanFingerprint string         `json:"plan_fingerprint"`
	SubsFingerprint string         `json:"subs_fingerprint"`
	Params          map[string]any `json:"params"`
}

func writeInputsJSON(runDir string, subs lattice.SubstitutionMap, planFP, subsFP string) error {
	dir := metaDir(runDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	params := make(map[string]any, len(subs))
	for k, v := range subs {
		scalar, err := toJSONScalar(v)
		if err != nil {
			return err
		}
		params[string(k)] = scalar
	}

	doc := inputsDoc{Schema: inputsSchema, PlanFingerprint: planFP, SubsFingerprint: subsFP, Params: params}
	blob, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	blob = append(blob, '\n')

	return atomicWriteFile(filepath.Join(dir, inputsBasename), blob)
}

type fileRecordJSON struct {
	TargetRelPath string  `json:"target_relpath"`
	SourceRelPath *string `json:"source_relpath"`
	WasRendered   bool    `json:"was_rendered"`
	SizeBytes     *int64  `json:"size_bytes"`
	SHA256        *string `json:"sha256"`
}

// writeFilesJSON writes files.json as the JSON array spec.md 6 mandates:
// a leading {"schema": int} marker element followed by one object per
// tracked file, matching original_source's _write_files_json_streaming.
// See DESIGN.md Open Question #5 for why Load treats element 0 specially.
func writeFilesJSON(runDir string, records []FileRecord) error {
	dir := metaDir(runDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	elements := make([]any, 0, len(records)+1)
	elements = append(elements, map[string]any{"schema": filesSchema})
	for _, r := range records {
		var srcPtr *string
		if r.SourceRelPath != "" {
			s := r.SourceRelPath
			srcPtr = &s
		}
		elements = append(elements, fileRecordJSON{
			TargetRelPath: r.TargetRelPath,
			SourceRelPath: srcPtr,
			WasRendered:   r.WasRendered,
			SizeBytes:     r.SizeBytes,
			SHA256:        r.SHA256,
		})
	}

	blob, err := json.Marshal(elements)
	if err != nil {
		return err
	}
	blob = append(blob, '\n')

	path := filepath.Join(dir, filesBasename)
	if err := atomicWriteFile(path, blob); err != nil {
		return err
	}
	fsyncDirBestEffort(dir)
	return nil
}

// atomicWriteFile writes data to a ".tmp" sibling of path, fsyncs it, then
// renames it into place (spec.md 4.I/4.J's write-to-temp + fsync + rename
// contract, shared with pkg/runstate).
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// fsyncDirBestEffort fsyncs a directory's entry metadata on platforms that
// support it (POSIX); failures are ignored, matching original_source's
// materialize.py try/except around os.fsync(dir_fd).
func fsyncDirBestEffort(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	defer f.Close()
	_ = f.Sync()
}
