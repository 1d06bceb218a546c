package materialize

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads back an existing, fully materialized run directory (the
// SUPPLEMENTED load_materialized feature from original_source, since
// inputs.json + a completed files.json are the authoritative proof a run
// finished materializing).
func Load(runDir string) (*RunMaterialized, error) {
	info, err := os.Stat(runDir)
	if err != nil {
		return nil, fmt.Errorf("materialize: run directory does not exist: %s", runDir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("materialize: not a directory: %s", runDir)
	}

	ip := filepath.Join(metaDir(runDir), inputsBasename)
	inputsBlob, err := os.ReadFile(ip)
	if err != nil {
		return nil, fmt.Errorf("materialize: not a materialized run (missing %s)", ip)
	}
	var inputs inputsDoc
	if err := json.Unmarshal(inputsBlob, &inputs); err != nil {
		return nil, fmt.Errorf("materialize: corrupt inputs.json at %s: %w", ip, err)
	}
	if inputs.PlanFingerprint == "" || inputs.SubsFingerprint == "" {
		return nil, fmt.Errorf("materialize: malformed inputs.json at %s: missing fingerprints", ip)
	}
	runID := MakeRunID(inputs.PlanFingerprint, inputs.SubsFingerprint)

	fp := filepath.Join(metaDir(runDir), filesBasename)
	filesBlob, err := os.ReadFile(fp)
	if err != nil {
		return nil, fmt.Errorf("materialize: run is not fully materialized (missing %s)", fp)
	}
	var rawElements []json.RawMessage
	if err := json.Unmarshal(filesBlob, &rawElements); err != nil {
		return nil, fmt.Errorf("materialize: corrupt files.json at %s: %w", fp, err)
	}
	if len(rawElements) == 0 {
		return nil, fmt.Errorf("materialize: malformed files.json at %s: missing schema marker", fp)
	}
	// Element 0 is the {"schema": int} marker (spec.md 6); the rest are
	// file records.
	items := make([]fileRecordJSON, 0, len(rawElements)-1)
	for _, raw := range rawElements[1:] {
		var item fileRecordJSON
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("materialize: corrupt files.json entry at %s: %w", fp, err)
		}
		items = append(items, item)
	}

	seen := make(map[string]struct{}, len(items))
	records := make([]FileRecord, 0, len(items))
	for i, item := range items {
		if item.TargetRelPath == "" {
			return nil, fmt.Errorf("materialize: malformed files.json entry #%d: missing target_relpath", i)
		}
		if _, dup := seen[item.TargetRelPath]; dup {
			return nil, fmt.Errorf("materialize: duplicate target_relpath in files.json: %q", item.TargetRelPath)
		}
		seen[item.TargetRelPath] = struct{}{}

		targetAbs := filepath.Join(runDir, filepath.FromSlash(item.TargetRelPath))
		if _, err := os.Stat(targetAbs); err != nil {
			return nil, fmt.Errorf("materialize: files.json references missing file: %s", targetAbs)
		}

		var src string
		if item.SourceRelPath != nil {
			src = *item.SourceRelPath
		}
		records = append(records, FileRecord{
			TargetRelPath: item.TargetRelPath,
			SourceRelPath: src,
			WasRendered:   item.WasRendered,
			SizeBytes:     item.SizeBytes,
			SHA256:        item.SHA256,
		})
	}

	return &RunMaterialized{
		RunID:           runID,
		RunDir:          runDir,
		PlanFingerprint: inputs.PlanFingerprint,
		SubsFingerprint: inputs.SubsFingerprint,
		FileRecords:     records,
	}, nil
}
