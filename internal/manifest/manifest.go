// Package manifest persists and cross-checks the per-codebase Manifest
// record every pipeline or query-executor entry point binds against:
// codebase root, collection name, index mode, and where local snapshots
// live. A mismatch against the persisted manifest is a fatal, user-visible
// error rather than a silent overwrite.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/codeindex-dev/codeindex/internal/errs"
	"github.com/codeindex-dev/codeindex/internal/vectorstore"
)

// SnapshotStorageMode determines where local snapshots (vector kernel and
// file-sync) are persisted.
type SnapshotStorageMode string

const (
	SnapshotStorageDisabled SnapshotStorageMode = "disabled"
	SnapshotStorageProject  SnapshotStorageMode = "project"
	SnapshotStorageCustom   SnapshotStorageMode = "custom"
)

// Manifest is the per-codebase record bound at collection creation and
// cross-checked on every subsequent operation against that codebase.
type Manifest struct {
	CodebaseRoot    string              `json:"codebaseRoot"`
	CollectionName  string              `json:"collectionName"`
	IndexMode       vectorstore.IndexMode `json:"indexMode"`
	SnapshotStorage SnapshotStorageMode `json:"snapshotStorage"`
	// SnapshotPath is the absolute path snapshots are written under when
	// SnapshotStorage is custom. Empty for disabled/project.
	SnapshotPath string `json:"snapshotPath,omitempty"`
}

// fileName is the manifest's fixed name under a storage root, per
// spec.md's <storage_root>/manifest.json layout.
const fileName = "manifest.json"

// path returns the manifest file path for a given storage root.
func path(storageRoot string) string {
	return filepath.Join(storageRoot, fileName)
}

// Path returns the manifest file path for a given storage root, for
// callers that need to report or remove it directly.
func Path(storageRoot string) string {
	return path(storageRoot)
}

// Load reads the manifest at storageRoot. A missing file returns
// (nil, nil): no manifest has ever been written there.
func Load(storageRoot string) (*Manifest, error) {
	data, err := os.ReadFile(path(storageRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindIO, "manifest.read", "failed to read manifest", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "manifest.unmarshal", "failed to parse manifest", err)
	}
	return &m, nil
}

// Save persists m at storageRoot, creating the directory if needed.
func Save(storageRoot string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindInvariant, "manifest.marshal", "failed to marshal manifest", err)
	}
	if err := os.MkdirAll(storageRoot, 0o755); err != nil {
		return errs.Wrap(errs.KindIO, "manifest.mkdir", "failed to create storage root", err)
	}
	if err := os.WriteFile(path(storageRoot), data, 0o644); err != nil {
		return errs.Wrap(errs.KindIO, "manifest.write", "failed to write manifest", err)
	}
	return nil
}

// EnsureConsistent binds want against whatever manifest already exists at
// storageRoot. If none exists, want is persisted as the codebase's first
// binding. If one exists and disagrees with want on any field, it returns
// an invalid_input error describing the mismatch rather than silently
// reinterpreting the collection under new settings.
func EnsureConsistent(storageRoot string, want Manifest) error {
	existing, err := Load(storageRoot)
	if err != nil {
		return err
	}
	if existing == nil {
		return Save(storageRoot, want)
	}

	if mismatch := diff(*existing, want); mismatch != "" {
		return errs.New(errs.KindInvalidInput, "manifest.mismatch", mismatch).
			WithMetadata("storage_root", storageRoot)
	}
	return nil
}

func diff(existing, want Manifest) string {
	switch {
	case existing.CodebaseRoot != want.CodebaseRoot:
		return "manifest codebase_root mismatch: expected " + existing.CodebaseRoot + ", got " + want.CodebaseRoot
	case existing.CollectionName != want.CollectionName:
		return "manifest collection_name mismatch: expected " + existing.CollectionName + ", got " + want.CollectionName
	case existing.IndexMode != want.IndexMode:
		return "manifest index_mode mismatch: expected " + string(existing.IndexMode) + ", got " + string(want.IndexMode)
	case existing.SnapshotStorage != want.SnapshotStorage:
		return "manifest snapshot_storage mismatch: expected " + string(existing.SnapshotStorage) + ", got " + string(want.SnapshotStorage)
	case existing.SnapshotStorage == SnapshotStorageCustom && existing.SnapshotPath != want.SnapshotPath:
		return "manifest snapshot_path mismatch: expected " + existing.SnapshotPath + ", got " + want.SnapshotPath
	default:
		return ""
	}
}
