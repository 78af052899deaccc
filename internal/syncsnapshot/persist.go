package syncsnapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/codeindex-dev/codeindex/internal/changedetect"
	"github.com/codeindex-dev/codeindex/internal/errs"
)

// persistedState is the on-disk shape of one FileSyncSnapshot entry:
// relative_path -> (size, mtime_ms, content_hash?).
type persistedState struct {
	Size        int64  `json:"size"`
	MtimeMS     int64  `json:"mtime_ms"`
	ContentHash string `json:"content_hash,omitempty"`
}

// Save persists snap as a relative_path -> state JSON map at path,
// creating parent directories as needed.
func Save(path string, snap Snapshot) error {
	m := make(map[string]persistedState, len(snap.Files))
	for _, f := range snap.Files {
		m[f.RelativePath] = persistedState{Size: f.Size, MtimeMS: f.MtimeMS, ContentHash: f.ContentHash}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindInvariant, "syncsnapshot.marshal", "failed to marshal snapshot", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.KindIO, "syncsnapshot.mkdir", "failed to create snapshot directory", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.KindIO, "syncsnapshot.write", "failed to write snapshot file", err)
	}
	return nil
}

// Load reads the snapshot file at path. A missing file is treated as an
// empty prior snapshot, not an error, so a first-ever run of C7 classifies
// every current file as added.
func Load(path string) ([]changedetect.FileState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindIO, "syncsnapshot.read", "failed to read snapshot file", err)
	}

	var m map[string]persistedState
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "syncsnapshot.unmarshal", "failed to parse snapshot file", err)
	}

	files := make([]changedetect.FileState, 0, len(m))
	for path, st := range m {
		files = append(files, changedetect.FileState{
			RelativePath: path,
			Size:         st.Size,
			MtimeMS:      st.MtimeMS,
			ContentHash:  st.ContentHash,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RelativePath < files[j].RelativePath })
	return files, nil
}
