// Package syncsnapshot walks a codebase root into the FileSyncSnapshot
// changedetect consumes, applying gitignore-style exclusion rules and the
// sync config's extension, size, and count bounds.
package syncsnapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/codeindex-dev/codeindex/internal/changedetect"
	"github.com/codeindex-dev/codeindex/internal/config"
	"github.com/codeindex-dev/codeindex/internal/errs"
)

// alwaysSkipDirs are directories a scan never descends into, regardless
// of ignore rules, the way defaultSkipDirs does for a naive tree walk.
var alwaysSkipDirs = map[string]bool{
	".git": true,
}

// Snapshot is one scan's result: the file states changedetect.Detect
// compares against a prior run, and whether sync.max_files cut it short.
type Snapshot struct {
	Files     []changedetect.FileState
	Truncated bool
}

// Scanner walks a codebase root honoring nested ignore files (the way a
// real .gitignore hierarchy does) plus a set of always-applied fallback
// exclude globs.
type Scanner struct {
	cfg            config.SyncConfig
	hashContent    bool
	globalPatterns []gitignore.Pattern
	allowedExt     map[string]bool
}

// NewScanner builds a Scanner from sync config. hashContent controls
// whether each file's content is hashed into FileState.ContentHash; a
// caller that only needs size/mtime change detection can skip the cost.
func NewScanner(cfg config.SyncConfig, hashContent bool) *Scanner {
	s := &Scanner{cfg: cfg, hashContent: hashContent}
	for _, p := range cfg.FallbackExcludes {
		s.globalPatterns = append(s.globalPatterns, gitignore.ParsePattern(p, nil))
	}
	if len(cfg.AllowedExtensions) > 0 {
		s.allowedExt = make(map[string]bool, len(cfg.AllowedExtensions))
		for _, ext := range cfg.AllowedExtensions {
			s.allowedExt[strings.ToLower(ext)] = true
		}
	}
	return s
}

// Scan walks root and returns every file not excluded by an ignore rule,
// extension filter, or size bound, up to sync.max_files entries.
func (s *Scanner) Scan(ctx context.Context, root string) (Snapshot, error) {
	root = filepath.Clean(root)
	fs := osfs.New(root)

	var files []changedetect.FileState
	truncated := false

	var walk func(dir []string, inherited []gitignore.Pattern) error
	walk = func(dir []string, inherited []gitignore.Pattern) error {
		if err := ctx.Err(); err != nil {
			return errs.Cancelled("syncsnapshot.scan")
		}

		patterns := inherited
		for _, name := range s.cfg.IgnoreFiles {
			ps, err := gitignore.ReadFile(fs, dir, name)
			if err == nil && len(ps) > 0 {
				patterns = append(append([]gitignore.Pattern{}, patterns...), ps...)
			}
		}

		entries, err := fs.ReadDir(filepath.Join(dir...))
		if err != nil {
			return errs.Wrap(errs.KindIO, "syncsnapshot.readdir", "failed to read directory", err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			if truncated {
				return nil
			}
			name := entry.Name()
			childPath := append(append([]string{}, dir...), name)

			if entry.IsDir() {
				if alwaysSkipDirs[name] || matchPatterns(patterns, childPath, true) {
					continue
				}
				if err := walk(childPath, patterns); err != nil {
					return err
				}
				continue
			}

			if matchPatterns(patterns, childPath, false) {
				continue
			}

			relPath := strings.Join(childPath, "/")
			ext := strings.ToLower(filepath.Ext(name))
			if s.allowedExt != nil && !s.allowedExt[ext] {
				continue
			}

			if s.cfg.MaxFileSizeBytes > 0 && entry.Size() > s.cfg.MaxFileSizeBytes {
				continue
			}

			state := changedetect.FileState{
				RelativePath: relPath,
				Size:         entry.Size(),
				MtimeMS:      entry.ModTime().UnixMilli(),
			}
			if s.hashContent {
				hash, err := hashFile(filepath.Join(append([]string{root}, childPath...)...))
				if err != nil {
					return errs.Wrap(errs.KindIO, "syncsnapshot.hash", "failed to hash file", err)
				}
				state.ContentHash = hash
			}
			files = append(files, state)

			if s.cfg.MaxFiles > 0 && len(files) >= s.cfg.MaxFiles {
				truncated = true
				return nil
			}
		}
		return nil
	}

	if err := walk(nil, s.globalPatterns); err != nil {
		return Snapshot{}, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelativePath < files[j].RelativePath })
	return Snapshot{Files: files, Truncated: truncated}, nil
}

// matchPatterns reapplies gitignore precedence: later patterns override
// earlier ones, and a negated (Include) match un-ignores a path.
func matchPatterns(patterns []gitignore.Pattern, path []string, isDir bool) bool {
	ignored := false
	for _, p := range patterns {
		switch p.Match(path, isDir) {
		case gitignore.Exclude:
			ignored = true
		case gitignore.Include:
			ignored = false
		}
	}
	return ignored
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
