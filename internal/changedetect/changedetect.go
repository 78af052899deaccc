// Package changedetect classifies a current file listing against a prior
// snapshot into added/removed/modified sets, the input the indexing
// pipeline uses to decide which files need re-embedding on a reindex run.
package changedetect

import "sort"

// FileState is the tuple an external sync adapter records per file, and
// the only shape this package consumes.
type FileState struct {
	RelativePath string
	Size         int64
	MtimeMS      int64
	ContentHash  string // empty when content hashing is disabled
}

// Result is the classification of a current listing against a prior
// snapshot. Each slice is sorted ascending and de-duplicated.
type Result struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Options configures whether content hash is considered when deciding
// whether a file present in both listings counts as modified.
type Options struct {
	UseContentHash bool
}

// Detect classifies current against previous. previous may be nil or
// empty, in which case every current path is Added.
func Detect(current, previous []FileState, opts Options) Result {
	currentByPath := indexByPath(current)
	previousByPath := indexByPath(previous)

	var added, removed, modified []string

	for path, cur := range currentByPath {
		prev, ok := previousByPath[path]
		if !ok {
			added = append(added, path)
			continue
		}
		if isModified(cur, prev, opts) {
			modified = append(modified, path)
		}
	}
	for path := range previousByPath {
		if _, ok := currentByPath[path]; !ok {
			removed = append(removed, path)
		}
	}

	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(modified)

	return Result{Added: added, Removed: removed, Modified: modified}
}

func isModified(cur, prev FileState, opts Options) bool {
	if cur.Size != prev.Size {
		return true
	}
	if cur.MtimeMS != prev.MtimeMS {
		return true
	}
	if opts.UseContentHash && cur.ContentHash != prev.ContentHash {
		return true
	}
	return false
}

// indexByPath de-duplicates by relative path, last entry wins, matching
// the map semantics a FileSyncSnapshot already implies.
func indexByPath(states []FileState) map[string]FileState {
	m := make(map[string]FileState, len(states))
	for _, s := range states {
		m[s.RelativePath] = s
	}
	return m
}
