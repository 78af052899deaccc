package vectorstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/codeindex-dev/codeindex/internal/errs"
	"github.com/codeindex-dev/codeindex/internal/logging"
	"github.com/codeindex-dev/codeindex/internal/vectorkernel"
)

const localSnapshotVersion = 1

// localSnapshot is the on-disk JSON shape for a local collection, distinct
// from vectorkernel.Snapshot: it carries content and metadata alongside
// the vector so the collection can be fully rehydrated without the
// pipeline re-embedding anything.
type localSnapshot struct {
	Version   int                   `json:"version"`
	Dimension int                   `json:"dimension"`
	IndexMode string                `json:"indexMode"`
	Records   []localSnapshotRecord `json:"records"`
}

type localSnapshotRecord struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Content  string            `json:"content"`
	Metadata localMetadataJSON `json:"metadata"`
}

type localMetadataJSON struct {
	RelativePath  string `json:"relativePath"`
	Language      string `json:"language,omitempty"`
	FileExtension string `json:"fileExtension,omitempty"`
	SpanStart     int    `json:"spanStart"`
	SpanEnd       int    `json:"spanEnd"`
	NodeKind      string `json:"nodeKind,omitempty"`
}

type localCollection struct {
	mu        sync.Mutex
	dimension int
	indexMode IndexMode
	kernel    *vectorkernel.Kernel
	content   map[string]string
	metadata  map[string]Metadata
	bleveIdx  bleve.Index // non-nil only for hybrid collections
}

// LocalStore implements Store over an in-process HNSW kernel per
// collection, with JSON snapshot persistence under
// <storageRoot>/vector/collections/<name>.json, and an optional
// bleve-backed full-text index for hybrid collections (spec.md §9 Open
// Question: explicit fused hybrid, not a silent dense-only fallback).
type LocalStore struct {
	storageRoot string
	logger      *logging.Logger

	mu          sync.RWMutex
	collections map[string]*localCollection
}

// NewLocalStore creates a store rooted at storageRoot. Collections are
// loaded lazily on first access.
func NewLocalStore(storageRoot string, logger *logging.Logger) *LocalStore {
	if logger == nil {
		if l, err := logging.NewLogger(logging.NewDefaultConfig()); err == nil {
			logger = l
		}
	}
	return &LocalStore{
		storageRoot: storageRoot,
		logger:      logger,
		collections: make(map[string]*localCollection),
	}
}

func (s *LocalStore) collectionPath(name string) string {
	return filepath.Join(s.storageRoot, "vector", "collections", name+".json")
}

// ensureCollection returns the in-memory collection, lazily loading its
// snapshot from disk on first access. Returns not_found if neither memory
// nor disk has it.
func (s *LocalStore) ensureCollection(name string) (*localCollection, error) {
	s.mu.RLock()
	c, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return c, nil
	}

	loaded, err := s.loadSnapshot(name)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		return nil, errs.New(errs.KindNotFound, "vectorstore.collection_not_found", "collection does not exist").
			WithMetadata("collection", name)
	}
	s.collections[name] = loaded
	return loaded, nil
}

func (s *LocalStore) loadSnapshot(name string) (*localCollection, error) {
	data, err := os.ReadFile(s.collectionPath(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "vectorstore.snapshot_read", "failed to read collection snapshot", err).
			WithMetadata("collection", name)
	}

	var snap localSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errs.Wrap(errs.KindInvariant, "vectorstore.snapshot_corrupt", "collection snapshot is not valid JSON", err).
			WithMetadata("collection", name)
	}
	if snap.Version != localSnapshotVersion {
		return nil, errs.New(errs.KindInvariant, "vectorstore.snapshot_version_mismatch", "collection snapshot version mismatch").
			WithMetadata("collection", name)
	}

	mode := IndexMode(snap.IndexMode)
	c, err := newLocalCollection(snap.Dimension, mode)
	if err != nil {
		return nil, err
	}

	records := make([]vectorkernel.Record, 0, len(snap.Records))
	for _, r := range snap.Records {
		records = append(records, vectorkernel.Record{ID: r.ID, Vector: r.Vector})
		c.content[r.ID] = r.Content
		c.metadata[r.ID] = Metadata{
			RelativePath:  r.Metadata.RelativePath,
			Language:      r.Metadata.Language,
			FileExtension: r.Metadata.FileExtension,
			SpanStart:     r.Metadata.SpanStart,
			SpanEnd:       r.Metadata.SpanEnd,
			NodeKind:      r.Metadata.NodeKind,
		}
		if c.bleveIdx != nil {
			_ = c.bleveIdx.Index(r.ID, bleveDoc{Content: r.Content})
		}
	}
	if err := c.kernel.Insert(records); err != nil {
		return nil, err
	}
	return c, nil
}

func newLocalCollection(dimension int, mode IndexMode) (*localCollection, error) {
	kernel, err := vectorkernel.New(dimension, vectorkernel.DefaultParams())
	if err != nil {
		return nil, err
	}
	c := &localCollection{
		dimension: dimension,
		indexMode: mode,
		kernel:    kernel,
		content:   make(map[string]string),
		metadata:  make(map[string]Metadata),
	}
	if mode == IndexModeHybrid {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, "vectorstore.bleve_init", "failed to create full-text index", err)
		}
		c.bleveIdx = idx
	}
	return c, nil
}

type bleveDoc struct {
	Content string `json:"content"`
}

// snapshotAndPersist serializes c to pretty JSON and atomically replaces
// the collection's file on disk. Callers hold c.mu.
func (s *LocalStore) snapshotAndPersist(name string, c *localCollection) error {
	kernelSnap := c.kernel.Snapshot()

	ids := make([]string, 0, len(kernelSnap.Records))
	byID := make(map[string]vectorkernel.Record, len(kernelSnap.Records))
	for _, r := range kernelSnap.Records {
		ids = append(ids, r.ID)
		byID[r.ID] = r
	}
	sort.Strings(ids)

	snap := localSnapshot{
		Version:   localSnapshotVersion,
		Dimension: c.dimension,
		IndexMode: string(c.indexMode),
		Records:   make([]localSnapshotRecord, 0, len(ids)),
	}
	for _, id := range ids {
		r := byID[id]
		m := c.metadata[id]
		snap.Records = append(snap.Records, localSnapshotRecord{
			ID:      id,
			Vector:  r.Vector,
			Content: c.content[id],
			Metadata: localMetadataJSON{
				RelativePath:  m.RelativePath,
				Language:      m.Language,
				FileExtension: m.FileExtension,
				SpanStart:     m.SpanStart,
				SpanEnd:       m.SpanEnd,
				NodeKind:      m.NodeKind,
			},
		})
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindInvariant, "vectorstore.snapshot_encode", "failed to encode collection snapshot", err)
	}

	path := s.collectionPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.KindIO, "vectorstore.snapshot_mkdir", "failed to create snapshot directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return errs.Wrap(errs.KindIO, "vectorstore.snapshot_write", "failed to create temp snapshot file", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.Wrap(errs.KindIO, "vectorstore.snapshot_write", "failed to write snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.KindIO, "vectorstore.snapshot_write", "failed to close snapshot file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errs.Wrap(errs.KindIO, "vectorstore.snapshot_write", "failed to replace snapshot file", err)
	}
	return nil
}

func (s *LocalStore) createCollection(ctx context.Context, name string, dimension int, mode IndexMode) error {
	if name == "" || dimension <= 0 {
		return errs.New(errs.KindInvalidInput, "vectorstore.create_collection", "collection name and dimension must be valid").
			WithMetadata("collection", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return nil // idempotent
	}
	if loaded, err := s.loadSnapshot(name); err != nil {
		return err
	} else if loaded != nil {
		s.collections[name] = loaded
		return nil
	}

	c, err := newLocalCollection(dimension, mode)
	if err != nil {
		return err
	}
	s.collections[name] = c
	return s.snapshotAndPersist(name, c)
}

func (s *LocalStore) CreateCollection(ctx context.Context, name string, dimension int, description string) error {
	return s.createCollection(ctx, name, dimension, IndexModeDense)
}

func (s *LocalStore) CreateHybridCollection(ctx context.Context, name string, dimension int, description string) error {
	return s.createCollection(ctx, name, dimension, IndexModeHybrid)
}

func (s *LocalStore) HasCollection(ctx context.Context, name string) (bool, error) {
	if _, err := s.ensureCollection(name); err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *LocalStore) DropCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	path := s.collectionPath(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindIO, "vectorstore.drop_collection", "failed to remove collection snapshot", err).
			WithMetadata("collection", name)
	}
	return nil
}

func (s *LocalStore) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	names := make(map[string]struct{}, len(s.collections))
	for name := range s.collections {
		names[name] = struct{}{}
	}
	s.mu.RUnlock()

	dir := filepath.Join(s.storageRoot, "vector", "collections")
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.KindIO, "vectorstore.list_collections", "failed to list collection snapshots", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names[strings.TrimSuffix(e.Name(), ".json")] = struct{}{}
	}

	result := make([]string, 0, len(names))
	for name := range names {
		result = append(result, name)
	}
	sort.Strings(result)
	return result, nil
}

func (s *LocalStore) insert(ctx context.Context, name string, docs []VectorDocument) error {
	c, err := s.ensureCollection(name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	records := make([]vectorkernel.Record, 0, len(docs))
	for _, d := range docs {
		if len(d.Vector) != c.dimension {
			return errs.New(errs.KindInvalidInput, "vectorstore.insert", "document vector dimension mismatch").
				WithMetadata("collection", name).WithMetadata("id", d.ID)
		}
		records = append(records, vectorkernel.Record{ID: d.ID, Vector: d.Vector})
		c.content[d.ID] = d.Content
		c.metadata[d.ID] = d.Metadata
		if c.bleveIdx != nil {
			if err := c.bleveIdx.Index(d.ID, bleveDoc{Content: d.Content}); err != nil {
				return errs.Wrap(errs.KindIO, "vectorstore.bleve_index", "failed to index document for full-text search", err)
			}
		}
	}
	if err := c.kernel.Insert(records); err != nil {
		return err
	}
	return s.snapshotAndPersist(name, c)
}

func (s *LocalStore) Insert(ctx context.Context, name string, docs []VectorDocument) error {
	return s.insert(ctx, name, docs)
}

// InsertHybrid computes the sparse representation from content via bleve
// at insert time, per the spec's resolved Open Question, rather than
// deferring to the caller or the dense kernel alone.
func (s *LocalStore) InsertHybrid(ctx context.Context, name string, docs []VectorDocument) error {
	c, err := s.ensureCollection(name)
	if err != nil {
		return err
	}
	if c.indexMode != IndexModeHybrid {
		return errs.New(errs.KindInvalidInput, "vectorstore.insert_hybrid", "collection was not created in hybrid mode").
			WithMetadata("collection", name)
	}
	return s.insert(ctx, name, docs)
}

func (s *LocalStore) Search(ctx context.Context, name string, queryVector []float32, opts SearchOptions) ([]SearchResult, error) {
	c, err := s.ensureCollection(name)
	if err != nil {
		return nil, err
	}
	filter, err := ParseFilter(opts.FilterExpr)
	if err != nil {
		return nil, err
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}

	c.mu.Lock()
	// Over-fetch to survive filter/threshold rejection, matching the
	// kernel's own knbn widening strategy.
	matches, err := c.kernel.Search(queryVector, topK*5)
	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		meta := c.metadata[m.ID]
		if !filter.Match(meta) {
			continue
		}
		if opts.Threshold != nil && m.Score < *opts.Threshold {
			continue
		}
		results = append(results, SearchResult{ID: m.ID, Score: m.Score, Content: c.content[m.ID], Metadata: meta})
		if len(results) == topK {
			break
		}
	}
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return results, nil
}

// HybridSearch runs each subrequest (dense against the kernel, sparse
// against bleve) and fuses the ranked lists via RRF or weighted rerank.
// A sparse subrequest against a collection with no full-text index is
// rejected with not_supported (spec.md §9 Open Question (a)), rather than
// silently falling back to dense-only.
func (s *LocalStore) HybridSearch(ctx context.Context, name string, subrequests []HybridSubrequest, opts HybridOptions) ([]SearchResult, error) {
	c, err := s.ensureCollection(name)
	if err != nil {
		return nil, err
	}
	filter, err := ParseFilter(opts.FilterExpr)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ranked := make([][]SearchResult, 0, len(subrequests))
	weights := make([]float64, 0, len(subrequests))

	for _, sub := range subrequests {
		if len(sub.QueryVector) > 0 {
			matches, err := c.kernel.Search(sub.QueryVector, sub.Limit)
			if err != nil {
				return nil, err
			}
			list := make([]SearchResult, 0, len(matches))
			for _, m := range matches {
				meta := c.metadata[m.ID]
				if !filter.Match(meta) {
					continue
				}
				list = append(list, SearchResult{ID: m.ID, Score: m.Score, Content: c.content[m.ID], Metadata: meta})
			}
			ranked = append(ranked, list)
			weights = append(weights, opts.DenseWeight)
			continue
		}

		if sub.QueryText != "" {
			if c.bleveIdx == nil {
				return nil, errs.New(errs.KindInvalidInput, "vectorstore.not_supported", "collection has no full-text index for sparse subrequests").
					WithMetadata("collection", name)
			}
			list, err := s.sparseSearch(c, sub.QueryText, sub.Limit, filter)
			if err != nil {
				return nil, err
			}
			ranked = append(ranked, list)
			weights = append(weights, opts.SparseWeight)
		}
	}

	return fuseRanked(ranked, weights, HybridOptions{Limit: limit, Rerank: opts.Rerank, RerankK: opts.RerankK}), nil
}

func (s *LocalStore) sparseSearch(c *localCollection, queryText string, limit int, filter *Filter) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	q := bleve.NewMatchQuery(queryText)
	q.SetField("content")
	req := bleve.NewSearchRequest(q)
	req.Size = limit * 5

	res, err := c.bleveIdx.Search(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "vectorstore.bleve_search", "full-text search failed", err)
	}

	list := make([]SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		meta := c.metadata[hit.ID]
		if !filter.Match(meta) {
			continue
		}
		list = append(list, SearchResult{ID: hit.ID, Score: float32(hit.Score), Content: c.content[hit.ID], Metadata: meta})
		if len(list) == limit {
			break
		}
	}
	return list, nil
}

func (s *LocalStore) Delete(ctx context.Context, name string, ids []string) error {
	c, err := s.ensureCollection(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.kernel.Delete(ids); err != nil {
		return err
	}
	for _, id := range ids {
		delete(c.content, id)
		delete(c.metadata, id)
		if c.bleveIdx != nil {
			_ = c.bleveIdx.Delete(id)
		}
	}
	return s.snapshotAndPersist(name, c)
}

func (s *LocalStore) Query(ctx context.Context, name string, filterExpr string, outputFields []string, limit int) ([]QueryRow, error) {
	c, err := s.ensureCollection(name)
	if err != nil {
		return nil, err
	}
	filter, err := ParseFilter(filterExpr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rows := make([]QueryRow, 0)
	ids := make([]string, 0, len(c.metadata))
	for id := range c.metadata {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		meta := c.metadata[id]
		if !filter.Match(meta) {
			continue
		}
		rows = append(rows, projectRow(id, c.content[id], meta, outputFields))
		if limit > 0 && len(rows) == limit {
			break
		}
	}
	return rows, nil
}

func projectRow(id, content string, meta Metadata, fields []string) QueryRow {
	all := map[string]string{
		"id":            id,
		"content":       content,
		"relativePath":  meta.RelativePath,
		"language":      meta.Language,
		"fileExtension": meta.FileExtension,
	}
	if len(fields) == 0 {
		return all
	}
	row := make(QueryRow, len(fields))
	for _, f := range fields {
		row[f] = all[f]
	}
	return row
}

func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.collections {
		if c.bleveIdx != nil {
			_ = c.bleveIdx.Close()
		}
	}
	return nil
}

var _ Store = (*LocalStore)(nil)
