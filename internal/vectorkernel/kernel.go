// Package vectorkernel is the in-process HNSW index backing the local
// vector store: insert/delete/search over cosine distance, plus a
// deterministic snapshot format for on-disk persistence.
package vectorkernel

import (
	"sort"
	"strconv"
	"sync"

	"github.com/coder/hnsw"

	"github.com/codeindex-dev/codeindex/internal/errs"
)

// SnapshotVersion is the only snapshot schema version this kernel accepts.
// There is no migration path: FromSnapshot rejects anything else.
const SnapshotVersion = 1

// Params configures the HNSW graph.
type Params struct {
	MaxNbConnection int
	MaxLayer        int
	EfConstruction  int
	EfSearch        int
	MaxElements     int
}

// DefaultParams mirrors the reference kernel's defaults.
func DefaultParams() Params {
	return Params{
		MaxNbConnection: 16,
		MaxLayer:        16,
		EfConstruction:  200,
		EfSearch:        50,
		MaxElements:     100_000,
	}
}

// Record is one vector stored in the kernel, keyed by a caller-stable id.
type Record struct {
	ID     string
	Vector []float32
}

// Match is one search result.
type Match struct {
	ID    string
	Score float32
}

// Snapshot is the serializable form of a kernel's contents, ordered by id.
type Snapshot struct {
	Version   int
	Dimension int
	Params    Params
	Records   []Record
}

// Kernel is an in-memory HNSW index over cosine distance. A Kernel owns
// its graph and record vector exclusively; callers serialize access to a
// given collection through the vector store that wraps it.
type Kernel struct {
	mu        sync.Mutex
	dimension int
	params    Params
	graph     *hnsw.Graph[uint64]

	records    []Record     // dense, append-only; index = internal key
	idToIndex  map[string]int
	tombstoned map[int]bool
	nextKey    uint64
}

// New creates an empty kernel for the given dimension.
func New(dimension int, params Params) (*Kernel, error) {
	if dimension <= 0 {
		return nil, errs.New(errs.KindInvariant, "vector.invalid_dimension", "dimension must be greater than zero").
			WithMetadata("found", strconv.Itoa(dimension))
	}

	maxElements := params.MaxElements
	if maxElements < 1 {
		maxElements = 1
	}
	params.MaxElements = maxElements

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = params.MaxNbConnection
	graph.EfSearch = params.EfSearch
	graph.Ml = 0.25

	return &Kernel{
		dimension:  dimension,
		params:     params,
		graph:      graph,
		idToIndex:  make(map[string]int),
		tombstoned: make(map[int]bool),
	}, nil
}

// Dimension returns the kernel's fixed vector dimension.
func (k *Kernel) Dimension() int { return k.dimension }

// Insert adds or updates records. Updating an id tombstones its previous
// internal index rather than removing it from the graph.
func (k *Kernel) Insert(records []Record) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, record := range records {
		if err := k.ensureDimension(record.Vector); err != nil {
			return err
		}

		index := len(k.records)
		if previous, exists := k.idToIndex[record.ID]; exists {
			k.tombstoned[previous] = true
		}
		k.idToIndex[record.ID] = index

		key := k.nextKey
		k.nextKey++
		k.graph.Add(hnsw.MakeNode(key, record.Vector))
		k.records = append(k.records, record)
	}

	return nil
}

// Delete tombstones the internal indices mapped to ids. No physical
// removal from the graph happens.
func (k *Kernel) Delete(ids []string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, id := range ids {
		if index, exists := k.idToIndex[id]; exists {
			k.tombstoned[index] = true
			delete(k.idToIndex, id)
		}
	}
	return nil
}

// Search returns the k nearest neighbours to query, ordered by
// (descending score, ascending id).
func (k *Kernel) Search(query []float32, limit int) ([]Match, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if len(k.records) == 0 || limit <= 0 {
		return []Match{}, nil
	}
	if err := k.ensureDimension(query); err != nil {
		return nil, err
	}

	total := len(k.records)
	requested := limit
	if requested > total {
		requested = total
	}
	knbn := requested * 5
	if knbn < requested {
		knbn = requested
	}
	if knbn > total {
		knbn = total
	}

	savedEfSearch := k.graph.EfSearch
	efSearch := k.params.EfSearch
	if knbn > efSearch {
		efSearch = knbn
	}
	k.graph.EfSearch = efSearch
	neighbors := k.graph.Search(query, knbn)
	k.graph.EfSearch = savedEfSearch

	matches := make([]Match, 0, len(neighbors))
	for _, node := range neighbors {
		index := int(node.Key)
		if k.tombstoned[index] {
			continue
		}
		if index < 0 || index >= len(k.records) {
			continue
		}
		distance := k.graph.Distance(query, node.Value)
		score := float32(1) - distance
		if score < 0 {
			score = 0
		}
		matches = append(matches, Match{ID: k.records[index].ID, Score: score})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > requested {
		matches = matches[:requested]
	}
	return matches, nil
}

// Snapshot exports the kernel's live (non-tombstoned) records ordered by
// id, for on-disk persistence.
func (k *Kernel) Snapshot() Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()

	ids := make([]string, 0, len(k.idToIndex))
	for id := range k.idToIndex {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		index := k.idToIndex[id]
		records = append(records, k.records[index])
	}

	return Snapshot{
		Version:   SnapshotVersion,
		Dimension: k.dimension,
		Params:    k.params,
		Records:   records,
	}
}

// FromSnapshot rebuilds a kernel from a previously exported snapshot.
// Only SnapshotVersion is accepted; there is no migration path.
func FromSnapshot(snapshot Snapshot) (*Kernel, error) {
	if snapshot.Version != SnapshotVersion {
		return nil, errs.New(errs.KindInvariant, "vector.snapshot_version_mismatch", "snapshot version mismatch").
			WithMetadata("found", strconv.Itoa(snapshot.Version)).
			WithMetadata("expected", strconv.Itoa(SnapshotVersion))
	}

	params := snapshot.Params
	if params.MaxElements < len(snapshot.Records) {
		params.MaxElements = len(snapshot.Records)
	}
	if params.MaxElements < 1 {
		params.MaxElements = 1
	}

	kernel, err := New(snapshot.Dimension, params)
	if err != nil {
		return nil, err
	}
	if err := kernel.Insert(snapshot.Records); err != nil {
		return nil, err
	}
	return kernel, nil
}

func (k *Kernel) ensureDimension(vector []float32) error {
	if len(vector) != k.dimension {
		return errs.New(errs.KindInvariant, "vector.invalid_dimension", "vector dimension mismatch").
			WithMetadata("expected", strconv.Itoa(k.dimension)).
			WithMetadata("found", strconv.Itoa(len(vector)))
	}
	return nil
}

