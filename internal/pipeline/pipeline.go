// Package pipeline streams files through the three-stage indexing flow
// (split, embed, insert) without holding more than the configured
// per-stage budget in memory, while keeping progress and output
// deterministic under cancellation.
package pipeline

import (
	"context"
	"os"

	"github.com/codeindex-dev/codeindex/internal/embedding"
	"github.com/codeindex-dev/codeindex/internal/errs"
	"github.com/codeindex-dev/codeindex/internal/logging"
	"github.com/codeindex-dev/codeindex/internal/splitter"
	"github.com/codeindex-dev/codeindex/internal/vectorstore"
	"github.com/codeindex-dev/codeindex/internal/workpool"
)

// Phase is the pipeline's single-direction run state.
type Phase string

const (
	PhasePrepared  Phase = "prepared"
	PhaseScanned   Phase = "scanned"
	PhaseEmbedded  Phase = "embedded"
	PhaseInserted  Phase = "inserted"
	PhaseCompleted Phase = "completed"
)

var phaseOrder = map[Phase]int{
	PhasePrepared:  0,
	PhaseScanned:   1,
	PhaseEmbedded:  2,
	PhaseInserted:  3,
	PhaseCompleted: 4,
}

// Status is the terminal outcome of a run.
type Status string

const (
	StatusCompleted    Status = "completed"
	StatusLimitReached Status = "limit_reached"
)

// FileRef is one file a run admits to Stage 1.
type FileRef struct {
	RelativePath string
	AbsolutePath string
}

// Options carries every per-run budget and config knob spec'd for C8. All
// counts must be positive; MaxBufferedChunks/MaxBufferedEmbeddings default
// to 2x their stage's concurrency when left at 0.
type Options struct {
	MaxInFlightFiles            int
	MaxInFlightEmbeddingBatches int
	MaxInFlightInserts          int
	EmbeddingBatchSize          int
	MaxChunkChars               int
	ChunkLimit                  int // 0 = unbounded
	MaxFileSizeBytes            int64
	MaxBufferedChunks           int
	MaxBufferedEmbeddings       int
	IndexMode                   vectorstore.IndexMode
	ForceReindex                bool
}

func (o Options) validate() error {
	if o.MaxInFlightFiles < 1 || o.MaxInFlightEmbeddingBatches < 1 || o.MaxInFlightInserts < 1 {
		return errs.New(errs.KindInvalidInput, "pipeline.options", "max_in_flight_* must all be >= 1")
	}
	if o.EmbeddingBatchSize < 1 {
		return errs.New(errs.KindInvalidInput, "pipeline.options", "embedding_batch_size must be >= 1")
	}
	if o.MaxChunkChars < 1 {
		return errs.New(errs.KindInvalidInput, "pipeline.options", "max_chunk_chars must be >= 1")
	}
	return nil
}

func (o Options) bufferedChunks() int {
	if o.MaxBufferedChunks > 0 {
		return o.MaxBufferedChunks
	}
	return 2 * o.MaxInFlightEmbeddingBatches
}

func (o Options) bufferedEmbeddings() int {
	if o.MaxBufferedEmbeddings > 0 {
		return o.MaxBufferedEmbeddings
	}
	return 2 * o.MaxInFlightInserts
}

// Progress is emitted at deterministic points: done and percentage (when
// present) are monotonic non-decreasing across a run, reaching 100 on
// success.
type Progress struct {
	Message    string
	Done       int
	Total      int
	Percentage *int
}

// ProgressFunc receives progress events. Never called concurrently.
type ProgressFunc func(Progress)

// Result summarizes one completed run.
type Result struct {
	Status        Status
	Phase         Phase
	FilesIndexed  int
	ChunksIndexed int
}

// Pipeline wires a Splitter, an embedding Port, and a vector Store into
// the C8 three-stage flow for one collection.
type Pipeline struct {
	splitter   splitter.Splitter
	embedder   embedding.Port
	store      vectorstore.Store
	collection string
	logger     *logging.Logger
}

// New builds a Pipeline. logger may be nil.
func New(sp splitter.Splitter, embedder embedding.Port, store vectorstore.Store, collection string, logger *logging.Logger) (*Pipeline, error) {
	if sp == nil {
		return nil, errs.New(errs.KindInvalidInput, "pipeline.new", "splitter must not be nil")
	}
	if embedder == nil {
		return nil, errs.New(errs.KindInvalidInput, "pipeline.new", "embedder must not be nil")
	}
	if store == nil {
		return nil, errs.New(errs.KindInvalidInput, "pipeline.new", "store must not be nil")
	}
	if collection == "" {
		return nil, errs.New(errs.KindInvalidInput, "pipeline.new", "collection must not be empty")
	}
	if logger == nil {
		defaultLogger, err := logging.NewLogger(logging.NewDefaultConfig())
		if err != nil {
			return nil, err
		}
		logger = defaultLogger
	}
	return &Pipeline{splitter: sp, embedder: embedder, store: store, collection: collection, logger: logger}, nil
}

// Run streams files through split -> embed -> insert and returns the
// final Result. files are submitted to Stage 1 in order and their
// results consumed in the same order, so progress stays deterministic
// regardless of which file finishes splitting first.
func (p *Pipeline) Run(ctx context.Context, files []FileRef, opts Options, onProgress ProgressFunc) (Result, error) {
	if err := opts.validate(); err != nil {
		return Result{}, err
	}
	if err := p.ensureCollection(ctx, opts); err != nil {
		return Result{}, err
	}
	phase := PhasePrepared
	advance := func(next Phase) error {
		if phaseOrder[next] != phaseOrder[phase]+1 {
			return errs.New(errs.KindInvariant, "pipeline.fsm", "out-of-order phase transition")
		}
		phase = next
		return nil
	}

	if err := ctx.Err(); err != nil {
		return Result{}, errs.Cancelled("pipeline.run")
	}

	stage1Pool, err := workpool.NewPool(ctx, opts.MaxInFlightFiles, 2*opts.MaxInFlightFiles)
	if err != nil {
		return Result{}, err
	}
	defer stage1Pool.Shutdown()

	stage2Pool, err := workpool.NewPool(ctx, opts.MaxInFlightEmbeddingBatches, opts.bufferedChunks())
	if err != nil {
		return Result{}, err
	}
	defer stage2Pool.Shutdown()

	stage3Pool, err := workpool.NewPool(ctx, opts.MaxInFlightInserts, opts.bufferedEmbeddings())
	if err != nil {
		return Result{}, err
	}
	defer stage3Pool.Shutdown()

	runner := &runState{
		pipeline: p,
		opts:     opts,
		onProgress: func(done, total int) {
			if onProgress == nil {
				return
			}
			var pct *int
			if total > 0 {
				v := done * 100 / total
				pct = &v
			}
			onProgress(Progress{Message: "indexing", Done: done, Total: total, Percentage: pct})
		},
	}

	status, filesIndexed, chunksIndexed, err := runner.drive(ctx, files, stage1Pool, stage2Pool, stage3Pool)
	if err != nil {
		return Result{Phase: phase}, err
	}

	if err := advance(PhaseScanned); err != nil {
		return Result{}, err
	}
	if err := advance(PhaseEmbedded); err != nil {
		return Result{}, err
	}
	if err := advance(PhaseInserted); err != nil {
		return Result{}, err
	}
	if err := advance(PhaseCompleted); err != nil {
		return Result{}, err
	}

	if onProgress != nil {
		full := 100
		onProgress(Progress{Message: "done", Done: filesIndexed, Total: len(files), Percentage: &full})
	}

	return Result{Status: status, Phase: phase, FilesIndexed: filesIndexed, ChunksIndexed: chunksIndexed}, nil
}

func (p *Pipeline) ensureCollection(ctx context.Context, opts Options) error {
	has, err := p.store.HasCollection(ctx, p.collection)
	if err != nil {
		return err
	}
	if has && !opts.ForceReindex {
		return nil
	}
	if has {
		if err := p.store.DropCollection(ctx, p.collection); err != nil {
			return err
		}
	}
	dimension, err := p.embedder.DetectDimension(ctx, embedding.DetectOptions{})
	if err != nil {
		return err
	}
	if opts.IndexMode == vectorstore.IndexModeHybrid {
		return p.store.CreateHybridCollection(ctx, p.collection, dimension, "")
	}
	return p.store.CreateCollection(ctx, p.collection, dimension, "")
}

// readFile reads content for a file, honoring max_file_size_bytes: an
// oversized file is skipped (counted as indexed with zero chunks) rather
// than failing the run.
func readFile(path string, maxSize int64) ([]byte, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, true, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	return content, false, nil
}
