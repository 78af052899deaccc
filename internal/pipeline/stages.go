package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/codeindex-dev/codeindex/internal/errs"
	"github.com/codeindex-dev/codeindex/internal/splitter"
	"github.com/codeindex-dev/codeindex/internal/vectorstore"
	"github.com/codeindex-dev/codeindex/internal/workpool"
)

// runState holds the per-run state of a single Run call: its options,
// progress callback, and the flag that stops Stage 1 submission. drive
// keeps the pending-batch buffer, the chunk-admission counter, and the
// ordered future queues that thread Stage 1 -> Stage 2 -> Stage 3 results
// through in submission order regardless of completion order.
type runState struct {
	pipeline   *Pipeline
	opts       Options
	onProgress func(done, total int)

	stopSubmitting atomic.Bool
}

type stage1Future struct {
	file FileRef
	ch   chan stage1Outcome
}

type stage1Outcome struct {
	result splitter.SplitResult
	oversized bool
	err    error
}

type stage2Future struct {
	chunks []splitter.Chunk
	ch     chan stage2Outcome
}

type stage2Outcome struct {
	vectors []embeddingVector
	err     error
}

type embeddingVector = []float32

type stage3Future struct {
	ch chan error
}

// drive runs the full three-stage flow and returns the terminal status,
// total files indexed, and total chunks admitted.
func (r *runState) drive(ctx context.Context, files []FileRef, stage1Pool, stage2Pool, stage3Pool *workpool.Pool) (Status, int, int, error) {
	submissions := make(chan *stage1Future, len(files))
	go r.submitStage1(ctx, files, stage1Pool, submissions)

	var pending []splitter.Chunk
	var stage2Futures []*stage2Future
	var stage3Futures []*stage3Future

	chunksAdmitted := 0
	filesIndexed := 0
	limitReached := false

	flushPending := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		fut := r.submitStage2(ctx, batch, stage2Pool)
		stage2Futures = append(stage2Futures, fut)
	}

	for fut := range submissions {
		outcome := <-fut.ch
		if outcome.err != nil {
			r.stopSubmitting.Store(true)
			return "", filesIndexed, chunksAdmitted, outcome.err
		}
		filesIndexed++
		r.onProgress(filesIndexed, len(files))

		if !outcome.oversized {
			for _, chunk := range outcome.result.Chunks {
				if r.opts.ChunkLimit > 0 && chunksAdmitted+1 > r.opts.ChunkLimit {
					limitReached = true
					break
				}
				pending = append(pending, chunk)
				chunksAdmitted++
				if len(pending) >= r.opts.EmbeddingBatchSize {
					flushPending()
				}
			}
		}

		if limitReached {
			r.stopSubmitting.Store(true)
			break
		}
	}

	flushPending()

	for _, fut := range stage2Futures {
		outcome := <-fut.ch
		if outcome.err != nil {
			return "", filesIndexed, chunksAdmitted, outcome.err
		}
		ins := r.submitStage3(ctx, fut.chunks, outcome.vectors, stage3Pool)
		stage3Futures = append(stage3Futures, ins)
	}

	for _, fut := range stage3Futures {
		if err := <-fut.ch; err != nil {
			return "", filesIndexed, chunksAdmitted, err
		}
	}

	status := StatusCompleted
	if limitReached {
		status = StatusLimitReached
	}
	return status, filesIndexed, chunksAdmitted, nil
}

// submitStage1 walks files in order, submitting each to stage1Pool and
// pushing a future for it onto submissions so the drive loop can consume
// results in the same order they were submitted. It stops launching new
// tasks once drive signals the chunk limit was hit.
func (r *runState) submitStage1(ctx context.Context, files []FileRef, pool *workpool.Pool, submissions chan<- *stage1Future) {
	defer close(submissions)
	for _, f := range files {
		if ctx.Err() != nil || r.stopSubmitting.Load() {
			return
		}
		file := f
		fut := &stage1Future{file: file, ch: make(chan stage1Outcome, 1)}
		select {
		case submissions <- fut:
		case <-ctx.Done():
			return
		}
		go func() {
			content, oversized, err := readFile(file.AbsolutePath, r.opts.MaxFileSizeBytes)
			if err != nil {
				fut.ch <- stage1Outcome{err: err}
				return
			}
			if oversized {
				fut.ch <- stage1Outcome{oversized: true}
				return
			}
			result, err := workpool.Submit(pool, func(ctx context.Context) (splitter.SplitResult, error) {
				return r.pipeline.splitter.Split(ctx, file.RelativePath, content, r.opts.MaxChunkChars)
			})
			fut.ch <- stage1Outcome{result: result, err: err}
		}()
	}
}

func (r *runState) submitStage2(ctx context.Context, batch []splitter.Chunk, pool *workpool.Pool) *stage2Future {
	fut := &stage2Future{chunks: batch, ch: make(chan stage2Outcome, 1)}
	go func() {
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := workpool.Submit(pool, func(ctx context.Context) ([]embeddingVector, error) {
			vecs, err := r.pipeline.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return nil, err
			}
			out := make([]embeddingVector, len(vecs))
			for i, v := range vecs {
				out[i] = v.Data
			}
			return out, nil
		})
		fut.ch <- stage2Outcome{vectors: vectors, err: err}
	}()
	return fut
}

func (r *runState) submitStage3(ctx context.Context, chunks []splitter.Chunk, vectors []embeddingVector, pool *workpool.Pool) *stage3Future {
	fut := &stage3Future{ch: make(chan error, 1)}
	go func() {
		if len(chunks) != len(vectors) {
			fut.ch <- errs.New(errs.KindInvariant, "pipeline.stage3", "chunk and vector counts diverged")
			return
		}
		docs := make([]vectorstore.VectorDocument, len(chunks))
		for i, c := range chunks {
			docs[i] = vectorstore.VectorDocument{
				ID:      documentID(c),
				Vector:  vectors[i],
				Content: c.Content,
				Metadata: vectorstore.Metadata{
					RelativePath:  c.RelativePath,
					Language:      c.Language,
					FileExtension: c.FileExtension,
					SpanStart:     c.SpanStart,
					SpanEnd:       c.SpanEnd,
					NodeKind:      c.NodeKind,
				},
			}
		}

		_, err := workpool.Submit(pool, func(ctx context.Context) (struct{}, error) {
			insert := r.pipeline.store.Insert
			if r.opts.IndexMode == vectorstore.IndexModeHybrid {
				insert = r.pipeline.store.InsertHybrid
			}
			return struct{}{}, insert(ctx, r.pipeline.collection, docs)
		})
		fut.ch <- err
	}()
	return fut
}
