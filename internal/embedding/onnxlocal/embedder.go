// Package onnxlocal is the local ONNX-style embedding adapter: it loads a
// tokenizer and model from a directory and runs inference through a fixed
// pool of onnxruntime_go sessions.
package onnxlocal

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/codeindex-dev/codeindex/internal/embedding"
	"github.com/codeindex-dev/codeindex/internal/errs"
)

// Config configures the local ONNX embedding adapter.
type Config struct {
	ModelDir       string // directory containing model.onnx and tokenizer.json
	ModelPath      string // defaults to <ModelDir>/model.onnx
	TokenizerPath  string // defaults to <ModelDir>/tokenizer.json
	LibraryPath    string // path to the onnxruntime shared library; "" uses the system default

	SessionPoolSize int // number of sessions run round-robin; default 1
	NumThreads      int // intra-op threads per session; default min(4, NumCPU)
	MaxSequenceLen  int // truncation ceiling; default 512
	PadTokenID      int64

	// Dimension, if set, is validated against the model's observed hidden
	// size rather than trusted blindly.
	Dimension int
}

func (c *Config) applyDefaults() {
	if c.ModelPath == "" {
		c.ModelPath = filepath.Join(c.ModelDir, "model.onnx")
	}
	if c.TokenizerPath == "" {
		c.TokenizerPath = filepath.Join(c.ModelDir, "tokenizer.json")
	}
	if c.SessionPoolSize <= 0 {
		c.SessionPoolSize = 1
	}
	if c.NumThreads <= 0 {
		c.NumThreads = runtime.NumCPU()
		if c.NumThreads > 4 {
			c.NumThreads = 4
		}
	}
	if c.MaxSequenceLen <= 0 {
		c.MaxSequenceLen = 512
	}
}

// inputRole is a recognized model input, discovered by case-insensitive
// substring matching against the ONNX graph's declared input names.
type inputRole int

const (
	roleInputIDs inputRole = iota
	roleAttentionMask
	roleTokenType
)

type session struct {
	adv    *ort.DynamicAdvancedSession
	inputs []string // positional input names, by discovered role
	roles  []inputRole
}

// Embedder implements embedding.Port against a local ONNX model and
// tokenizer directory.
type Embedder struct {
	config    Config
	tokenizer *tokenizer.Tokenizer
	sessions  []*session
	next      atomic.Uint64
	dimension int
	mu        sync.Mutex
}

// New loads the tokenizer and model, builds the session pool, and probes
// the model's hidden size with a short text.
func New(ctx context.Context, cfg Config) (*Embedder, error) {
	cfg.applyDefaults()
	if cfg.ModelDir == "" && cfg.ModelPath == "" {
		return nil, errs.New(errs.KindInvalidInput, "onnxlocal.config", "model directory is required")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "onnxlocal.config", "model file not found", err)
	}
	if _, err := os.Stat(cfg.TokenizerPath); err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "onnxlocal.config", "tokenizer file not found", err)
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errs.Wrap(errs.KindInvariant, "onnxlocal.init", "failed to initialize onnxruntime", err)
	}

	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "onnxlocal.init", "failed to load tokenizer", err)
	}

	inputNames, outputNames, err := discoverIONames(cfg.ModelPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "onnxlocal.init", "failed to inspect model inputs/outputs", err)
	}
	roles, roleNames, err := resolveRoles(inputNames)
	if err != nil {
		return nil, err
	}

	sessions := make([]*session, 0, cfg.SessionPoolSize)
	for i := 0; i < cfg.SessionPoolSize; i++ {
		opts, err := ort.NewSessionOptions()
		if err != nil {
			return nil, errs.Wrap(errs.KindInvariant, "onnxlocal.init", "failed to build session options", err)
		}
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			opts.Destroy()
			return nil, errs.Wrap(errs.KindInvariant, "onnxlocal.init", "failed to set intra-op threads", err)
		}
		if err := opts.SetInterOpNumThreads(1); err != nil {
			opts.Destroy()
			return nil, errs.Wrap(errs.KindInvariant, "onnxlocal.init", "failed to set inter-op threads", err)
		}
		adv, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, roleNames, outputNames, opts)
		opts.Destroy()
		if err != nil {
			return nil, errs.Wrap(errs.KindInvariant, "onnxlocal.init", "failed to create session", err)
		}
		sessions = append(sessions, &session{adv: adv, inputs: roleNames, roles: roles})
	}

	e := &Embedder{config: cfg, tokenizer: tk, sessions: sessions}

	dim, err := e.runBatch(ctx, []string{"dimension probe"})
	if err != nil {
		e.Close()
		return nil, errs.Wrap(errs.KindInvariant, "onnxlocal.init", "failed to probe hidden size", err)
	}
	observed := dim[0].Dimension()
	if cfg.Dimension != 0 && cfg.Dimension != observed {
		e.Close()
		return nil, errs.New(errs.KindInvalidInput, "onnxlocal.init",
			fmt.Sprintf("configured dimension %d does not match observed hidden size %d", cfg.Dimension, observed))
	}
	e.dimension = observed
	return e, nil
}

// discoverIONames inspects the model graph for its declared input and
// output tensor names.
func discoverIONames(modelPath string) ([]string, []string, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, nil, err
	}
	inputNames := make([]string, len(inputs))
	for i, in := range inputs {
		inputNames[i] = in.Name
	}
	outputNames := make([]string, len(outputs))
	for i, out := range outputs {
		outputNames[i] = out.Name
	}
	return inputNames, outputNames, nil
}

func resolveRoles(inputNames []string) ([]inputRole, []string, error) {
	var roles []inputRole
	var names []string
	var haveInputIDs bool
	for _, name := range inputNames {
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "input_ids"):
			roles = append(roles, roleInputIDs)
			names = append(names, name)
			haveInputIDs = true
		case strings.Contains(lower, "attention_mask"):
			roles = append(roles, roleAttentionMask)
			names = append(names, name)
		case strings.Contains(lower, "token_type"):
			roles = append(roles, roleTokenType)
			names = append(names, name)
		}
	}
	if !haveInputIDs {
		return nil, nil, errs.New(errs.KindInvalidInput, "onnxlocal.init", "model has no input_ids-like input")
	}
	return roles, names, nil
}

func (e *Embedder) Provider() embedding.Provider {
	return embedding.Provider{ID: "onnx-local", Name: filepath.Base(e.config.ModelDir)}
}

func (e *Embedder) DetectDimension(ctx context.Context, _ embedding.DetectOptions) (int, error) {
	return e.dimension, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	if text == "" {
		return embedding.Vector{}, errs.New(errs.KindInvalidInput, "onnxlocal.embed", "text must not be empty")
	}
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return embedding.Vector{}, err
	}
	return vecs[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	if len(texts) == 0 {
		return nil, errs.New(errs.KindInvalidInput, "onnxlocal.embed_batch", "texts must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Cancelled("onnxlocal.embed_batch")
	}
	return e.runBatch(ctx, texts)
}

type tokenized struct {
	ids      []int64
	mask     []int64
	typeIDs  []int64
}

func (e *Embedder) tokenizeBatch(texts []string) ([]tokenized, int, error) {
	encoded := make([]tokenized, len(texts))
	maxLen := 0
	for i, text := range texts {
		en, err := e.tokenizer.EncodeSingle(text, true)
		if err != nil {
			return nil, 0, errs.Wrap(errs.KindInvalidInput, "onnxlocal.tokenize", "failed to tokenize input", err)
		}
		ids := en.Ids
		if len(ids) > e.config.MaxSequenceLen {
			ids = ids[:e.config.MaxSequenceLen]
		}
		ids64 := make([]int64, len(ids))
		mask64 := make([]int64, len(ids))
		type64 := make([]int64, len(ids))
		for j, id := range ids {
			ids64[j] = int64(id)
			mask64[j] = 1
		}
		encoded[i] = tokenized{ids: ids64, mask: mask64, typeIDs: type64}
		if len(ids64) > maxLen {
			maxLen = len(ids64)
		}
	}
	return encoded, maxLen, nil
}

// runBatch tokenizes with batch-longest right padding, builds tensors for
// every discovered input role, runs inference on a round-robin session,
// and pools + L2-normalizes the output.
func (e *Embedder) runBatch(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	encoded, maxLen, err := e.tokenizeBatch(texts)
	if err != nil {
		return nil, err
	}
	if maxLen == 0 {
		return nil, errs.New(errs.KindInvalidInput, "onnxlocal.embed_batch", "all inputs tokenized to zero length")
	}

	batchSize := len(texts)
	flatIDs := make([]int64, batchSize*maxLen)
	flatMask := make([]int64, batchSize*maxLen)
	flatType := make([]int64, batchSize*maxLen)
	for i, en := range encoded {
		copy(flatIDs[i*maxLen:], en.ids)
		copy(flatMask[i*maxLen:], en.mask)
		for j := range en.ids {
			flatMask[i*maxLen+j] = 1
		}
		for j := len(en.ids); j < maxLen; j++ {
			flatIDs[i*maxLen+j] = e.config.PadTokenID
		}
		copy(flatType[i*maxLen:], en.typeIDs)
	}

	shape := ort.NewShape(int64(batchSize), int64(maxLen))
	idsTensor, err := ort.NewTensor(shape, flatIDs)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvariant, "onnxlocal.run", "failed to build input_ids tensor", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, flatMask)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvariant, "onnxlocal.run", "failed to build attention_mask tensor", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor(shape, flatType)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvariant, "onnxlocal.run", "failed to build token_type_ids tensor", err)
	}
	defer typeTensor.Destroy()

	sess := e.sessions[e.next.Add(1)%uint64(len(e.sessions))]

	inputs := make([]ort.Value, len(sess.roles))
	for i, role := range sess.roles {
		switch role {
		case roleInputIDs:
			inputs[i] = idsTensor
		case roleAttentionMask:
			inputs[i] = maskTensor
		case roleTokenType:
			inputs[i] = typeTensor
		}
	}

	outputs := []ort.Value{nil}
	if err := ctx.Err(); err != nil {
		return nil, errs.Cancelled("onnxlocal.run")
	}
	if err := sess.adv.Run(inputs, outputs); err != nil {
		return nil, errs.Wrap(errs.KindInvariant, "onnxlocal.run", "onnxruntime inference failed", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	return poolOutputs(outputs[0], batchSize, maxLen, flatMask)
}

// poolOutputs treats a rank-2 output as already pooled, and masked-mean
// pools a rank-3 [batch, seq, hidden] output against the attention mask.
func poolOutputs(out ort.Value, batchSize, seqLen int, mask []int64) ([]embedding.Vector, error) {
	tensor, ok := out.(*ort.Tensor[float32])
	if !ok {
		return nil, errs.New(errs.KindInvalidResponse, "onnxlocal.pool", "unexpected output tensor type")
	}
	data := tensor.GetData()
	shape := tensor.GetShape()

	vectors := make([]embedding.Vector, batchSize)
	switch len(shape) {
	case 2:
		hidden := int(shape[1])
		for i := 0; i < batchSize; i++ {
			vec := make([]float32, hidden)
			copy(vec, data[i*hidden:(i+1)*hidden])
			l2Normalize(vec)
			vectors[i] = embedding.Vector{Data: vec}
		}
	case 3:
		observedSeq := int(shape[1])
		hidden := int(shape[2])
		for i := 0; i < batchSize; i++ {
			vec := make([]float32, hidden)
			var count float32
			for t := 0; t < observedSeq; t++ {
				if mask[i*seqLen+t] == 0 {
					continue
				}
				base := i*observedSeq*hidden + t*hidden
				for d := 0; d < hidden; d++ {
					vec[d] += data[base+d]
				}
				count++
			}
			if count > 0 {
				for d := range vec {
					vec[d] /= count
				}
			}
			l2Normalize(vec)
			vectors[i] = embedding.Vector{Data: vec}
		}
	default:
		return nil, errs.New(errs.KindInvalidResponse, "onnxlocal.pool", fmt.Sprintf("unexpected output rank %d", len(shape)))
	}
	return vectors, nil
}

func l2Normalize(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSquares)
	if norm < 1e-10 {
		return
	}
	inv := float32(1.0 / norm)
	for i := range v {
		v[i] *= inv
	}
}

// Close destroys every session in the pool. The tokenizer holds no
// native resources and is left to the garbage collector.
func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sessions {
		if s.adv != nil {
			s.adv.Destroy()
		}
	}
	return nil
}

var _ embedding.Port = (*Embedder)(nil)
