package embed

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// maxSequenceLen caps tokenized input fed to the ONNX model.
const maxSequenceLen = 256

// ONNXConfig locates a local sentence-transformer export.
type ONNXConfig struct {
	// ModelPath is the .onnx file (e.g. an all-MiniLM export).
	ModelPath string `yaml:"model_path"`
	// TokenizerPath is the matching tokenizer.json.
	TokenizerPath string `yaml:"tokenizer_path"`
	// LibraryPath optionally points at the onnxruntime shared library.
	LibraryPath string `yaml:"library_path"`
}

// Validate checks the configuration is complete.
func (c ONNXConfig) Validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("onnx model path is required")
	}
	if c.TokenizerPath == "" {
		return fmt.Errorf("tokenizer path is required")
	}
	return nil
}

// ONNXEmbedder runs a local transformer model through onnxruntime and
// mean-pools the last hidden state into an L2-normalized sentence vector.
// Inference is serialized: onnxruntime sessions are not safe for
// concurrent Run calls with shared tensors.
type ONNXEmbedder struct {
	mu      sync.Mutex
	tk      *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
}

// NewONNXEmbedder initializes the onnxruntime environment (once per
// process) and loads the model and tokenizer.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid onnx config: %w", err)
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initializing onnxruntime: %w", err)
		}
	}

	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer from %s: %w", cfg.TokenizerPath, err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("creating onnx session for %s: %w", cfg.ModelPath, err)
	}

	return &ONNXEmbedder{tk: tk, session: session}, nil
}

// Close releases the onnx session.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		err := e.session.Destroy()
		e.session = nil
		return err
	}
	return nil
}

// Embed implements Embedder.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("onnx embedder is closed")
	}

	en, err := e.tk.EncodeSingle(text)
	if err != nil {
		return nil, fmt.Errorf("tokenizing text: %w", err)
	}
	ids := en.Ids
	if len(ids) == 0 {
		return nil, fmt.Errorf("tokenizer produced no tokens")
	}
	if len(ids) > maxSequenceLen {
		ids = ids[:maxSequenceLen]
	}

	seqLen := int64(len(ids))
	inputIDs := make([]int64, len(ids))
	mask := make([]int64, len(ids))
	for i, id := range ids {
		inputIDs[i] = int64(id)
		mask[i] = 1
	}

	idTensor, err := ort.NewTensor(ort.NewShape(1, seqLen), inputIDs)
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}
	defer idTensor.Destroy()
	maskTensor, err := ort.NewTensor(ort.NewShape(1, seqLen), mask)
	if err != nil {
		return nil, fmt.Errorf("creating mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idTensor, maskTensor}, outputs); err != nil {
		return nil, fmt.Errorf("running onnx session: %w", err)
	}
	defer outputs[0].Destroy()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}

	shape := hidden.GetShape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}
	dim := int(shape[2])
	data := hidden.GetData()

	// Mean pooling over the sequence, then L2 normalization.
	vec := make([]float32, dim)
	for tok := 0; tok < int(seqLen); tok++ {
		base := tok * dim
		for d := 0; d < dim; d++ {
			vec[d] += data[base+d]
		}
	}
	var norm float64
	for d := range vec {
		vec[d] /= float32(seqLen)
		norm += float64(vec[d]) * float64(vec[d])
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for d := range vec {
			vec[d] *= scale
		}
	}
	return vec, nil
}

// EmbedBatch implements Embedder by embedding each text in turn.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}
