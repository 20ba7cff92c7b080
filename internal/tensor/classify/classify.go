// Package classify scores an already-tensorized batch against an ONNX
// sequence-classification model, adapted from the teacher's
// internal/embed.embedBatch: the same ort.NewSessionOptions/
// NewDynamicAdvancedSession/ort.NewTensor/session.Run bootstrap, but
// consuming a record.TensorizedBatch this module already built instead
// of re-tokenizing raw text, and reading logits off the classification
// head instead of pooling a [CLS] embedding.
package classify

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/tejas242/dataloader/internal/record"
)

// Model wraps an ONNX sequence-classification session.
type Model struct {
	session *ort.DynamicAdvancedSession
}

// New loads the ONNX model file at modelPath. ortLibPath is the path to
// onnxruntime.so ("" uses the system default); numThreads mirrors
// embed.New's min(4, NumCPU) default when <= 0.
func New(modelPath, ortLibPath string, numThreads int) (*Model, error) {
	if ortLibPath != "" {
		ort.SetSharedLibraryPath(ortLibPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init ort: %w", err)
	}

	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
		if numThreads > 4 {
			numThreads = 4
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(numThreads); err != nil {
		return nil, fmt.Errorf("set intra threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("set inter threads: %w", err)
	}

	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"logits"}
	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, opts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Model{session: session}, nil
}

// Close releases the ONNX session.
func (m *Model) Close() {
	if m.session != nil {
		m.session.Destroy()
	}
}

// Classify runs a forward pass over a TensorizedBatch and returns one
// logit row per batch item. batch.TokenIDs and batch.Lengths must come
// from the same tensor.Tensorize/TensorizeInference call.
func (m *Model) Classify(batch record.TensorizedBatch) ([][]float32, error) {
	rows := len(batch.TokenIDs)
	if rows == 0 {
		return nil, fmt.Errorf("classify: empty batch")
	}
	maxLen := len(batch.TokenIDs[0])

	flatIDs := make([]int64, rows*maxLen)
	flatMask := make([]int64, rows*maxLen)
	flatType := make([]int64, rows*maxLen)
	for i, row := range batch.TokenIDs {
		length := maxLen
		if i < len(batch.Lengths) {
			length = batch.Lengths[i]
		}
		for j, id := range row {
			flatIDs[i*maxLen+j] = int64(id)
			if j < length {
				flatMask[i*maxLen+j] = 1
			}
		}
	}
	shape := ort.NewShape(int64(rows), int64(maxLen))

	inputIDs, err := ort.NewTensor(shape, flatIDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()

	attnMask, err := ort.NewTensor(shape, flatMask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer attnMask.Destroy()

	typeIDs, err := ort.NewTensor(shape, flatType)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typeIDs.Destroy()

	inputs := []ort.Value{inputIDs, attnMask, typeIDs}
	outputs := []ort.Value{nil}
	if err := m.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("ort run: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	logitsTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want *Tensor[float32])")
	}
	data := logitsTensor.GetData()
	outShape := logitsTensor.GetShape()
	numClasses := int(outShape[len(outShape)-1])

	logits := make([][]float32, rows)
	for i := 0; i < rows; i++ {
		row := make([]float32, numClasses)
		copy(row, data[i*numClasses:(i+1)*numClasses])
		logits[i] = row
	}
	return logits, nil
}
