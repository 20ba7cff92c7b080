package classify

import "testing"

// TestNewMissingModel ensures New returns a useful error when the model
// file doesn't exist, the same contract embed.New upholds for a missing
// model directory.
func TestNewMissingModel(t *testing.T) {
	_, err := New("/tmp/nonexistent-classify-model.onnx", "", 0)
	if err == nil {
		t.Fatal("expected error for missing model")
	}
}

// TestClassifyRealModel loads an actual ONNX classification head if one
// is available at ../../../models/classifier.onnx, the same
// skip-if-absent convention embedder_test.go uses for BGE-small. It
// checks only that the session can be created; Classify is not called.
func TestClassifyRealModel(t *testing.T) {
	m, err := New("../../../models/classifier.onnx", "../../../lib/onnxruntime.so", 0)
	if err != nil {
		t.Skipf("skipping: model not found: %v", err)
	}
	defer m.Close()
}
