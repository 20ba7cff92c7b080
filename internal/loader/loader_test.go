package loader

import (
	"strconv"
	"strings"
	"testing"

	"github.com/tejas242/dataloader/internal/batcher"
	"github.com/tejas242/dataloader/internal/generator"
	"github.com/tejas242/dataloader/internal/preprocess"
	"github.com/tejas242/dataloader/internal/record"
	"github.com/tejas242/dataloader/internal/windowing"
)

// byteTokenizer is a deterministic, dependency-free tokenizer.Tokenizer
// stand-in: one token id per rune's code point. Good enough to exercise
// padding, lengths and sharding without the daulet/tokenizers CGo
// binding.
type byteTokenizer struct{}

func (byteTokenizer) PadTokenID() uint32   { return 0 }
func (byteTokenizer) NumPrefixTokens() int { return 0 }
func (byteTokenizer) Tokenize(text string, _ *string) (record.Tokenization, error) {
	ids := make([]uint32, 0, len(text))
	for _, r := range text {
		ids = append(ids, uint32(r))
	}
	return record.Tokenization{TokenIDs: ids}, nil
}

func constLabel(record.Record) (record.Label, error) {
	return record.ClassificationLabel(0), nil
}

func memSource(lines ...string) generator.Generator {
	recs := make([]record.Record, len(lines))
	for i, l := range lines {
		recs[i] = record.NewRecord(l, nil)
	}
	return generator.NewMemory(recs)
}

// TestSequentialScenario matches spec §8 scenario 1: two in-memory
// sources, Sequential, BatchSize limit=2, producing two batches.
func TestSequentialScenario(t *testing.T) {
	l, err := New(
		[]generator.Generator{memSource("hi", "hello"), memSource("x")},
		byteTokenizer{},
		WithLabel(constLabel),
		WithPreprocess(func(r record.Record, _ uint64) (record.Record, error) { return r, nil }),
		WithBatchLimit(batcher.BatchSize, 2),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	run, err := l.Epoch(0)
	if err != nil {
		t.Fatalf("Epoch: %v", err)
	}
	defer run.Close()

	var batches []record.TensorizedBatch
	for {
		b, ok, err := run.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		batches = append(batches, b)
	}
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	if len(batches[0].TokenIDs) != 2 {
		t.Errorf("batch 0 size = %d, want 2", len(batches[0].TokenIDs))
	}
	if len(batches[1].TokenIDs) != 1 {
		t.Errorf("batch 1 size = %d, want 1", len(batches[1].TokenIDs))
	}
}

// TestShardingScenario matches spec §8 scenario 2: 10 numbered lines,
// skip=3, limit=6, world_size=2, rank=1 -> items originally at positions
// {4, 6, 8}.
func TestShardingScenario(t *testing.T) {
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = strconv.Itoa(i)
	}
	l, err := New(
		[]generator.Generator{memSource(lines...)},
		byteTokenizer{},
		WithLabel(constLabel),
		WithPreprocess(func(r record.Record, _ uint64) (record.Record, error) { return r, nil }),
		WithBatchLimit(batcher.BatchSize, 100),
		WithNumThreads(4),
		WithSkipLimit(3, 6),
		WithDistributed(1, 2),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	run, err := l.Epoch(0)
	if err != nil {
		t.Fatalf("Epoch: %v", err)
	}
	defer run.Close()

	var got []string
	for {
		b, ok, err := run.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		for _, ids := range b.TokenIDs {
			s := make([]rune, len(ids))
			for i, id := range ids {
				s[i] = rune(id)
			}
			got = append(got, string(s))
		}
	}
	want := []string{"4", "6", "8"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

// TestErrorIsolation matches spec §8 scenario 6: a source of 5 lines
// where one fails preprocessing yields 4 items total and no terminal
// error.
func TestErrorIsolation(t *testing.T) {
	failing := preprocess.Fn(func(r record.Record, _ uint64) (record.Record, error) {
		if r.Original == "bad" {
			return r, record.NewError(record.ErrPreprocess, "test", errBadLine)
		}
		return r, nil
	})
	l, err := New(
		[]generator.Generator{memSource("a", "b", "bad", "c", "d")},
		byteTokenizer{},
		WithLabel(constLabel),
		WithPreprocess(failing),
		WithBatchLimit(batcher.BatchSize, 100),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	run, err := l.Epoch(0)
	if err != nil {
		t.Fatalf("Epoch: %v", err)
	}
	defer run.Close()

	total := 0
	for {
		b, ok, err := run.Next()
		if err != nil {
			t.Fatalf("unexpected terminal error: %v", err)
		}
		if !ok {
			break
		}
		total += len(b.TokenIDs)
	}
	if total != 4 {
		t.Fatalf("got %d items, want 4", total)
	}
}

func TestRejectsBadDistributedConfig(t *testing.T) {
	if _, err := New([]generator.Generator{memSource("x")}, byteTokenizer{}, WithDistributed(2, 2)); err == nil {
		t.Fatal("expected Config error for rank >= world_size")
	}
}

func TestInferenceEpochWindows(t *testing.T) {
	l, err := New(
		[]generator.Generator{memSource("unused")},
		byteTokenizer{},
		WithWindower(windowing.Fixed{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := generator.NewMemoryInference([]record.InferenceRecord{{Original: "abcdef"}})
	run, err := l.InferenceEpoch([]generator.InferenceGenerator{src}, windowing.Config{BodySize: 3, Stride: 3})
	if err != nil {
		t.Fatalf("InferenceEpoch: %v", err)
	}
	defer run.Close()

	var n int
	for {
		b, ok, err := run.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		n += len(b.TokenIDs)
	}
	if n != 2 {
		t.Fatalf("got %d inference items, want 2", n)
	}
}

// failingWindower fails windowing for any text containing "bad", and
// otherwise defers to windowing.Fixed — used to exercise the inference
// loader's strict abort-on-Window-error path (spec §7).
type failingWindower struct{}

func (failingWindower) Windows(text string, cfg windowing.Config) ([]windowing.Window, error) {
	if strings.Contains(text, "bad") {
		return nil, errBadWindow
	}
	return windowing.Fixed{}.Windows(text, cfg)
}

// TestInferenceEpochWindowErrorAborts matches spec §7's inference
// strictness requirement: a Window error must abort iteration and be
// surfaced as the terminal error, not be silently dropped the way a
// training per-record error is.
func TestInferenceEpochWindowErrorAborts(t *testing.T) {
	l, err := New(
		[]generator.Generator{memSource("unused")},
		byteTokenizer{},
		WithWindower(failingWindower{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := generator.NewMemoryInference([]record.InferenceRecord{
		{Original: "abcdef"},
		{Original: "this is bad text"},
		{Original: "ghijkl"},
	})
	run, err := l.InferenceEpoch([]generator.InferenceGenerator{src}, windowing.Config{BodySize: 3, Stride: 3})
	if err != nil {
		t.Fatalf("InferenceEpoch: %v", err)
	}
	defer run.Close()

	var gotErr error
	for {
		_, ok, err := run.Next()
		if err != nil {
			gotErr = err
			break
		}
		if !ok {
			break
		}
	}
	if gotErr == nil {
		t.Fatal("expected a terminal error from the failing windower, got none")
	}
	if !strings.Contains(gotErr.Error(), errBadWindow.Error()) {
		t.Fatalf("terminal error = %v, want it to wrap %v", gotErr, errBadWindow)
	}
}

type badLineErr string

func (e badLineErr) Error() string { return string(e) }

var (
	errBadLine   = badLineErr("bad line")
	errBadWindow = badLineErr("window failed")
)
