package iterator

import (
	"testing"

	"github.com/tejas242/dataloader/internal/generator"
	"github.com/tejas242/dataloader/internal/record"
)

func texts(ss ...string) []record.Record {
	recs := make([]record.Record, len(ss))
	for i, s := range ss {
		recs[i] = record.NewRecord(s, nil)
	}
	return recs
}

func drain(t *testing.T, it *Iterator) []string {
	t.Helper()
	var got []string
	for r := range it.Produce() {
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
		got = append(got, r.Value.Original)
	}
	return got
}

// TestSequentialScenario covers spec.md §8 end-to-end scenario 1: two
// in-memory sources ["hi","hello"], ["x"], Sequential strategy.
func TestSequentialScenario(t *testing.T) {
	g1 := generator.NewMemory(texts("hi", "hello"))
	g2 := generator.NewMemory(texts("x"))

	it, err := New(Sequential{}, 0, g1, g2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if it.MinLen() != 3 {
		t.Fatalf("MinLen() = %d, want 3", it.MinLen())
	}

	got := drain(t, it)
	want := []string{"hi", "hello", "x"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestInterleavedMinLen(t *testing.T) {
	g1 := generator.NewMemory(texts("a", "b", "c"))
	g2 := generator.NewMemory(texts("x", "y"))

	it, err := New(&Interleaved{}, 0, g1, g2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// N * min_i(min_len_i) = 2 * 2 = 4
	if it.MinLen() != 4 {
		t.Fatalf("MinLen() = %d, want 4", it.MinLen())
	}

	got := drain(t, it)
	if len(got) != 5 {
		t.Fatalf("got %d items total, want 5", len(got))
	}
}

func TestWeightedRejectsBadConfig(t *testing.T) {
	g1 := generator.NewMemory(texts("a"))
	g2 := generator.NewMemory(texts("b"))

	if _, err := New(&Weighted{Weights: []float64{1}}, 0, g1, g2); err == nil {
		t.Fatal("expected error for weight/generator count mismatch")
	}
	if _, err := New(&Weighted{Weights: []float64{1, 0}}, 0, g1, g2); err == nil {
		t.Fatal("expected error for non-positive weight")
	}
}

func TestWeightedDrainsAll(t *testing.T) {
	g1 := generator.NewMemory(texts("a", "b", "c"))
	g2 := generator.NewMemory(texts("x", "y"))

	it, err := New(&Weighted{Weights: []float64{2, 1}, Seed: 7}, 7, g1, g2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := drain(t, it)
	if len(got) != 5 {
		t.Fatalf("got %d items, want 5 (all records from both sources)", len(got))
	}
}
