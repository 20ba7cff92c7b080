package batcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tejas242/dataloader/internal/record"
)

type sizedInt int

func (s sizedInt) Size() int { return int(s) }

func feed(sizes []int) <-chan record.Result[sizedInt] {
	out := make(chan record.Result[sizedInt], len(sizes))
	for _, s := range sizes {
		out <- record.Ok(sizedInt(s))
	}
	close(out)
	return out
}

func drainAll[T record.Sized](t *testing.T, b *Batcher[T]) []record.Batch[T] {
	t.Helper()
	var batches []record.Batch[T]
	for {
		batch, ok, err := b.Next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			return batches
		}
		if batch.Len() == 0 {
			t.Fatal("batcher emitted an empty batch")
		}
		batches = append(batches, batch)
	}
}

func TestBatchSizeLimit(t *testing.T) {
	in := feed([]int{1, 1, 1, 1, 1})
	b, err := New[sizedInt](Options{LimitType: BatchSize, Limit: 2, Prefetch: 10}, in, nil)
	require.NoError(t, err)
	batches := drainAll(t, b)
	require.Len(t, batches, 3)
	require.Equal(t, []int{2, 2, 1}, []int{batches[0].Len(), batches[1].Len(), batches[2].Len()})
}

// TestTokenCountWorkedExample fixes the exact algorithm from spec §4.4
// step 3 / §8 scenario 3: sizes 1,5,2,4,3, limit_type=TokenCount,
// limit=6, sort=true, prefetch=1 -> [1,2],[3],[4],[5].
func TestTokenCountWorkedExample(t *testing.T) {
	in := feed([]int{1, 5, 2, 4, 3})
	seed := uint64(1)
	b, err := New[sizedInt](Options{
		LimitType: TokenCount,
		Limit:     6,
		Prefetch:  1,
		Sort:      true,
		Shuffle:   true, // sort requires shuffle per this spec's resolution
		Seed:      &seed,
	}, in, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Shuffle only reorders batches, not their contents, so the batches
	// drained here are compared as a set: contents are checked
	// irrespective of order.
	batches := drainAll(t, b)
	got := make(map[string]bool)
	for _, batch := range batches {
		var sizes []int
		for _, it := range batch.Items {
			sizes = append(sizes, it.Size())
		}
		got[intsKey(sizes)] = true
	}
	want := []string{intsKey([]int{1, 2}), intsKey([]int{3}), intsKey([]int{4}), intsKey([]int{5})}
	for _, w := range want {
		require.True(t, got[w], "missing expected batch %v in result set %v", w, got)
	}
	require.Len(t, batches, 4)
}

func intsKey(ints []int) string {
	s := ""
	for _, i := range ints {
		s += string(rune('0' + i))
	}
	return s
}

func TestTokenCountSingletonOverflow(t *testing.T) {
	in := feed([]int{10, 1, 1})
	var logged bool
	logFn := func(msg string, args ...any) { logged = true }
	b, err := New[sizedInt](Options{LimitType: TokenCount, Limit: 6, Prefetch: 10}, in, logFn)
	require.NoError(t, err)
	batches := drainAll(t, b)
	require.Equal(t, 1, batches[0].Len())
	require.Equal(t, 10, int(batches[0].Items[0].Size()))
	require.True(t, logged, "expected debug log for oversized singleton batch")
}

func TestRejectsSortWithoutShuffle(t *testing.T) {
	in := feed([]int{1, 2})
	_, err := New[sizedInt](Options{LimitType: BatchSize, Limit: 2, Prefetch: 1, Sort: true}, in, nil)
	require.Error(t, err, "expected error: sort=true requires shuffle=true")
}

func TestRejectsShuffleWithoutSeed(t *testing.T) {
	in := feed([]int{1, 2})
	_, err := New[sizedInt](Options{LimitType: BatchSize, Limit: 2, Prefetch: 1, Shuffle: true}, in, nil)
	require.Error(t, err, "expected error: shuffle=true requires a seed")
}

func TestShuffleDeterministicAcrossRuns(t *testing.T) {
	sizes := []int{1, 2, 3, 4, 5, 6, 7, 8}
	seed := uint64(7)

	run := func() []int {
		in := feed(sizes)
		b, _ := New[sizedInt](Options{LimitType: BatchSize, Limit: 1, Prefetch: 10, Shuffle: true, Seed: &seed}, in, nil)
		batches := drainAll(t, b)
		var order []int
		for _, batch := range batches {
			order = append(order, batch.Items[0].Size())
		}
		return order
	}
	// Same seed, same batch order each time: every batch is a singleton
	// of a distinct size, so the sequence of sizes is the batch order.
	a := run()
	bRes := run()
	if len(a) != len(bRes) {
		t.Fatalf("batch counts differ: %d vs %d", len(a), len(bRes))
	}
	require.Equal(t, a, bRes, "same seed must produce the same batch order")
}
