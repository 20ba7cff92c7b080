// Package iterator implements C2: composing multiple generators under a
// mixing strategy into a single interleaved stream.
package iterator

import (
	"math"
	"math/rand"

	"github.com/tejas242/dataloader/internal/generator"
	"github.com/tejas242/dataloader/internal/record"
)

// Strategy selects, at each step, which non-exhausted generator index to
// pull from next, and reports a lower bound on total item count.
type Strategy interface {
	// next returns the index (into an n-length slice of still-live
	// generators) to pull from next.
	next(live []int, rng *rand.Rand) int
	minLen(minLens []int) int
}

// Sequential drains generator 0, then 1, and so on.
type Sequential struct{}

func (Sequential) next(live []int, _ *rand.Rand) int { return 0 }

func (Sequential) minLen(minLens []int) int {
	total := 0
	for _, m := range minLens {
		total += m
	}
	return total
}

// Interleaved round-robins across non-exhausted generators.
type Interleaved struct {
	turn int
}

func (s *Interleaved) next(live []int, _ *rand.Rand) int {
	idx := s.turn % len(live)
	s.turn++
	return idx
}

func (*Interleaved) minLen(minLens []int) int {
	n := len(minLens)
	min := minLens[0]
	for _, m := range minLens[1:] {
		if m < min {
			min = m
		}
	}
	return n * min
}

// Weighted samples the next generator index with probability
// proportional to Weights, using a seeded RNG; exhausted generators are
// removed from the distribution as they're seen live-filtered.
type Weighted struct {
	Weights []float64
	Seed    uint64
}

func (w *Weighted) next(live []int, rng *rand.Rand) int {
	total := 0.0
	for _, i := range live {
		total += w.Weights[i]
	}
	r := rng.Float64() * total
	acc := 0.0
	for pos, i := range live {
		acc += w.Weights[i]
		if r < acc {
			return pos
		}
	}
	return len(live) - 1
}

func (w *Weighted) minLen(minLens []int) int {
	min := math.Inf(1)
	for i, m := range minLens {
		v := float64(m) / w.Weights[i]
		if v < min {
			min = v
		}
	}
	if math.IsInf(min, 1) {
		return 0
	}
	return int(min)
}

// Iterator composes N >= 1 generators under a Strategy into a single
// stream of records, preserving the strategy-determined order.
type Iterator struct {
	strategy   Strategy
	generators []generator.Generator
	rng        *rand.Rand
}

// New builds an Iterator. seed is only consulted by Weighted; other
// strategies ignore it.
func New(strategy Strategy, seed uint64, generators ...generator.Generator) (*Iterator, error) {
	if len(generators) == 0 {
		return nil, record.NewError(record.ErrConfig, "iterator.New", errNoGenerators)
	}
	if w, ok := strategy.(*Weighted); ok {
		if len(w.Weights) != len(generators) {
			return nil, record.NewError(record.ErrConfig, "iterator.New", errWeightCount)
		}
		for _, wt := range w.Weights {
			if wt <= 0 {
				return nil, record.NewError(record.ErrConfig, "iterator.New", errNonPositiveWeight)
			}
		}
	}
	return &Iterator{
		strategy:   strategy,
		generators: generators,
		rng:        rand.New(rand.NewSource(int64(seed))),
	}, nil
}

// MinLen reports the strategy's lower bound on the number of items this
// iterator will yield.
func (it *Iterator) MinLen() int {
	mins := make([]int, len(it.generators))
	for i, g := range it.generators {
		mins[i] = g.MinLen()
	}
	return it.strategy.minLen(mins)
}

// Produce drains all generators under the configured strategy into a
// single output stream. Per-record failures from a generator are
// forwarded as Err results without stopping iteration.
func (it *Iterator) Produce() <-chan record.Result[record.Record] {
	out := make(chan record.Result[record.Record])

	streams := make([]<-chan record.Result[record.Record], len(it.generators))
	for i, g := range it.generators {
		streams[i] = g.Produce()
	}

	go func() {
		defer close(out)

		live := make([]int, 0, len(streams))
		for i := range streams {
			live = append(live, i)
		}

		// Values are pulled lazily, one at a time, so round-robin/weighted
		// selection only reads from the chosen generator.
		for len(live) > 0 {
			pos := it.strategy.next(live, it.rng)
			idx := live[pos]
			r, ok := <-streams[idx]
			if !ok {
				// Exhausted: drop from the live set.
				live = append(live[:pos], live[pos+1:]...)
				continue
			}
			out <- r
		}
	}()

	return out
}

var (
	errNoGenerators      = simpleErr("at least one generator is required")
	errWeightCount       = simpleErr("weighted strategy requires one weight per generator")
	errNonPositiveWeight = simpleErr("weighted strategy requires weights[i] > 0")
)

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
