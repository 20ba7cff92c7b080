// Package batcher implements C4: grouping items under a size limit, with
// optional sort-within-prefetch-window and shuffle. The batcher is
// single-threaded and pull-driven.
package batcher

import (
	"math/rand"
	"sort"

	"github.com/tejas242/dataloader/internal/record"
)

// LimitType selects how the limit parameter is interpreted.
type LimitType int

const (
	// BatchSize bounds the number of items per batch.
	BatchSize LimitType = iota
	// TokenCount bounds the padded-rectangle cost (max item size * count).
	TokenCount
)

// Options configures a Batcher.
type Options struct {
	LimitType LimitType
	Limit     uint
	// Prefetch is the prefetch-window multiplier (>= 1): the buffer is
	// filled to Prefetch*Limit items (or until upstream ends) before
	// batches are cut.
	Prefetch uint
	Sort     bool
	Shuffle  bool
	Seed     *uint64
}

// Validate enforces spec §4.4's invariants: shuffle requires a seed, and
// sort without shuffle is rejected as a configuration error (this
// specification's resolution of the corresponding Open Question).
func (o Options) Validate() error {
	if o.Limit == 0 {
		return record.NewError(record.ErrConfig, "batcher.Options.Validate", errZeroLimit)
	}
	if o.Prefetch == 0 {
		return record.NewError(record.ErrConfig, "batcher.Options.Validate", errZeroPrefetch)
	}
	if o.Shuffle && o.Seed == nil {
		return record.NewError(record.ErrConfig, "batcher.Options.Validate", errShuffleNeedsSeed)
	}
	if o.Sort && !o.Shuffle {
		return record.NewError(record.ErrConfig, "batcher.Options.Validate", errSortNeedsShuffle)
	}
	return nil
}

// DebugLogger receives a message when a single item exceeds the
// TokenCount limit and must be emitted as a singleton batch.
type DebugLogger func(msg string, args ...any)

// Batcher groups a stream of Sized items into batches.
type Batcher[T record.Sized] struct {
	opts   Options
	in     <-chan record.Result[T]
	log    DebugLogger
	buf    []T
	done   bool // upstream exhausted
	rng    *rand.Rand
	queued []record.Batch[T] // shuffled batches ready to drain, when Shuffle
	qpos   int
	lastErr error
}

// New constructs a Batcher reading from in. log may be nil.
func New[T record.Sized](opts Options, in <-chan record.Result[T], log DebugLogger) (*Batcher[T], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = func(string, ...any) {}
	}
	var rng *rand.Rand
	if opts.Shuffle {
		rng = rand.New(rand.NewSource(int64(*opts.Seed)))
	}
	return &Batcher[T]{opts: opts, in: in, log: log, rng: rng}, nil
}

// LastErr returns the most recent per-record error observed while
// refilling the prefetch buffer, or nil. Used by the loader's terminal
// error side-channel (spec §7/§9).
func (b *Batcher[T]) LastErr() error { return b.lastErr }

// Next returns the next batch, or ok=false once both the prefetch buffer
// and upstream are exhausted.
func (b *Batcher[T]) Next() (record.Batch[T], bool, error) {
	if b.opts.Shuffle {
		return b.nextShuffled()
	}
	return b.nextPlain()
}

func (b *Batcher[T]) nextPlain() (record.Batch[T], bool, error) {
	b.refill()
	if len(b.buf) == 0 {
		return record.Batch[T]{}, false, nil
	}
	batch, rest := b.cutOne(b.buf)
	b.buf = rest
	return batch, true, nil
}

// nextShuffled drains the entire stream into sorted/cut batches once,
// shuffles the batch order, then serves from the shuffled queue — the
// batch-level permutation is a deterministic function of seed (spec §5).
func (b *Batcher[T]) nextShuffled() (record.Batch[T], bool, error) {
	if b.queued == nil {
		for {
			b.refill()
			if len(b.buf) == 0 {
				break
			}
			batch, rest := b.cutOne(b.buf)
			b.buf = rest
			b.queued = append(b.queued, batch)
		}
		b.rng.Shuffle(len(b.queued), func(i, j int) {
			b.queued[i], b.queued[j] = b.queued[j], b.queued[i]
		})
	}
	if b.qpos >= len(b.queued) {
		return record.Batch[T]{}, false, nil
	}
	batch := b.queued[b.qpos]
	b.qpos++
	return batch, true, nil
}

// refill pulls from upstream until the prefetch buffer holds
// Prefetch*Limit items or upstream ends, then sorts it if configured.
func (b *Batcher[T]) refill() {
	if b.done {
		return
	}
	target := int(b.opts.Prefetch * b.opts.Limit)
	for len(b.buf) < target {
		r, ok := <-b.in
		if !ok {
			b.done = true
			break
		}
		if r.Err != nil {
			b.lastErr = r.Err
			continue
		}
		b.buf = append(b.buf, r.Value)
	}
	if b.opts.Sort {
		sort.SliceStable(b.buf, func(i, j int) bool {
			return b.buf[i].Size() < b.buf[j].Size()
		})
	}
}

// cutOne scans buf left to right, accumulating items under the limit,
// per spec §4.4 step 3. It returns the cut batch and the remainder.
func (b *Batcher[T]) cutOne(buf []T) (record.Batch[T], []T) {
	limit := int(b.opts.Limit)

	// TokenCount singleton-overflow exception: an item whose own size
	// already exceeds the limit is emitted alone, with a debug warning.
	if b.opts.LimitType == TokenCount && buf[0].Size() > limit {
		b.log("batcher: item size %d exceeds token-count limit %d, emitting as singleton batch",
			buf[0].Size(), limit)
		return record.Batch[T]{Items: []T{buf[0]}}, buf[1:]
	}

	maxSize := 0
	count := 0
	for i, item := range buf {
		switch b.opts.LimitType {
		case BatchSize:
			if count+1 > limit {
				return record.Batch[T]{Items: append([]T(nil), buf[:i]...)}, buf[i:]
			}
		case TokenCount:
			nextMax := maxSize
			if item.Size() > nextMax {
				nextMax = item.Size()
			}
			if nextMax*(count+1) > limit {
				return record.Batch[T]{Items: append([]T(nil), buf[:i]...)}, buf[i:]
			}
			maxSize = nextMax
		}
		count++
	}
	return record.Batch[T]{Items: append([]T(nil), buf...)}, nil
}

var (
	errZeroLimit        = simpleErr("limit must be > 0")
	errZeroPrefetch     = simpleErr("prefetch must be >= 1")
	errShuffleNeedsSeed = simpleErr("shuffle requires a seed")
	errSortNeedsShuffle = simpleErr("sort=true requires shuffle=true (sort without shuffle leaks dataset order deterministically)")
)

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
