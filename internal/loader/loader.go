// Package loader implements C7: the façade that composes a TextIterator
// (C2), a PipelineStage (C3), a Batcher (C4), a Tensorizer (C5) and a
// Buffer (C6) into one pull-based training or inference stream, with
// distributed sharding, skip/limit, and per-epoch seeding.
//
// Optional construction parameters are threaded through functional
// options, the pattern the pack's hugot pipelines package uses for its
// PipelineOption[T] values (see TokenClassificationPipeline's
// WithSimpleAggregation/WithIgnoreLabels) — generalized here to this
// loader's much larger option set.
package loader

import (
	"context"
	"os"
	"runtime"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/tejas242/dataloader/internal/batcher"
	"github.com/tejas242/dataloader/internal/buffer"
	"github.com/tejas242/dataloader/internal/generator"
	"github.com/tejas242/dataloader/internal/iterator"
	"github.com/tejas242/dataloader/internal/preprocess"
	"github.com/tejas242/dataloader/internal/record"
	"github.com/tejas242/dataloader/internal/stage"
	"github.com/tejas242/dataloader/internal/tensor"
	"github.com/tejas242/dataloader/internal/tokenizer"
	"github.com/tejas242/dataloader/internal/windowing"
)

// Options collects every loader parameter from spec §4.7's table.
// Zero-value Options is not usable directly; build one through New with
// functional Option values.
type Options struct {
	Sources    []generator.Generator
	Strategy   iterator.Strategy
	Tokenizer  tokenizer.Tokenizer
	Preprocess preprocess.Fn
	Label      preprocess.LabelFn
	Windower   windowing.Windower

	NumThreads     int
	BufferSize     int
	BatchLimitType batcher.LimitType
	BatchLimit     uint
	PrefetchFactor uint
	Sort           bool
	Shuffle        bool
	Seed           *uint64
	Skip           int
	Limit          int // 0 means unbounded
	FastForward    int
	Rank           int
	WorldSize      int
	DebugLogger    batcher.DebugLogger
	Logger         *log.Logger
}

// Option mutates Options during construction.
type Option func(*Options)

func WithPreprocess(fn preprocess.Fn) Option     { return func(o *Options) { o.Preprocess = fn } }
func WithLabel(fn preprocess.LabelFn) Option     { return func(o *Options) { o.Label = fn } }
func WithWindower(w windowing.Windower) Option   { return func(o *Options) { o.Windower = w } }
func WithNumThreads(n int) Option                { return func(o *Options) { o.NumThreads = n } }
func WithBufferSize(n int) Option                { return func(o *Options) { o.BufferSize = n } }
func WithPrefetch(n uint) Option                 { return func(o *Options) { o.PrefetchFactor = n } }
func WithSort() Option                           { return func(o *Options) { o.Sort = true } }
func WithFastForward(n int) Option               { return func(o *Options) { o.FastForward = n } }

// WithShuffle enables batch-level shuffling seeded deterministically per
// epoch (seed + epoch).
func WithShuffle(seed uint64) Option {
	return func(o *Options) { o.Shuffle = true; o.Seed = &seed }
}

// WithSeed sets the base seed without enabling shuffle (consulted by the
// Weighted strategy and by randomized preprocessing functions).
func WithSeed(seed uint64) Option {
	return func(o *Options) { o.Seed = &seed }
}

// WithBatchLimit sets C4's limit policy.
func WithBatchLimit(t batcher.LimitType, limit uint) Option {
	return func(o *Options) { o.BatchLimitType = t; o.BatchLimit = limit }
}

// WithSkipLimit drops the first skip items after strategy application
// and takes at most limit (0 = unbounded) before sharding.
func WithSkipLimit(skip, limit int) Option {
	return func(o *Options) { o.Skip = skip; o.Limit = limit }
}

// WithDistributed configures rank/world_size sharding.
func WithDistributed(rank, worldSize int) Option {
	return func(o *Options) { o.Rank = rank; o.WorldSize = worldSize }
}

func WithDebugLogger(fn batcher.DebugLogger) Option { return func(o *Options) { o.DebugLogger = fn } }
func WithLogger(l *log.Logger) Option               { return func(o *Options) { o.Logger = l } }

func defaultOptions() Options {
	threads := runtime.NumCPU()
	if threads > 4 {
		threads = 4
	}
	if threads < 1 {
		threads = 1
	}
	return Options{
		Strategy:       iterator.Sequential{},
		Preprocess:     preprocess.Clean,
		NumThreads:     threads,
		BufferSize:     128,
		BatchLimitType: batcher.BatchSize,
		BatchLimit:     32,
		PrefetchFactor: 1,
		WorldSize:      1,
	}
}

// Loader is the façade over C1…C6. It is immutable after New and safe to
// call Epoch/InferenceEpoch concurrently from multiple goroutines.
type Loader struct {
	id   uuid.UUID
	opts Options
	log  *log.Logger
}

// New validates opts synchronously and returns a ready Loader. sources
// and tok are required; everything else has a spec-compliant default.
func New(sources []generator.Generator, tok tokenizer.Tokenizer, opts ...Option) (*Loader, error) {
	o := defaultOptions()
	o.Sources = sources
	o.Tokenizer = tok
	for _, apply := range opts {
		apply(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	id := uuid.New()
	logger := o.Logger
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	logger = logger.With("run_id", id.String())

	return &Loader{id: id, opts: o, log: logger}, nil
}

func (o Options) validate() error {
	if len(o.Sources) == 0 {
		return record.NewError(record.ErrConfig, "loader.New", errNoSources)
	}
	if o.Tokenizer == nil {
		return record.NewError(record.ErrConfig, "loader.New", errNoTokenizer)
	}
	if o.WorldSize < 1 {
		return record.NewError(record.ErrConfig, "loader.New", errBadWorldSize)
	}
	if o.Rank < 0 || o.Rank >= o.WorldSize {
		return record.NewError(record.ErrConfig, "loader.New", errBadRank)
	}
	if o.Shuffle && o.Seed == nil {
		return record.NewError(record.ErrConfig, "loader.New", errShuffleNeedsSeed)
	}
	if o.Sort && !o.Shuffle {
		return record.NewError(record.ErrConfig, "loader.New", errSortNeedsShuffle)
	}
	if o.NumThreads < 1 {
		return record.NewError(record.ErrConfig, "loader.New", errBadThreads)
	}
	return nil
}

func (o Options) skipTotal() int { return o.Skip + o.FastForward + o.Rank }

func (o Options) epochSeed(epoch int) uint64 {
	var base uint64
	if o.Seed != nil {
		base = *o.Seed
	}
	return base + uint64(epoch)
}

// Run is a single epoch's pull-based pipeline.
type Run struct {
	loader  *Loader
	stg     *stage.Stage[record.Record, record.Item]
	bat     *batcher.Batcher[record.Item]
	buf     *buffer.Buffer
	cancel  context.CancelFunc
	min     int
	mu      sync.Mutex
	yielded int
}

// MinItems reports the lower bound on item count computed before the
// first pull, per spec §4.7.
func (r *Run) MinItems() int { return r.min }

// Next pulls the next tensorized batch. ok is false once the epoch is
// exhausted; err is non-nil only when the last-error side channel has a
// value and zero batches were ever yielded (spec §7/§9), or on a fatal
// Contract error from tensorization.
func (r *Run) Next() (record.TensorizedBatch, bool, error) {
	tb, ok, err := r.buf.Next()
	if err != nil {
		return record.TensorizedBatch{}, false, err
	}
	if !ok {
		r.mu.Lock()
		yielded := r.yielded
		r.mu.Unlock()
		if yielded == 0 {
			if le := r.bat.LastErr(); le != nil {
				return record.TensorizedBatch{}, false, le
			}
		}
		return record.TensorizedBatch{}, false, nil
	}
	r.mu.Lock()
	r.yielded++
	r.mu.Unlock()
	return tb, true, nil
}

// Close releases every goroutine this Run started, in reverse
// topological order (buffer, then stage) — spec §5's cancellation
// contract.
func (r *Run) Close() error {
	err := r.buf.Close()
	if sErr := r.stg.Close(); sErr != nil && err == nil {
		err = sErr
	}
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

// Epoch assembles the per-iteration pipeline from spec §4.7: a
// TextIterator composed under Strategy, sharded by skip/limit/rank/
// world_size, run through the preprocess→tokenize→label PipelineStage,
// batched, tensorized, and buffered.
func (l *Loader) Epoch(epoch int) (*Run, error) {
	if l.opts.Label == nil {
		return nil, record.NewError(record.ErrConfig, "Loader.Epoch", errNoLabelFn)
	}
	seed := l.opts.epochSeed(epoch)

	it, err := iterator.New(l.opts.Strategy, seed, l.opts.Sources...)
	if err != nil {
		return nil, err
	}

	limit := l.opts.Limit
	skipTotal := l.opts.skipTotal()
	minLen := it.MinLen()
	bounded := minLen
	if limit > 0 && limit < bounded {
		bounded = limit
	}
	// Literal spec formula: (min(min_len, limit) - skip) / world_size,
	// using Skip alone (not FastForward/Rank), kept separate from
	// skipTotal's accounting used by shard. Because shard also skips
	// FastForward items, a non-zero FastForward can make this value
	// exceed the number of items the epoch actually yields.
	min := (bounded - l.opts.Skip) / l.opts.WorldSize
	if min < 0 {
		min = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	sharded := shard(it.Produce(), skipTotal, limit, l.opts.WorldSize)

	transform := l.itemTransform()
	stg, err := stage.New(transform, &seed, l.opts.NumThreads)
	if err != nil {
		cancel()
		return nil, err
	}
	items := stg.Run(ctx, sharded)

	batOpts := batcher.Options{
		LimitType: l.opts.BatchLimitType,
		Limit:     l.opts.BatchLimit,
		Prefetch:  l.opts.PrefetchFactor,
		Sort:      l.opts.Sort,
		Shuffle:   l.opts.Shuffle,
		Seed:      seedPtr(seed, l.opts.Shuffle),
	}
	dbg := l.opts.DebugLogger
	if dbg == nil {
		dbg = func(msg string, args ...any) { l.log.Debug(msg, args...) }
	}
	bat, err := batcher.New(batOpts, items, dbg)
	if err != nil {
		cancel()
		return nil, err
	}

	run := &Run{loader: l, stg: stg, bat: bat, cancel: cancel, min: min}
	run.buf = buffer.New(ctx, l.opts.BufferSize, func() (record.TensorizedBatch, bool, error) {
		b, ok, err := bat.Next()
		if err != nil {
			return record.TensorizedBatch{}, false, err
		}
		if !ok {
			return record.TensorizedBatch{}, false, nil
		}
		return tensor.Tensorize(b, l.opts.Tokenizer)
	})
	return run, nil
}

func seedPtr(seed uint64, shuffle bool) *uint64 {
	if !shuffle {
		return nil
	}
	s := seed
	return &s
}

func (l *Loader) itemTransform() stage.Transform[record.Record, record.Item] {
	return func(rec record.Record, _ uint64, seed *uint64) (record.Item, error) {
		var s uint64
		if seed != nil {
			s = *seed
		}
		pre, err := l.opts.Preprocess(rec, s)
		if err != nil {
			return record.Item{}, record.NewError(record.ErrPreprocess, "loader.itemTransform", err)
		}
		tok, err := l.opts.Tokenizer.Tokenize(pre.Processed, pre.Language)
		if err != nil {
			return record.Item{}, record.NewError(record.ErrTokenize, "loader.itemTransform", err)
		}
		lbl, err := l.opts.Label(pre)
		if err != nil {
			return record.Item{}, record.NewError(record.ErrLabel, "loader.itemTransform", err)
		}
		return record.Item{Data: pre, Tokenization: tok, Label: lbl}, nil
	}
}

// shard applies spec §4.7's take(limit).skip(skip).step(world_size)
// composition. The worked example in spec §8 scenario 2 fixes the
// evaluation order as skip-then-take-then-step over the raw stream
// (not the literal left-to-right method order): global index i is kept
// iff i >= skipTotal, (i - skipTotal) < limit (when limit > 0), and
// (i - skipTotal) % worldSize == 0. See DESIGN.md.
func shard(in <-chan record.Result[record.Record], skipTotal, limit, worldSize int) <-chan record.Result[record.Record] {
	out := make(chan record.Result[record.Record])
	go func() {
		defer close(out)
		idx := 0
		for r := range in {
			post := idx - skipTotal
			idx++
			if post < 0 {
				continue
			}
			if limit > 0 && post >= limit {
				continue
			}
			if post%worldSize != 0 {
				continue
			}
			out <- r
		}
	}()
	return out
}

var (
	errNoSources        = simpleErr("loader requires at least one source")
	errNoTokenizer      = simpleErr("loader requires a tokenizer")
	errNoLabelFn        = simpleErr("loader requires a label function for a training epoch")
	errBadWorldSize     = simpleErr("world_size must be >= 1")
	errBadRank          = simpleErr("rank must satisfy 0 <= rank < world_size")
	errShuffleNeedsSeed = simpleErr("shuffle requires a seed")
	errSortNeedsShuffle = simpleErr("sort=true requires shuffle=true")
	errBadThreads       = simpleErr("num_threads must be >= 1")
)

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
