package loader

import (
	"context"
	"sync"

	"github.com/tejas242/dataloader/internal/batcher"
	"github.com/tejas242/dataloader/internal/buffer"
	"github.com/tejas242/dataloader/internal/generator"
	"github.com/tejas242/dataloader/internal/record"
	"github.com/tejas242/dataloader/internal/stage"
	"github.com/tejas242/dataloader/internal/tensor"
	"github.com/tejas242/dataloader/internal/windowing"
)

// InferenceRun is the inference-variant sibling of Run: it expands each
// source record into a sequence of InferenceItems via the external
// Windower, flattens before batching, and has no label step.
type InferenceRun struct {
	stg     *stage.Stage[record.InferenceRecord, []record.InferenceItem]
	bat     *batcher.Batcher[record.InferenceItem]
	buf     *buffer.Buffer
	cancel  context.CancelFunc
	errs    *errSlot
	mu      sync.Mutex
	yielded int
}

// errSlot is a shared, mutex-protected slot a background goroutine sets
// once and a consumer polls, the out-of-band carrier a Window/Tokenize
// failure needs to reach InferenceRun.Next immediately instead of being
// dropped by the error-swallowing batcher (spec §7's inference
// strictness requirement: such errors "abort iteration" rather than
// being skipped like a training per-record error).
type errSlot struct {
	mu  sync.Mutex
	err error
}

func (s *errSlot) set(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *errSlot) get() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Next pulls the next tensorized inference batch. A Window or Tokenize
// error is surfaced immediately through the errSlot rather than routed
// through the batcher, which would otherwise silently drop it as a
// per-record error the way the training Run's last-error side channel
// does.
func (r *InferenceRun) Next() (record.TensorizedBatch, bool, error) {
	if err := r.errs.get(); err != nil {
		return record.TensorizedBatch{}, false, err
	}
	tb, ok, err := r.buf.Next()
	if err != nil {
		return record.TensorizedBatch{}, false, err
	}
	if !ok {
		if err := r.errs.get(); err != nil {
			return record.TensorizedBatch{}, false, err
		}
		return record.TensorizedBatch{}, false, nil
	}
	r.mu.Lock()
	r.yielded++
	r.mu.Unlock()
	return tb, true, nil
}

// Close releases every goroutine this run started, in reverse
// topological order (buffer, then stage) — the same discipline the
// training Run follows.
func (r *InferenceRun) Close() error {
	err := r.buf.Close()
	if sErr := r.stg.Close(); sErr != nil && err == nil {
		err = sErr
	}
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

// InferenceEpoch concatenates sources sequentially (the inference
// variant mixes only Sequential — see concatInferenceSources), runs the windowing +
// tokenization transform per source record through the same
// PipelineStage worker pool the training loader uses (num_threads
// workers, ordered output), flattens each record's windows in order,
// then batches, tensorizes (without labels) and buffers.
func (l *Loader) InferenceEpoch(sources []generator.InferenceGenerator, cfg windowing.Config) (*InferenceRun, error) {
	if l.opts.Windower == nil {
		return nil, record.NewError(record.ErrConfig, "Loader.InferenceEpoch", errNoWindower)
	}
	if len(sources) == 0 {
		return nil, record.NewError(record.ErrConfig, "Loader.InferenceEpoch", errNoSources)
	}

	ctx, cancel := context.WithCancel(context.Background())

	concatenated := concatInferenceSources(ctx, sources)

	transform := l.windowTransform(cfg)
	stg, err := stage.New(transform, nil, l.opts.NumThreads)
	if err != nil {
		cancel()
		return nil, err
	}
	grouped := stg.Run(ctx, concatenated)
	errs := &errSlot{}
	flattened := flattenInferenceGroups(ctx, cancel, grouped, errs)

	batOpts := batcher.Options{
		LimitType: l.opts.BatchLimitType,
		Limit:     l.opts.BatchLimit,
		Prefetch:  l.opts.PrefetchFactor,
		Sort:      l.opts.Sort,
		Shuffle:   l.opts.Shuffle,
		Seed:      seedPtr(l.opts.epochSeed(0), l.opts.Shuffle),
	}
	dbg := l.opts.DebugLogger
	if dbg == nil {
		dbg = func(msg string, args ...any) { l.log.Debug(msg, args...) }
	}
	bat, err := batcher.New(batOpts, flattened, dbg)
	if err != nil {
		cancel()
		return nil, err
	}

	run := &InferenceRun{stg: stg, bat: bat, cancel: cancel, errs: errs}
	run.buf = buffer.New(ctx, l.opts.BufferSize, func() (record.TensorizedBatch, bool, error) {
		b, ok, err := bat.Next()
		if err != nil {
			return record.TensorizedBatch{}, false, err
		}
		if !ok {
			return record.TensorizedBatch{}, false, nil
		}
		return tensor.TensorizeInference(b, l.opts.Tokenizer)
	})
	return run, nil
}

// windowTransform builds the per-record PipelineStage transform: cut cfg
// windows out of the record's text via the configured Windower, then
// tokenize each window. The item's dispatch index (assigned by the
// stage's dispatcher from input position, not worker scheduling) is
// exactly the record's source_index, since concatInferenceSources
// assigns input positions in strict source-concatenation order.
func (l *Loader) windowTransform(cfg windowing.Config) stage.Transform[record.InferenceRecord, []record.InferenceItem] {
	return func(rec record.InferenceRecord, index uint64, _ *uint64) ([]record.InferenceItem, error) {
		windows, err := l.opts.Windower.Windows(rec.Original, cfg)
		if err != nil {
			return nil, record.NewError(record.ErrWindow, "loader.windowTransform", err)
		}
		items := make([]record.InferenceItem, len(windows))
		for wi, w := range windows {
			tok, err := l.opts.Tokenizer.Tokenize(w.Text, rec.Language)
			if err != nil {
				return nil, record.NewError(record.ErrTokenize, "loader.windowTransform", err)
			}
			items[wi] = record.InferenceItem{
				Data:         rec,
				Tokenization: tok,
				SourceIndex:  uint(index),
				WindowIndex:  uint(wi),
				Bounds:       w.Bounds,
			}
		}
		return items, nil
	}
}

// concatInferenceSources drains sources in order onto a single stream,
// the inference-variant sibling of iterator.Sequential — InferenceGenerator
// doesn't implement iterator.Strategy's min_len-reporting Generator
// interface, so sequencing is inlined here rather than routed through C2.
func concatInferenceSources(ctx context.Context, sources []generator.InferenceGenerator) <-chan record.Result[record.InferenceRecord] {
	out := make(chan record.Result[record.InferenceRecord])
	go func() {
		defer close(out)
		for _, src := range sources {
			for r := range src.Produce() {
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// flattenInferenceGroups unpacks each stage result's window slice onto a
// flat stream in order, per spec §4.7: "C3's output is then flattened
// before batching". A Window or Tokenize error aborts the run immediately
// (spec §7's inference strictness) rather than being dropped like a
// training per-record error: it is recorded in errs — not forwarded
// in-stream, since the downstream batcher drops Err results into its own
// last-error slot instead of surfacing them — and cancel is called so
// the stage's worker pool and the rest of the pipeline stop promptly.
func flattenInferenceGroups(ctx context.Context, cancel context.CancelFunc, in <-chan record.Result[[]record.InferenceItem], errs *errSlot) <-chan record.Result[record.InferenceItem] {
	out := make(chan record.Result[record.InferenceItem])
	go func() {
		defer close(out)
		for r := range in {
			if r.Err != nil {
				errs.set(r.Err)
				cancel()
				return
			}
			for _, item := range r.Value {
				select {
				case out <- record.Ok(item):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

var errNoWindower = simpleErr("inference epoch requires a configured Windower")
