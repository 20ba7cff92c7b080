// Package stage implements C3: applying a per-item transform across a
// bounded worker pool while preserving input order. The source tags each
// item with a monotonically increasing index at dispatch; workers attach
// the index to their output; a reorder buffer at the sink releases items
// strictly in index order. This is preferred over per-worker FIFOs
// because it keeps ordering correct under variable per-item latency.
package stage

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tejas242/dataloader/internal/record"
)

// MaxWorkers is the upper bound on worker count accepted by New.
const MaxWorkers = 64

// Transform is the user-supplied per-item function. It must be
// thread-safe and deterministic given (in, index, seed) — Go's memory
// model gives race-free sharing for an immutable closure like this
// automatically, so there is no separate Send+Sync marker to satisfy.
type Transform[In, Out any] func(in In, index uint64, seed *uint64) (Out, error)

type indexed[T any] struct {
	index uint64
	value record.Result[T]
}

// Stage runs Transform over an input stream with W workers, forwarding
// results downstream in input order.
type Stage[In, Out any] struct {
	f       Transform[In, Out]
	seed    *uint64
	workers int
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// New constructs a Stage. workers must be in [1, MaxWorkers].
func New[In, Out any](f Transform[In, Out], seed *uint64, workers int) (*Stage[In, Out], error) {
	if workers < 1 || workers > MaxWorkers {
		return nil, record.NewError(record.ErrConfig, "stage.New", errWorkerRange)
	}
	return &Stage[In, Out]{f: f, seed: seed, workers: workers}, nil
}

// Run consumes in and returns a channel of results in the same order as
// the input. When W == 1 the transform executes on a single goroutine
// with no dispatcher, worker pool or reorder buffer; it does not run on
// the consumer's own goroutine. For W > 1 a dispatcher tags inputs with
// a monotonic index, a pool of workers applies f concurrently, and a
// reorder buffer holding at most 4*W in-flight results releases them to
// the output channel in index order. Dropping the returned channel's
// consumer and calling Close signals all goroutines to stop and discards
// pending inputs; for W > 1 Close also joins every goroutine before
// returning, while for W == 1 it does not wait for the goroutine to exit.
func (s *Stage[In, Out]) Run(ctx context.Context, in <-chan record.Result[In]) <-chan record.Result[Out] {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.workers == 1 {
		return s.runInline(ctx, in)
	}
	return s.runParallel(ctx, in)
}

// Close cancels any in-flight work and, for W > 1, joins every goroutine
// the stage started; the single W == 1 goroutine is signaled but not
// waited for. It is a no-op if Run has not been called.
func (s *Stage[In, Out]) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		return s.group.Wait()
	}
	return nil
}

func (s *Stage[In, Out]) runInline(ctx context.Context, in <-chan record.Result[In]) <-chan record.Result[Out] {
	out := make(chan record.Result[Out])
	go func() {
		defer close(out)
		var idx uint64
		for r := range in {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if r.Err != nil {
				select {
				case out <- record.Err[Out](r.Err):
				case <-ctx.Done():
					return
				}
				idx++
				continue
			}
			v, err := s.f(r.Value, idx, s.seed)
			idx++
			var res record.Result[Out]
			if err != nil {
				res = record.Err[Out](wrapTransformErr(err))
			} else {
				res = record.Ok(v)
			}
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *Stage[In, Out]) runParallel(ctx context.Context, in <-chan record.Result[In]) <-chan record.Result[Out] {
	w := s.workers
	maxInFlight := 4 * w
	dispatch := make(chan indexed[In], 2*w)
	collected := make(chan indexed[Out], 2*w)
	out := make(chan record.Result[Out])
	// inFlight bounds the number of items pulled from upstream but not
	// yet released downstream (in dispatch, being worked on, in
	// collected, or sitting in the reorder buffer's pending map) to
	// maxInFlight, the §4.3/§5 backpressure contract. The dispatcher
	// acquires a slot before accepting each item; the sink releases one
	// exactly when it emits that item to out.
	inFlight := make(chan struct{}, maxInFlight)

	g, gctx := errgroup.WithContext(ctx)
	s.group = g

	// Dispatcher: tags each input with a monotonically increasing index
	// derived from input position, not worker scheduling — this is what
	// guarantees determinism for a fixed (input sequence, seed, W). It
	// blocks on inFlight once maxInFlight items are outstanding, which is
	// what makes upstream pulls block when the stage is full.
	g.Go(func() error {
		defer close(dispatch)
		var idx uint64
		for {
			select {
			case r, ok := <-in:
				if !ok {
					return nil
				}
				select {
				case inFlight <- struct{}{}:
				case <-gctx.Done():
					return nil
				}
				select {
				case dispatch <- indexed[In]{index: idx, value: r}:
				case <-gctx.Done():
					return nil
				}
				idx++
			case <-gctx.Done():
				return nil
			}
		}
	})

	// Worker pool: tracked with its own WaitGroup (rather than folding
	// each worker into the errgroup directly) so a dedicated goroutine
	// can close collected exactly once, after every worker has stopped
	// pulling from dispatch.
	var workersWG sync.WaitGroup
	workersWG.Add(w)
	for i := 0; i < w; i++ {
		g.Go(func() error {
			defer workersWG.Done()
			for item := range dispatch {
				var res indexed[Out]
				res.index = item.index
				if item.value.Err != nil {
					res.value = record.Err[Out](item.value.Err)
				} else {
					v, err := s.f(item.value.Value, item.index, s.seed)
					if err != nil {
						res.value = record.Err[Out](wrapTransformErr(err))
					} else {
						res.value = record.Ok(v)
					}
				}
				select {
				case collected <- res:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		workersWG.Wait()
		close(collected)
		return nil
	})

	// Reorder buffer + sink: releases results to out strictly in index
	// order. inFlight (acquired by the dispatcher, released here) is what
	// actually bounds in-flight items to 4*W; pending only ever holds
	// items the dispatcher already counted against that bound, so it
	// cannot grow past it either.
	g.Go(func() error {
		defer close(out)
		pending := make(map[uint64]indexed[Out])
		next := uint64(0)
		closed := false
		var pendingCount int
		for {
			if closed && pendingCount == 0 {
				return nil
			}
			if v, ok := pending[next]; ok {
				select {
				case out <- v.value:
					delete(pending, next)
					pendingCount--
					next++
					select {
					case <-inFlight:
					default:
					}
					continue
				case <-gctx.Done():
					return nil
				}
			}
			if closed {
				// next item not yet arrived but channel closed means it
				// never will (shouldn't happen in practice); bail.
				return nil
			}
			select {
			case item, ok := <-collected:
				if !ok {
					closed = true
					continue
				}
				pending[item.index] = item
				pendingCount++
			case <-gctx.Done():
				return nil
			}
		}
	})

	return out
}

// wrapTransformErr preserves the original error kind when the
// transform already produced a typed *record.Error (preprocess/label/
// tokenize each tag their own kind); only an untyped error falls back
// to Tokenize, the most common per-item transform in this stage.
func wrapTransformErr(err error) error {
	var re *record.Error
	if errors.As(err, &re) {
		return re
	}
	return record.NewError(record.ErrTokenize, "stage.Transform", err)
}

var errWorkerRange = simpleErr("worker count must be in [1, 64]")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
