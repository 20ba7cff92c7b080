// Package buffer implements C6: a bounded prefetch queue fed by a
// single background goroutine, the same done-channel shutdown
// discipline the teacher repo's internal/watcher.Watch uses for its
// fsnotify event loop, adapted here to pump TensorizedBatch values
// instead of filesystem events.
package buffer

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tejas242/dataloader/internal/record"
)

// Source produces the next batch, or io.EOF-equivalent via ok=false.
type Source func() (record.TensorizedBatch, bool, error)

// Buffer prefetches up to capacity batches from a Source on a single
// background goroutine, so the consumer's Next call returns
// immediately whenever the queue is non-empty (spec §5's single
// background thread behind C4/C6).
type Buffer struct {
	out    chan record.TensorizedBatch
	group  *errgroup.Group
	cancel context.CancelFunc
	errs   chan error
}

// New starts the background prefetch goroutine. capacity is the
// bounded channel size (spec's buffer_size).
func New(ctx context.Context, capacity int, src Source) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	b := &Buffer{
		out:    make(chan record.TensorizedBatch, capacity),
		group:  g,
		cancel: cancel,
		errs:   make(chan error, 1),
	}
	g.Go(func() error {
		defer close(b.out)
		for {
			batch, ok, err := src()
			if err != nil {
				b.errs <- err
				return err
			}
			if !ok {
				return nil
			}
			select {
			case b.out <- batch:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})
	return b
}

// Next returns the next prefetched batch. ok is false once the source
// is exhausted; err is non-nil only on a genuine source failure
// (Contract errors propagate here, since C4/C5 have already dropped
// per-record errors by this point in the pipeline).
func (b *Buffer) Next() (record.TensorizedBatch, bool, error) {
	batch, ok := <-b.out
	if ok {
		return batch, true, nil
	}
	select {
	case err := <-b.errs:
		return record.TensorizedBatch{}, false, err
	default:
		return record.TensorizedBatch{}, false, nil
	}
}

// Close stops the background goroutine and waits for it to exit,
// mirroring Watch's done-channel-then-join shutdown.
func (b *Buffer) Close() error {
	b.cancel()
	for range b.out {
	}
	return b.group.Wait()
}
