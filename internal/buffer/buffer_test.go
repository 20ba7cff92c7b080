package buffer

import (
	"context"
	"testing"

	"github.com/tejas242/dataloader/internal/record"
)

func TestBufferDrainsInOrder(t *testing.T) {
	var i int
	src := func() (record.TensorizedBatch, bool, error) {
		if i >= 5 {
			return record.TensorizedBatch{}, false, nil
		}
		b := record.TensorizedBatch{Lengths: []int{i}}
		i++
		return b, true, nil
	}
	buf := New(context.Background(), 2, src)
	defer buf.Close()

	for want := 0; want < 5; want++ {
		batch, ok, err := buf.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			t.Fatalf("Next ended early at %d", want)
		}
		if batch.Lengths[0] != want {
			t.Errorf("got %d, want %d", batch.Lengths[0], want)
		}
	}
	if _, ok, err := buf.Next(); ok || err != nil {
		t.Fatalf("expected exhaustion, got ok=%v err=%v", ok, err)
	}
}

func TestBufferSurfacesSourceError(t *testing.T) {
	boom := simpleErr("source failed")
	src := func() (record.TensorizedBatch, bool, error) {
		return record.TensorizedBatch{}, false, boom
	}
	buf := New(context.Background(), 4, src)
	defer buf.Close()

	_, ok, err := buf.Next()
	if ok {
		t.Fatal("expected ok=false on error")
	}
	if err != boom {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestBufferCloseStopsGoroutine(t *testing.T) {
	src := func() (record.TensorizedBatch, bool, error) {
		return record.TensorizedBatch{}, true, nil
	}
	buf := New(context.Background(), 2, src)
	if _, ok, err := buf.Next(); !ok || err != nil {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if err := buf.Close(); err == nil {
		t.Log("close returned nil error, which is fine for a cancellation race")
	}
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
