package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bft-labs/tagcam/internal/clock"
	"github.com/bft-labs/tagcam/internal/domain"
)

func testJob(serial uint64) domain.CaptureJob {
	frame := domain.NewFrame([]byte{0xFF, 0xD8, 0xFF, 0xD9}, domain.FormatJPEG, 0, 0, nil)
	return domain.NewCaptureJob(domain.Tag{SerialNumber: serial}, frame, time.Unix(1700000000, 0), true)
}

func TestCaptureQueue_FIFO(t *testing.T) {
	q := NewCaptureQueue(3, nil)
	for i := uint64(1); i <= 3; i++ {
		if err := q.TryEnqueue(testJob(i)); err != nil {
			t.Fatalf("TryEnqueue(%d) error = %v", i, err)
		}
	}

	for want := uint64(1); want <= 3; want++ {
		job, ok, err := q.Dequeue(context.Background(), time.Second)
		if err != nil || !ok {
			t.Fatalf("Dequeue() = ok %v, err %v", ok, err)
		}
		if job.Tag.SerialNumber != want {
			t.Errorf("dequeued serial %d, want %d", job.Tag.SerialNumber, want)
		}
	}
}

func TestCaptureQueue_FullNeverBlocks(t *testing.T) {
	q := NewCaptureQueue(2, nil)
	_ = q.TryEnqueue(testJob(1))
	_ = q.TryEnqueue(testJob(2))

	done := make(chan error, 1)
	go func() { done <- q.TryEnqueue(testJob(3)) }()

	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrQueueFull) {
			t.Errorf("TryEnqueue() on full queue = %v, want ErrQueueFull", err)
		}
	case <-time.After(time.Second):
		t.Fatal("TryEnqueue blocked on a full queue")
	}

	stats := q.Stats()
	if stats.Enqueued != 2 || stats.Dropped != 1 || stats.Depth != 2 || stats.Capacity != 2 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestCaptureQueue_DefaultCapacity(t *testing.T) {
	q := NewCaptureQueue(0, nil)
	if q.Cap() != DefaultQueueCapacity {
		t.Errorf("Cap() = %d, want %d", q.Cap(), DefaultQueueCapacity)
	}
}

func TestCaptureQueue_DequeueTimeout(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	q := NewCaptureQueue(1, fc)

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		_, ok, err := q.Dequeue(context.Background(), 30*time.Second)
		done <- result{ok, err}
	}()

	fc.WaitForTimers(1)
	fc.Advance(30 * time.Second)

	r := <-done
	if r.ok || r.err != nil {
		t.Errorf("Dequeue() after timeout = ok %v, err %v; want false, nil", r.ok, r.err)
	}
}

func TestCaptureQueue_DequeuePrefersReadyJob(t *testing.T) {
	q := NewCaptureQueue(1, nil)
	_ = q.TryEnqueue(testJob(7))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, ok, err := q.Dequeue(ctx, time.Second)
	if err != nil || !ok || job.Tag.SerialNumber != 7 {
		t.Errorf("Dequeue() = %d, %v, %v; want queued job", job.Tag.SerialNumber, ok, err)
	}

	if _, _, err := q.Dequeue(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Dequeue() on empty queue with canceled ctx = %v", err)
	}
}

func TestCaptureQueue_Drain(t *testing.T) {
	q := NewCaptureQueue(4, nil)
	for i := uint64(1); i <= 3; i++ {
		_ = q.TryEnqueue(testJob(i))
	}

	var seen []uint64
	n := q.Drain(func(job domain.CaptureJob) { seen = append(seen, job.Tag.SerialNumber) })
	if n != 3 || len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("Drain() = %d, seen %v", n, seen)
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Drain = %d", q.Len())
	}
}
