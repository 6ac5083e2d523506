package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bft-labs/tagcam/internal/clock"
	"github.com/bft-labs/tagcam/internal/domain"
)

// DefaultQueueCapacity is the default depth of the capture queue.
const DefaultQueueCapacity = 10

// QueueStats is a snapshot of capture queue counters.
type QueueStats struct {
	Enqueued uint64
	Dropped  uint64
	Depth    int
	Capacity int
}

// CaptureQueue is the bounded FIFO between the capture orchestrator (single
// producer) and the delivery worker (single consumer). Enqueue never blocks;
// a full queue rejects the job.
type CaptureQueue struct {
	ch    chan domain.CaptureJob
	clock clock.Clock

	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

// NewCaptureQueue creates a queue holding at most capacity jobs.
// A non-positive capacity selects DefaultQueueCapacity.
func NewCaptureQueue(capacity int, c clock.Clock) *CaptureQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if c == nil {
		c = clock.Real()
	}
	return &CaptureQueue{
		ch:    make(chan domain.CaptureJob, capacity),
		clock: c,
	}
}

// TryEnqueue adds job without blocking. It returns domain.ErrQueueFull when
// the queue is at capacity; the job is then still owned by the caller.
func (q *CaptureQueue) TryEnqueue(job domain.CaptureJob) error {
	select {
	case q.ch <- job:
		q.enqueued.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		return domain.ErrQueueFull
	}
}

// Dequeue waits up to timeout for the next job. ok is false when the wait
// timed out. err is set only when ctx was canceled.
func (q *CaptureQueue) Dequeue(ctx context.Context, timeout time.Duration) (job domain.CaptureJob, ok bool, err error) {
	// Take a ready job first so a canceled context does not hide queued work.
	select {
	case job = <-q.ch:
		return job, true, nil
	default:
	}

	select {
	case <-ctx.Done():
		return domain.CaptureJob{}, false, ctx.Err()
	case job = <-q.ch:
		return job, true, nil
	case <-q.clock.After(timeout):
		return domain.CaptureJob{}, false, nil
	}
}

// Drain removes every queued job and passes it to fn.
func (q *CaptureQueue) Drain(fn func(domain.CaptureJob)) int {
	n := 0
	for {
		select {
		case job := <-q.ch:
			n++
			if fn != nil {
				fn(job)
			}
		default:
			return n
		}
	}
}

// Len returns the number of queued jobs.
func (q *CaptureQueue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *CaptureQueue) Cap() int { return cap(q.ch) }

// Stats returns a snapshot of the queue counters.
func (q *CaptureQueue) Stats() QueueStats {
	return QueueStats{
		Enqueued: q.enqueued.Load(),
		Dropped:  q.dropped.Load(),
		Depth:    len(q.ch),
		Capacity: cap(q.ch),
	}
}
