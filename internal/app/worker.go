package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bft-labs/tagcam/internal/bus"
	"github.com/bft-labs/tagcam/internal/clock"
	"github.com/bft-labs/tagcam/internal/domain"
	"github.com/bft-labs/tagcam/internal/ports"
)

// DefaultPollTimeout is how long the worker waits on an empty queue before
// checking again.
const DefaultPollTimeout = 30 * time.Second

// Outcome is the terminal result of delivering one job.
type Outcome int

const (
	OutcomeDropped Outcome = iota
	OutcomeUploaded
	OutcomeArchived
)

// String returns a short name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeUploaded:
		return "uploaded"
	case OutcomeArchived:
		return "archived"
	default:
		return "dropped"
	}
}

// WorkerStats is a snapshot of delivery counters.
type WorkerStats struct {
	Uploaded uint64
	Archived uint64
	Dropped  uint64
}

// DeliveryWorker is the single consumer of the capture queue. For each job
// it asks the prober for a route and hands the image to the uploader or the
// archiver. Jobs are processed one at a time in queue order.
type DeliveryWorker struct {
	queue       *CaptureQueue
	prober      *Prober
	uploader    *Uploader
	archiver    *Archiver
	bus         *bus.Bus
	clock       clock.Clock
	logger      ports.Logger
	pollTimeout time.Duration

	running  atomic.Bool
	uploaded atomic.Uint64
	archived atomic.Uint64
	dropped  atomic.Uint64
}

// NewDeliveryWorker creates a delivery worker. archiver may be nil when no
// storage is mounted; jobs routed to it are then dropped.
func NewDeliveryWorker(
	queue *CaptureQueue,
	prober *Prober,
	uploader *Uploader,
	archiver *Archiver,
	b *bus.Bus,
	c clock.Clock,
	logger ports.Logger,
	pollTimeout time.Duration,
) *DeliveryWorker {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	if c == nil {
		c = clock.Real()
	}
	return &DeliveryWorker{
		queue:       queue,
		prober:      prober,
		uploader:    uploader,
		archiver:    archiver,
		bus:         b,
		clock:       c,
		logger:      logger,
		pollTimeout: pollTimeout,
	}
}

// Run drains the queue until ctx is canceled. Only one Run may be active;
// a second concurrent call returns domain.ErrAlreadyRunning. Jobs still
// queued at shutdown are dropped and their frames released.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return domain.ErrAlreadyRunning
	}
	defer w.running.Store(false)

	for {
		if err := ctx.Err(); err != nil {
			w.shutdown()
			return err
		}
		job, ok, err := w.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			w.shutdown()
			return err
		}
		if !ok {
			continue
		}
		w.Deliver(ctx, job)
	}
}

func (w *DeliveryWorker) shutdown() {
	n := w.queue.Drain(func(job domain.CaptureJob) {
		w.drop(job, "shutdown")
	})
	if n > 0 {
		w.logger.Warn("dropped queued jobs at shutdown", ports.Int("jobs", n))
	}
}

// Deliver routes a single job to its terminal sink and releases its frame.
func (w *DeliveryWorker) Deliver(ctx context.Context, job domain.CaptureJob) Outcome {
	if job.Frame == nil {
		w.dropped.Add(1)
		w.publish(domain.EventDropped, job, "no frame")
		return OutcomeDropped
	}
	defer job.Frame.Release()

	image, err := frameJPEG(job.Frame)
	if err != nil {
		w.logger.Error("cannot encode frame", ports.String("job", job.ID), ports.Err(err))
		w.dropped.Add(1)
		w.publish(domain.EventDropped, job, err.Error())
		return OutcomeDropped
	}

	decision := w.prober.Decide(ctx)
	switch decision.Route {
	case RouteUpload:
		err := w.uploader.Upload(ctx, ports.UploadRequest{
			JobID:    job.ID,
			Tag:      job.Tag,
			Image:    image,
			Filename: UploadFilename(job),
		})
		if err != nil {
			// Reachability was confirmed, so this is a server-side fault:
			// the job is not re-queued and not archived.
			w.logger.Error("upload failed, dropping job",
				ports.String("job", job.ID),
				ports.Uint64("tag", job.Tag.SerialNumber),
				ports.Err(err),
			)
			w.dropped.Add(1)
			w.publish(domain.EventDropped, job, err.Error())
			return OutcomeDropped
		}
		w.uploaded.Add(1)
		w.publish(domain.EventDelivered, job, "")
		return OutcomeUploaded

	default:
		if err := w.archive(job, image); err != nil {
			w.logger.Error("archive failed, dropping job",
				ports.String("job", job.ID),
				ports.Uint64("tag", job.Tag.SerialNumber),
				ports.String("reason", decision.Reason),
				ports.Err(err),
			)
			w.dropped.Add(1)
			w.publish(domain.EventDropped, job, err.Error())
			return OutcomeDropped
		}
		w.archived.Add(1)
		w.publish(domain.EventArchived, job, decision.Reason)
		return OutcomeArchived
	}
}

func (w *DeliveryWorker) archive(job domain.CaptureJob, image []byte) error {
	if !job.HasStorage || w.archiver == nil {
		return fmt.Errorf("%w: %w", domain.ErrNoRoute, domain.ErrNoStorage)
	}
	_, err := w.archiver.Archive(job.Tag, job.CapturedAt, image)
	return err
}

func (w *DeliveryWorker) drop(job domain.CaptureJob, reason string) {
	if job.Frame != nil {
		job.Frame.Release()
	}
	w.dropped.Add(1)
	w.publish(domain.EventDropped, job, reason)
}

// Stats returns a snapshot of the delivery counters.
func (w *DeliveryWorker) Stats() WorkerStats {
	return WorkerStats{
		Uploaded: w.uploaded.Load(),
		Archived: w.archived.Load(),
		Dropped:  w.dropped.Load(),
	}
}

func (w *DeliveryWorker) publish(kind domain.EventKind, job domain.CaptureJob, reason string) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(domain.Event{
		Kind:   kind,
		Tag:    job.Tag,
		JobID:  job.ID,
		Reason: reason,
		At:     w.clock.Now(),
	})
}

// UploadFilename is the file name advertised for a job's image.
func UploadFilename(job domain.CaptureJob) string {
	return fmt.Sprintf("%d_%d%s", job.Tag.SerialNumber, job.CapturedAt.UnixMicro(), domain.ImageExt)
}
