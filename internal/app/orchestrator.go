package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bft-labs/tagcam/internal/bus"
	"github.com/bft-labs/tagcam/internal/clock"
	"github.com/bft-labs/tagcam/internal/domain"
	"github.com/bft-labs/tagcam/internal/ports"
)

// Default countdown configuration values.
const (
	DefaultCountdownTicks = 10
	DefaultTickInterval   = time.Second
)

// CaptureState is the state of the capture orchestrator.
type CaptureState int32

const (
	CaptureIdle CaptureState = iota
	CaptureCountdown
	CaptureCapturing
	CaptureQueued
)

// String returns a human-readable representation of the state.
func (s CaptureState) String() string {
	switch s {
	case CaptureIdle:
		return "Idle"
	case CaptureCountdown:
		return "Countdown"
	case CaptureCapturing:
		return "Capturing"
	case CaptureQueued:
		return "Queued"
	default:
		return "Unknown"
	}
}

// OrchestratorConfig contains configuration for the capture orchestrator.
type OrchestratorConfig struct {
	// CountdownTicks is the number of countdown ticks before the frame is taken.
	CountdownTicks int

	// TickInterval is the duration of one tick.
	TickInterval time.Duration

	// HasStorage is stamped on every job; it tells the delivery worker
	// whether archiving is possible.
	HasStorage bool
}

// Orchestrator turns tag scans into capture jobs. It owns the reader while
// a capture is in progress: the reader is paused from the scan until the
// job has been queued (or the capture failed).
//
// The state is only written by the goroutine running Run or HandleScan;
// other goroutines may observe it through State.
type Orchestrator struct {
	cfg    OrchestratorConfig
	reader ports.Reader
	camera ports.Camera
	queue  *CaptureQueue
	bus    *bus.Bus
	clock  clock.Clock
	logger ports.Logger

	state atomic.Int32
}

// NewOrchestrator creates a capture orchestrator.
func NewOrchestrator(
	cfg OrchestratorConfig,
	reader ports.Reader,
	camera ports.Camera,
	queue *CaptureQueue,
	b *bus.Bus,
	c clock.Clock,
	logger ports.Logger,
) *Orchestrator {
	if cfg.CountdownTicks < 0 {
		cfg.CountdownTicks = 0
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if c == nil {
		c = clock.Real()
	}
	return &Orchestrator{
		cfg:    cfg,
		reader: reader,
		camera: camera,
		queue:  queue,
		bus:    b,
		clock:  c,
		logger: logger,
	}
}

// State returns the current capture state.
func (o *Orchestrator) State() CaptureState {
	return CaptureState(o.state.Load())
}

// Run consumes scan events until ctx is canceled or events is closed.
// Events other than EventTagScanned are ignored.
func (o *Orchestrator) Run(ctx context.Context, events <-chan domain.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind != domain.EventTagScanned {
				continue
			}
			o.handleScan(ctx, ev.Tag, events)
		}
	}
}

// HandleScan runs one full capture for tag and reports whether a job was
// queued. A scan that arrives while a capture is in progress is ignored.
func (o *Orchestrator) HandleScan(ctx context.Context, tag domain.Tag) bool {
	return o.handleScan(ctx, tag, nil)
}

// handleScan captures for tag. Scans that piled up in events during the
// capture are dropped before the reader resumes, so the first scan after
// resuming is kept.
func (o *Orchestrator) handleScan(ctx context.Context, tag domain.Tag, events <-chan domain.Event) bool {
	if !o.state.CompareAndSwap(int32(CaptureIdle), int32(CaptureCountdown)) {
		o.logger.Debug("scan ignored, capture in progress",
			ports.Uint64("tag", tag.SerialNumber),
			ports.String("state", o.State().String()),
		)
		return false
	}
	defer o.setState(CaptureIdle)

	if err := o.reader.Pause(); err != nil {
		o.logger.Error("failed to pause reader", ports.Err(err))
	}
	defer func() {
		if events != nil {
			o.discardStale(events)
		}
		if err := o.reader.Resume(); err != nil {
			o.logger.Error("failed to resume reader", ports.Err(err))
		}
	}()

	o.logger.Info("starting countdown",
		ports.Uint64("tag", tag.SerialNumber),
		ports.Int("ticks", o.cfg.CountdownTicks),
	)
	if err := o.countdown(ctx, tag); err != nil {
		o.logger.Warn("countdown interrupted", ports.Err(err))
		return false
	}

	o.setState(CaptureCapturing)
	frame, err := o.acquire(ctx)
	if err != nil {
		o.logger.Error("camera capture failed",
			ports.Uint64("tag", tag.SerialNumber),
			ports.Err(err),
		)
		o.publish(domain.Event{Kind: domain.EventCaptureFailed, Tag: tag, Reason: err.Error()})
		return false
	}

	o.setState(CaptureQueued)
	job := domain.NewCaptureJob(tag, frame, o.clock.Now(), o.cfg.HasStorage)
	if err := o.queue.TryEnqueue(job); err != nil {
		frame.Release()
		o.logger.Warn("capture queue full, dropping photo",
			ports.String("job", job.ID),
			ports.Uint64("tag", tag.SerialNumber),
			ports.Int("capacity", o.queue.Cap()),
		)
		o.publish(domain.Event{Kind: domain.EventDropped, Tag: tag, JobID: job.ID, Reason: err.Error()})
		return false
	}

	o.logger.Info("photo taken",
		ports.String("job", job.ID),
		ports.Uint64("tag", tag.SerialNumber),
		ports.Int("bytes", frame.Len()),
		ports.String("format", frame.Format().String()),
	)
	o.publish(domain.Event{Kind: domain.EventPhotoTaken, Tag: tag, JobID: job.ID})
	return true
}

// countdown waits CountdownTicks ticks. Only ctx cancellation (device
// shutdown) stops it early.
func (o *Orchestrator) countdown(ctx context.Context, tag domain.Tag) error {
	for remaining := o.cfg.CountdownTicks; remaining > 0; remaining-- {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.clock.After(o.cfg.TickInterval):
		}
		o.logger.Info("countdown", ports.Int("remaining", remaining))
		o.publish(domain.Event{Kind: domain.EventCountdownTick, Tag: tag, Remaining: remaining - 1})
	}
	return nil
}

func (o *Orchestrator) acquire(ctx context.Context) (*domain.Frame, error) {
	frame, err := o.camera.AcquireFrame(ctx)
	if err != nil {
		if frame != nil {
			frame.Release()
		}
		return nil, err
	}
	if frame == nil {
		return nil, domain.ErrEmptyFrame
	}
	if frame.Len() == 0 {
		frame.Release()
		return nil, domain.ErrEmptyFrame
	}
	return frame, nil
}

// discardStale drops scans that piled up while the orchestrator was busy.
func (o *Orchestrator) discardStale(events <-chan domain.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == domain.EventTagScanned {
				o.logger.Debug("discarding scan received during capture",
					ports.Uint64("tag", ev.Tag.SerialNumber))
			}
		default:
			return
		}
	}
}

func (o *Orchestrator) setState(s CaptureState) {
	o.state.Store(int32(s))
}

func (o *Orchestrator) publish(ev domain.Event) {
	if o.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = o.clock.Now()
	}
	o.bus.Publish(ev)
}
