package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bft-labs/tagcam/internal/clock"
	"github.com/bft-labs/tagcam/internal/domain"
	"github.com/bft-labs/tagcam/internal/ports"
)

// Default upload retry configuration values.
const (
	DefaultUploadRetries = 2
	DefaultRetryDelay    = 500 * time.Millisecond
)

// UploaderConfig contains configuration for the uploader.
type UploaderConfig struct {
	// Retries is the number of attempts after the first one.
	Retries int

	// RetryDelay is the initial delay between attempts. It doubles per
	// attempt with jitter.
	RetryDelay time.Duration
}

// Uploader sends images to the server with bounded retry. Every attempt
// goes through the sender, which opens a fresh connection.
//
// The delivery worker and the backlog replayer share one Uploader, and at
// most one upload is in flight across both.
type Uploader struct {
	cfg    UploaderConfig
	sender ports.ImageSender
	clock  clock.Clock
	logger ports.Logger

	// slot holds a token while an upload, retries included, is running.
	slot chan struct{}
}

// NewUploader creates an uploader. A negative Retries selects the default.
func NewUploader(cfg UploaderConfig, sender ports.ImageSender, c clock.Clock, logger ports.Logger) *Uploader {
	if cfg.Retries < 0 {
		cfg.Retries = DefaultUploadRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if c == nil {
		c = clock.Real()
	}
	return &Uploader{
		cfg:    cfg,
		sender: sender,
		clock:  c,
		logger: logger,
		slot:   make(chan struct{}, 1),
	}
}

// Upload sends req, retrying up to Retries times. When every attempt fails
// the error wraps domain.ErrUploadFailed and the last transport error.
// Upload waits for any other upload to finish first.
func (u *Uploader) Upload(ctx context.Context, req ports.UploadRequest) error {
	select {
	case u.slot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrUploadFailed, ctx.Err())
	}
	defer func() { <-u.slot }()

	attempts := u.cfg.Retries + 1
	bo := newBackoff(u.clock, u.cfg.RetryDelay, DefaultBackoffMax)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		start := u.clock.Now()
		err := u.sender.Send(ctx, req)
		if err == nil {
			u.logger.Info("image uploaded",
				ports.String("job", req.JobID),
				ports.Uint64("tag", req.Tag.SerialNumber),
				ports.Int("bytes", len(req.Image)),
				ports.Int("attempt", attempt),
				ports.Duration("duration", u.clock.Now().Sub(start)),
			)
			return nil
		}
		lastErr = err

		u.logger.Warn("upload attempt failed",
			ports.String("job", req.JobID),
			ports.Int("attempt", attempt),
			ports.Int("attempts", attempts),
			ports.Err(err),
		)

		if attempt == attempts {
			break
		}
		if werr := bo.Wait(ctx); werr != nil {
			lastErr = werr
			break
		}
	}

	return fmt.Errorf("%w: %v", domain.ErrUploadFailed, lastErr)
}
