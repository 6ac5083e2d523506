//go:build !gst

package device

import (
	"context"
	"errors"
	"time"

	"github.com/bft-labs/tagcam/internal/domain"
)

// GstSupported reports whether this build includes the GStreamer camera.
const GstSupported = false

// ErrNoGstreamer is returned by NewGstCamera in builds without the gst tag.
var ErrNoGstreamer = errors.New("built without gstreamer support (rebuild with -tags gst)")

// GstCamera is unavailable in this build.
type GstCamera struct{}

// NewGstCamera always fails; see ErrNoGstreamer.
func NewGstCamera(description string, timeout time.Duration) (*GstCamera, error) {
	return nil, ErrNoGstreamer
}

// AcquireFrame always fails.
func (c *GstCamera) AcquireFrame(ctx context.Context) (*domain.Frame, error) {
	return nil, ErrNoGstreamer
}

// Close is a no-op.
func (c *GstCamera) Close() error { return nil }
