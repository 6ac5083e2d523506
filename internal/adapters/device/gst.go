//go:build gst

package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/bft-labs/tagcam/internal/domain"
)

// GstSupported reports whether this build includes the GStreamer camera.
const GstSupported = true

const sinkName = "tagcam_sink"

// GstCamera pulls JPEG frames from a GStreamer pipeline. The pipeline
// description must end in an element producing image/jpeg, for example
// "v4l2src device=/dev/video0 ! videoconvert ! jpegenc". An appsink that
// keeps only the newest frame is appended.
type GstCamera struct {
	mu       sync.Mutex
	pipeline *gst.Pipeline
	sink     *app.Sink
	timeout  time.Duration
}

// NewGstCamera builds the pipeline and sets it playing.
func NewGstCamera(description string, timeout time.Duration) (*GstCamera, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, errors.New("empty gstreamer pipeline")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	gst.Init(nil)

	full := fmt.Sprintf("%s ! appsink name=%s sync=false max-buffers=1 drop=true", description, sinkName)
	pipeline, err := gst.NewPipelineFromString(full)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		return nil, fmt.Errorf("find appsink: %w", err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}

	return &GstCamera{
		pipeline: pipeline,
		sink:     app.SinkFromElement(elem),
		timeout:  timeout,
	}, nil
}

// AcquireFrame returns the newest frame produced by the pipeline.
func (c *GstCamera) AcquireFrame(ctx context.Context) (*domain.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// PullSample blocks until a frame or EOS; one pull at a time.
	c.mu.Lock()
	result := make(chan []byte, 1)
	go func() {
		defer c.mu.Unlock()
		result <- c.pull()
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("gstreamer capture: %w", ctx.Err())
	case data := <-result:
		if data == nil {
			return nil, errors.New("gstreamer capture: pipeline produced no frame")
		}
		return domain.NewFrame(data, domain.FormatJPEG, 0, 0, nil), nil
	}
}

func (c *GstCamera) pull() []byte {
	sample := c.sink.PullSample()
	if sample == nil {
		return nil
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil
	}

	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()
	data := mapInfo.Bytes()
	if len(data) == 0 {
		return nil
	}
	// GStreamer reuses the buffer.
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// Close stops the pipeline and releases its resources.
func (c *GstCamera) Close() error {
	return c.pipeline.SetState(gst.StateNull)
}
