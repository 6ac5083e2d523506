package domain

import "sync"

// FrameFormat identifies the pixel encoding of a captured frame.
type FrameFormat int

const (
	// FormatJPEG means the buffer already holds a JPEG image.
	FormatJPEG FrameFormat = iota
	// FormatGray8 means the buffer holds raw 8-bit grayscale pixels, row-major.
	FormatGray8
)

// String returns a short name for the format.
func (f FrameFormat) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatGray8:
		return "gray8"
	default:
		return "unknown"
	}
}

// Frame is a captured image buffer. Exactly one component owns a frame at
// a time; ownership moves with the value (for example through the capture
// queue). The owner must call Release once it is done. Release is
// idempotent, and the buffer is no longer reachable after it.
type Frame struct {
	mu       sync.Mutex
	data     []byte
	format   FrameFormat
	width    int
	height   int
	released bool
	release  func()
}

// NewFrame wraps a driver buffer. onRelease, if non-nil, is called exactly
// once when the frame is released (to return the buffer to the driver).
func NewFrame(data []byte, format FrameFormat, width, height int, onRelease func()) *Frame {
	return &Frame{
		data:    data,
		format:  format,
		width:   width,
		height:  height,
		release: onRelease,
	}
}

// Bytes returns the image buffer, or nil once the frame has been released.
func (f *Frame) Bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return nil
	}
	return f.data
}

// Len returns the buffer length in bytes, 0 after release.
func (f *Frame) Len() int {
	return len(f.Bytes())
}

// Format returns the pixel encoding.
func (f *Frame) Format() FrameFormat { return f.format }

// Width returns the frame width in pixels (0 when unknown, e.g. for JPEG).
func (f *Frame) Width() int { return f.width }

// Height returns the frame height in pixels (0 when unknown).
func (f *Frame) Height() int { return f.height }

// Released reports whether Release has been called.
func (f *Frame) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

// Release returns the buffer to its driver. It reports true only for the
// call that actually performed the release.
func (f *Frame) Release() bool {
	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		return false
	}
	f.released = true
	f.data = nil
	release := f.release
	f.release = nil
	f.mu.Unlock()

	if release != nil {
		release()
	}
	return true
}
