package app

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/bft-labs/tagcam/internal/domain"
)

// JPEGQuality is the quality used when raw frames are encoded.
const JPEGQuality = 80

// frameJPEG returns the frame as JPEG bytes. JPEG frames are returned as is;
// grayscale frames are encoded. The result stays valid after the frame is
// released only for encoded frames, so callers release the frame last.
func frameJPEG(f *domain.Frame) ([]byte, error) {
	data := f.Bytes()
	if data == nil {
		return nil, domain.ErrFrameReleased
	}

	switch f.Format() {
	case domain.FormatJPEG:
		return data, nil
	case domain.FormatGray8:
		w, h := f.Width(), f.Height()
		if w <= 0 || h <= 0 || len(data) < w*h {
			return nil, fmt.Errorf("encode jpeg: %dx%d frame with %d bytes", w, h, len(data))
		}
		img := &image.Gray{Pix: data, Stride: w, Rect: image.Rect(0, 0, w, h)}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("encode jpeg: unsupported format %s", f.Format())
	}
}
