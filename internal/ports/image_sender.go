package ports

import (
	"context"

	"github.com/bft-labs/tagcam/internal/domain"
)

// UploadRequest is one captured image ready for transmission.
type UploadRequest struct {
	// JobID correlates the request with the capture job.
	JobID string

	// Tag is sent in the rfid-serial-number header.
	Tag domain.Tag

	// Image is the JPEG payload.
	Image []byte

	// Filename is advertised in Content-Disposition.
	Filename string
}

// ImageSender performs a single upload attempt. Retrying is the caller's job.
// A non-2xx response is reported as an error.
type ImageSender interface {
	Send(ctx context.Context, req UploadRequest) error
}
