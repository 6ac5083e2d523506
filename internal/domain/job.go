package domain

import (
	"time"

	"github.com/google/uuid"
)

// CaptureJob is the unit of work delivered from the orchestrator to the
// delivery worker. The job owns its frame until the worker releases it.
type CaptureJob struct {
	// ID is a time-ordered identifier used to correlate log lines.
	ID string

	// Tag is the card that triggered the capture.
	Tag Tag

	// Frame is the captured image.
	Frame *Frame

	// CapturedAt is when the frame was acquired.
	CapturedAt time.Time

	// HasStorage reports whether an archive medium was mounted when the
	// job was created. A job without storage is dropped instead of
	// archived when the server is unreachable.
	HasStorage bool
}

// NewCaptureJob builds a job with a fresh time-ordered ID.
func NewCaptureJob(tag Tag, frame *Frame, capturedAt time.Time, hasStorage bool) CaptureJob {
	return CaptureJob{
		ID:         NewJobID(),
		Tag:        tag,
		Frame:      frame,
		CapturedAt: capturedAt,
		HasStorage: hasStorage,
	}
}

// NewJobID returns a UUIDv7 string. It falls back to a random UUID if the
// time-ordered generator fails.
func NewJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
