package domain

import "errors"

// Domain errors represent error conditions in the tagcam domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("tagcam: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("tagcam: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("tagcam: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("tagcam: invalid configuration")

	// ErrFrameReleased is returned when a released frame is used.
	ErrFrameReleased = errors.New("tagcam: frame already released")

	// ErrEmptyFrame is returned when the camera hands back a frame without data.
	ErrEmptyFrame = errors.New("tagcam: empty frame")

	// ErrQueueFull is returned when a capture job cannot be enqueued without blocking.
	ErrQueueFull = errors.New("tagcam: capture queue full")

	// ErrQueueClosed is returned when the capture queue has been closed.
	ErrQueueClosed = errors.New("tagcam: capture queue closed")

	// ErrUploadFailed is returned when every upload attempt for a job failed.
	ErrUploadFailed = errors.New("tagcam: upload failed")

	// ErrPathCollision is returned when an archive target already exists.
	ErrPathCollision = errors.New("tagcam: archive path already exists")

	// ErrNoStorage is returned when a job must be archived but no storage is mounted.
	ErrNoStorage = errors.New("tagcam: no storage available")

	// ErrMalformedLedgerLine is returned when a ledger line cannot be parsed.
	ErrMalformedLedgerLine = errors.New("tagcam: malformed ledger line")

	// ErrInvalidVersion is returned when a version string cannot be parsed.
	ErrInvalidVersion = errors.New("tagcam: invalid version")

	// ErrInvalidChannel is returned for an unknown release channel name.
	ErrInvalidChannel = errors.New("tagcam: invalid channel")

	// ErrMalformedEntry is returned when a manifest entry lacks a required field.
	ErrMalformedEntry = errors.New("tagcam: malformed manifest entry")

	// ErrSameBuild is returned for a manifest entry whose long version equals
	// the running build string.
	ErrSameBuild = errors.New("tagcam: entry is the running build")

	// ErrCriticalityTooHigh is returned for an entry above the accepted criticality.
	ErrCriticalityTooHigh = errors.New("tagcam: criticality above ceiling")

	// ErrChannelNotAccepted is returned for an entry on a channel the device
	// is not subscribed to.
	ErrChannelNotAccepted = errors.New("tagcam: channel not accepted")

	// ErrBoardMismatch is returned for an entry built for another board.
	ErrBoardMismatch = errors.New("tagcam: board mismatch")

	// ErrNotNewer is returned for an entry that is not newer than the running version.
	ErrNotNewer = errors.New("tagcam: not newer than running version")

	// ErrNoRoute is returned when a job can be neither uploaded nor archived.
	ErrNoRoute = errors.New("tagcam: no delivery route")

	// ErrDigestMismatch is returned when a downloaded firmware image does not
	// match the digest advertised in the manifest.
	ErrDigestMismatch = errors.New("tagcam: firmware digest mismatch")
)
