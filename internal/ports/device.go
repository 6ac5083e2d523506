package ports

import (
	"context"

	"github.com/bft-labs/tagcam/internal/domain"
)

// Reader is the RFID reader as seen by the capture orchestrator. While
// paused the reader must not report scans.
type Reader interface {
	Pause() error
	Resume() error
}

// TagSource is a Reader that produces scans. Run reports each card read
// through emit until ctx is canceled or the source fails.
type TagSource interface {
	Reader
	Run(ctx context.Context, emit func(domain.Tag)) error
}

// Camera acquires frames. The returned frame is owned by the caller,
// who must release it exactly once.
type Camera interface {
	AcquireFrame(ctx context.Context) (*domain.Frame, error)
}

// LinkStatus reports whether the network link (Wi-Fi association,
// interface carrier) is currently up. It must not block.
type LinkStatus interface {
	Up() bool
}
