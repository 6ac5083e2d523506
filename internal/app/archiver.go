package app

import (
	"fmt"
	"time"

	"github.com/bft-labs/tagcam/internal/clock"
	"github.com/bft-labs/tagcam/internal/domain"
	"github.com/bft-labs/tagcam/internal/ports"
)

// Archiver writes images to local storage and records them in the
// pending-upload ledger.
type Archiver struct {
	store      ports.Storage
	imagesRoot string
	ledgerPath string
	clock      clock.Clock
	logger     ports.Logger
}

// NewArchiver creates an archiver storing images under imagesRoot and
// appending records to ledgerPath.
func NewArchiver(store ports.Storage, imagesRoot, ledgerPath string, c clock.Clock, logger ports.Logger) *Archiver {
	if c == nil {
		c = clock.Real()
	}
	return &Archiver{
		store:      store,
		imagesRoot: imagesRoot,
		ledgerPath: ledgerPath,
		clock:      c,
		logger:     logger,
	}
}

// Archive stores image for tag and appends its ledger record. The record
// is stamped with capturedAt, or the current time when it is zero, so an
// archived image carries the same name it would have been uploaded under.
// An existing file at the target path is never overwritten: the job is
// abandoned with domain.ErrPathCollision.
func (a *Archiver) Archive(tag domain.Tag, capturedAt time.Time, image []byte) (domain.ArchiveRecord, error) {
	if a.store == nil {
		return domain.ArchiveRecord{}, domain.ErrNoStorage
	}

	if capturedAt.IsZero() {
		capturedAt = a.clock.Now()
	}
	ts := capturedAt.UnixMicro()
	rec := domain.ArchiveRecord{
		TimestampUS: ts,
		TagSerial:   tag.SerialNumber,
		FilePath:    domain.ArchivePath(a.imagesRoot, tag, ts),
	}

	exists, err := a.store.Exists(rec.FilePath)
	if err != nil {
		return domain.ArchiveRecord{}, fmt.Errorf("stat %s: %w", rec.FilePath, err)
	}
	if exists {
		a.logger.Error("image already exists, abandoning job", ports.String("path", rec.FilePath))
		return domain.ArchiveRecord{}, fmt.Errorf("%w: %s", domain.ErrPathCollision, rec.FilePath)
	}

	if err := a.store.WriteFile(rec.FilePath, image); err != nil {
		return domain.ArchiveRecord{}, fmt.Errorf("write image: %w", err)
	}
	if err := a.store.AppendLine(a.ledgerPath, rec.Line()); err != nil {
		// The image is on disk but will not be replayed.
		a.logger.Error("failed to append ledger record",
			ports.String("ledger", a.ledgerPath),
			ports.String("path", rec.FilePath),
			ports.Err(err),
		)
		return rec, fmt.Errorf("append ledger: %w", err)
	}

	a.logger.Info("image archived",
		ports.String("path", rec.FilePath),
		ports.Uint64("tag", tag.SerialNumber),
		ports.Int("bytes", len(image)),
	)
	return rec, nil
}
