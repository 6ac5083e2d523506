package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sync"

	"github.com/bft-labs/tagcam/internal/domain"
	"github.com/bft-labs/tagcam/internal/ports"
)

// ClaimSuffix is appended to the ledger path while a replay owns it.
const ClaimSuffix = ".replay"

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Uploaded  int
	Kept      int
	Malformed int
	Missing   int
}

// Replayer uploads archived images recorded in the pending-upload ledger.
type Replayer struct {
	// mu serializes passes; two passes must not share a claim.
	mu sync.Mutex

	store      ports.BacklogStore
	ledgerPath string
	prober     *Prober
	uploader   *Uploader
	logger     ports.Logger
}

// NewReplayer creates a backlog replayer.
func NewReplayer(store ports.BacklogStore, ledgerPath string, prober *Prober, uploader *Uploader, logger ports.Logger) *Replayer {
	return &Replayer{
		store:      store,
		ledgerPath: ledgerPath,
		prober:     prober,
		uploader:   uploader,
		logger:     logger,
	}
}

func (r *Replayer) claimPath() string { return r.ledgerPath + ClaimSuffix }

// Replay runs one pass over the backlog. The server must be reachable;
// otherwise nothing is touched and domain.ErrNoRoute is returned.
//
// The ledger is claimed by renaming it, so the archiver may keep appending
// while the pass runs. A claim left behind by an interrupted pass is
// processed instead of the live ledger. Lines that were not uploaded go
// back to the live ledger; uploaded images are deleted.
func (r *Replayer) Replay(ctx context.Context) (ReplayResult, error) {
	var res ReplayResult
	if r.store == nil {
		return res, domain.ErrNoStorage
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	claim := r.claimPath()
	leftover, err := r.store.Exists(claim)
	if err != nil {
		return res, fmt.Errorf("stat %s: %w", claim, err)
	}
	if !leftover {
		pending, err := r.store.Exists(r.ledgerPath)
		if err != nil {
			return res, fmt.Errorf("stat %s: %w", r.ledgerPath, err)
		}
		if !pending {
			r.logger.Debug("no backlog to replay", ports.String("ledger", r.ledgerPath))
			return res, nil
		}
	}

	if d := r.prober.Decide(ctx); d.Route != RouteUpload {
		r.logger.Info("server unreachable, backlog kept", ports.String("reason", d.Reason))
		return res, fmt.Errorf("%w: %s", domain.ErrNoRoute, d.Reason)
	}

	if !leftover {
		if err := r.store.Rename(r.ledgerPath, claim); err != nil {
			return res, fmt.Errorf("claim ledger: %w", err)
		}
	} else {
		r.logger.Warn("resuming interrupted replay", ports.String("claim", claim))
	}

	lines, err := r.store.ReadLines(claim)
	if err != nil {
		return res, fmt.Errorf("read %s: %w", claim, err)
	}

	var keep []string
	for i, line := range lines {
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			keep = append(keep, lines[i:]...)
			break
		}

		rec, err := domain.ParseArchiveRecord(line)
		if err != nil {
			r.logger.Warn("malformed ledger line", ports.Int("line", i+1), ports.Err(err))
			res.Malformed++
			keep = append(keep, line)
			continue
		}

		switch err := r.replayOne(ctx, rec); {
		case err == nil:
			res.Uploaded++
		case errors.Is(err, fs.ErrNotExist):
			r.logger.Warn("archived image missing, dropping record", ports.String("path", rec.FilePath))
			res.Missing++
		default:
			r.logger.Warn("replay upload failed, keeping record",
				ports.String("path", rec.FilePath),
				ports.Err(err),
			)
			keep = append(keep, line)
		}
	}

	for _, line := range keep {
		if line == "" {
			continue
		}
		if err := r.store.AppendLine(r.ledgerPath, line); err != nil {
			// The claim is left in place so the next pass picks it up again.
			return res, fmt.Errorf("restore ledger: %w", err)
		}
		res.Kept++
	}
	if err := r.store.Remove(claim); err != nil {
		return res, fmt.Errorf("remove claim: %w", err)
	}

	r.logger.Info("backlog replayed",
		ports.Int("uploaded", res.Uploaded),
		ports.Int("kept", res.Kept),
		ports.Int("malformed", res.Malformed),
		ports.Int("missing", res.Missing),
	)
	return res, nil
}

func (r *Replayer) replayOne(ctx context.Context, rec domain.ArchiveRecord) error {
	image, err := r.store.ReadFile(rec.FilePath)
	if err != nil {
		return err
	}

	err = r.uploader.Upload(ctx, ports.UploadRequest{
		JobID:    fmt.Sprintf("replay-%d", rec.TimestampUS),
		Tag:      domain.Tag{SerialNumber: rec.TagSerial},
		Image:    image,
		Filename: path.Base(rec.FilePath),
	})
	if err != nil {
		return err
	}

	if err := r.store.Remove(rec.FilePath); err != nil {
		r.logger.Warn("failed to remove replayed image", ports.String("path", rec.FilePath), ports.Err(err))
	}
	return nil
}
