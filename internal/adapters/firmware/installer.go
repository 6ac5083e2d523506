// Package firmware downloads, verifies and stages firmware images and
// restarts the process into the staged image.
package firmware

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"

	"github.com/bft-labs/tagcam/internal/adapters/fs"
	"github.com/bft-labs/tagcam/internal/domain"
	"github.com/bft-labs/tagcam/internal/ports"
)

const (
	stagedImageName = "next.bin"
	stagedInfoName  = "staged.json"
)

// ErrNothingStaged is returned by Restart when no image has been installed.
var ErrNothingStaged = errors.New("no staged firmware")

// Config contains configuration for the installer.
type Config struct {
	// Dir holds the staged image and its metadata.
	Dir string

	// Executable is replaced by the staged image on restart.
	// Empty means the running executable.
	Executable string
}

// StagedInfo describes the image waiting to be booted.
type StagedInfo struct {
	URL      string    `json:"url"`
	Digest   string    `json:"digest"`
	Size     int64     `json:"size"`
	StagedAt time.Time `json:"staged_at"`
}

// Installer implements ports.FirmwareInstaller. The running binary is
// only touched by Restart, after a complete and verified download.
type Installer struct {
	cfg    Config
	client ports.HTTPClient
	logger ports.Logger

	// execFunc replaces the process image; tests substitute it.
	execFunc func(argv0 string, argv []string, envv []string) error
	args     []string
}

// NewInstaller creates a firmware installer.
func NewInstaller(cfg Config, client ports.HTTPClient, logger ports.Logger) *Installer {
	return &Installer{
		cfg:      cfg,
		client:   client,
		logger:   logger,
		execFunc: unix.Exec,
		args:     os.Args,
	}
}

func (i *Installer) imagePath() string { return filepath.Join(i.cfg.Dir, stagedImageName) }
func (i *Installer) infoPath() string  { return filepath.Join(i.cfg.Dir, stagedInfoName) }

// Install downloads url into the staging directory. The download is hashed
// while it streams; with a non-empty digest a mismatch discards it.
func (i *Installer) Install(ctx context.Context, url, digest string) error {
	if err := os.MkdirAll(i.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: server returned %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(i.cfg.Dir, "download-*.bin")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	h := blake3.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), resp.Body)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	if size == 0 {
		return fmt.Errorf("download: empty image")
	}

	got := hex.EncodeToString(h.Sum(nil))
	if digest != "" && !sameDigest(got, digest) {
		return fmt.Errorf("%w: got %s, want %s", domain.ErrDigestMismatch, got, digest)
	}

	if err := os.Chmod(tmpPath, 0o755); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, i.imagePath()); err != nil {
		return fmt.Errorf("stage image: %w", err)
	}

	info, err := json.MarshalIndent(StagedInfo{
		URL:      url,
		Digest:   got,
		Size:     size,
		StagedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := fs.WriteFileAtomic(i.infoPath(), info, 0o644); err != nil {
		return fmt.Errorf("write staged info: %w", err)
	}

	i.logger.Info("firmware staged",
		ports.String("url", url),
		ports.String("digest", got),
		ports.Int64("bytes", size),
	)
	return nil
}

// Staged returns the metadata of the staged image.
func (i *Installer) Staged() (StagedInfo, error) {
	data, err := os.ReadFile(i.infoPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StagedInfo{}, ErrNothingStaged
		}
		return StagedInfo{}, err
	}
	var info StagedInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return StagedInfo{}, err
	}
	return info, nil
}

// Restart puts the staged image in place of the executable and execs it
// with the current arguments and environment. On success it does not return.
func (i *Installer) Restart() error {
	if _, err := i.Staged(); err != nil {
		return err
	}

	exe := i.cfg.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
	}

	if err := replaceExecutable(i.imagePath(), exe); err != nil {
		return fmt.Errorf("replace executable: %w", err)
	}
	_ = os.Remove(i.imagePath())
	_ = os.Remove(i.infoPath())

	i.logger.Info("restarting into new firmware", ports.String("path", exe))
	return i.execFunc(exe, i.args, os.Environ())
}

// replaceExecutable copies the staged image next to exe and renames it over
// exe. The staging directory is usually on another filesystem than the
// executable, where a plain rename fails.
func replaceExecutable(staged, exe string) error {
	src, err := os.Open(staged)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(exe), "."+filepath.Base(exe)+"-*.new")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	_, err = io.Copy(tmp, src)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmpPath, 0o755)
	}
	if err == nil {
		err = os.Rename(tmpPath, exe)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
