package ports

import "context"

// ManifestSource fetches the raw OTA manifest document.
type ManifestSource interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// FirmwareInstaller downloads and applies firmware images.
type FirmwareInstaller interface {
	// Install downloads the image at url and stages it as the next boot
	// image. If digest is non-empty the image must match it. On error the
	// running firmware is left untouched.
	Install(ctx context.Context, url, digest string) error

	// Restart boots into the staged image. It normally does not return.
	Restart() error
}
