package tagcam

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	httpAdapter "github.com/bft-labs/tagcam/internal/adapters/http"
	"github.com/bft-labs/tagcam/internal/app"
	"github.com/bft-labs/tagcam/internal/domain"
)

// Config holds the configuration of a Device.
// Use DefaultConfig() to get a Config with the firmware defaults.
type Config struct {
	// ServerURL is the upload endpoint, e.g. http://host:8000/post.
	ServerURL string

	// UploadMode is "binary" (image as body) or "multipart" (chunked form).
	UploadMode string

	// AuthKey, when set, is sent as a bearer token with uploads.
	AuthKey string

	HTTPTimeout time.Duration

	// Retries is the number of upload attempts after the first one.
	Retries    int
	RetryDelay time.Duration

	// ImagesDir and Ledger locate the offline archive. Leave both empty
	// on devices without local storage.
	ImagesDir string
	Ledger    string

	ProbeTarget   string
	ProbeCount    int
	ProbeTimeout  time.Duration
	ProbeInterval time.Duration

	CountdownTicks int
	TickInterval   time.Duration
	QueueCapacity  int

	OTA OTAConfig
}

// OTAConfig configures the boot-time firmware update check. The check is
// skipped when Server is empty.
type OTAConfig struct {
	// Server is the OTA base URL; the catalog is Server/manifest.json.
	Server string

	// Channel is alpha, beta or stable.
	Channel string

	CriticalityCeiling float64

	// Board, when set, only accepts builds for this board.
	Board string

	// RunningBuild describes the running firmware, e.g. "v1.2.0-stable".
	RunningBuild string

	// CAFile pins the OTA server to a CA certificate; ServerName
	// overrides the name checked against the server certificate.
	CAFile     string
	ServerName string

	// FirmwareDir is where downloaded images are staged.
	FirmwareDir string

	// DryRun resolves the catalog without installing.
	DryRun bool
}

// DefaultConfig returns a Config with default values. ServerURL must be
// set before calling New.
func DefaultConfig() Config {
	return Config{
		UploadMode:     httpAdapter.ModeBinary,
		HTTPTimeout:    15 * time.Second,
		Retries:        app.DefaultUploadRetries,
		RetryDelay:     app.DefaultRetryDelay,
		ProbeTarget:    app.DefaultProbeTarget,
		ProbeCount:     app.DefaultProbeCount,
		ProbeTimeout:   app.DefaultProbeTimeout,
		ProbeInterval:  app.DefaultProbeInterval,
		CountdownTicks: app.DefaultCountdownTicks,
		TickInterval:   app.DefaultTickInterval,
		QueueCapacity:  app.DefaultQueueCapacity,
		OTA: OTAConfig{
			Channel:            domain.ChannelStable.String(),
			CriticalityCeiling: app.DefaultCriticalityCeiling,
		},
	}
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.UploadMode == "" {
		c.UploadMode = d.UploadMode
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = d.HTTPTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.OTA.Channel == "" {
		c.OTA.Channel = d.OTA.Channel
	}
	if c.OTA.CriticalityCeiling <= 0 {
		c.OTA.CriticalityCeiling = d.OTA.CriticalityCeiling
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("%w: server URL is required", domain.ErrInvalidConfig)
	}
	if u, err := url.Parse(c.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: server URL %q", domain.ErrInvalidConfig, c.ServerURL)
	}
	if c.UploadMode != httpAdapter.ModeBinary && c.UploadMode != httpAdapter.ModeMultipart {
		return fmt.Errorf("%w: upload mode %q", domain.ErrInvalidConfig, c.UploadMode)
	}
	if (c.ImagesDir == "") != (c.Ledger == "") {
		return fmt.Errorf("%w: images dir and ledger must be set together", domain.ErrInvalidConfig)
	}
	if c.Retries < 0 {
		return fmt.Errorf("%w: retries must not be negative", domain.ErrInvalidConfig)
	}
	if c.OTA.Server != "" {
		if _, err := domain.ParseChannel(c.OTA.Channel); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
		}
		if _, err := domain.ParseBuildVersion(c.OTA.RunningBuild); err != nil {
			return fmt.Errorf("%w: running build: %v", domain.ErrInvalidConfig, err)
		}
		c.OTA.Server = strings.TrimRight(c.OTA.Server, "/")
	}
	return nil
}

// HasStorage reports whether an offline archive is configured.
func (c Config) HasStorage() bool { return c.ImagesDir != "" }
