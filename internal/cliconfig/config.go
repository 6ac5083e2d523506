package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Defaults for values that have no natural zero.
const (
	DefaultServerURL      = "http://localhost:8000/post"
	DefaultUploadMode     = "binary"
	DefaultChannel        = "stable"
	DefaultRunningBuild   = "v0.0.0-dev"
	DefaultReader         = "simulated"
	DefaultCamera         = "file"
	DefaultProbeNetwork   = "udp"
	DefaultLedgerName     = "pending.csv"
	DefaultImagesDirName  = "images"
	DefaultFirmwareSubdir = "firmware"
)

// Config holds CLI configuration for tagcam.
type Config struct {
	ServerURL   string
	UploadMode  string
	AuthKey     string
	HTTPTimeout time.Duration
	Retries     int
	RetryDelay  time.Duration

	OTAServer          string
	Channel            string
	CriticalityCeiling float64
	Board              string
	CAFile             string
	ServerName         string
	RunningBuild       string

	StorageRoot string
	ImagesDir   string
	Ledger      string
	FirmwareDir string
	NoStorage   bool

	LinkFlag      string
	ProbeTarget   string
	ProbeCount    int
	ProbeTimeout  time.Duration
	ProbeInterval time.Duration
	ProbeNetwork  string

	CountdownTicks int
	TickInterval   time.Duration
	QueueCapacity  int

	Reader         string
	ScanInterval   time.Duration
	Camera         string
	CameraSource   string
	CaptureTimeout time.Duration

	ReplayInterval time.Duration

	LogLevel  string
	LogFormat string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ServerURL:          DefaultServerURL,
		UploadMode:         DefaultUploadMode,
		HTTPTimeout:        15 * time.Second,
		Retries:            2,
		RetryDelay:         500 * time.Millisecond,
		Channel:            DefaultChannel,
		CriticalityCeiling: 11,
		RunningBuild:       DefaultRunningBuild,
		ProbeTarget:        "www.espressif.com",
		ProbeCount:         4,
		ProbeTimeout:       time.Second,
		ProbeInterval:      time.Second,
		ProbeNetwork:       DefaultProbeNetwork,
		CountdownTicks:     10,
		TickInterval:       time.Second,
		QueueCapacity:      10,
		Reader:             DefaultReader,
		ScanInterval:       30 * time.Second,
		Camera:             DefaultCamera,
		CaptureTimeout:     10 * time.Second,
		ReplayInterval:     5 * time.Minute,
		LogLevel:           "info",
		LogFormat:          "console",
		AuthKey:            os.Getenv("TAGCAM_AUTH_KEY"),
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server-url is required")
	}

	switch c.UploadMode {
	case "":
		c.UploadMode = DefaultUploadMode
	case "binary", "multipart":
	default:
		return fmt.Errorf("upload-mode must be binary or multipart, got %q", c.UploadMode)
	}

	switch c.Channel {
	case "":
		c.Channel = DefaultChannel
	case "alpha", "beta", "stable":
	default:
		return fmt.Errorf("channel must be alpha, beta or stable, got %q", c.Channel)
	}

	// Ensure no trailing slash
	c.OTAServer = strings.TrimRight(c.OTAServer, "/")

	if !c.NoStorage {
		if c.StorageRoot == "" {
			c.StorageRoot = DefaultStorageRoot()
			if c.StorageRoot == "" {
				return fmt.Errorf("storage-root is required (or --no-storage)")
			}
		}
		if c.ImagesDir == "" {
			c.ImagesDir = filepath.Join(c.StorageRoot, DefaultImagesDirName)
		}
		if c.Ledger == "" {
			c.Ledger = filepath.Join(c.StorageRoot, DefaultLedgerName)
		}
	}
	if c.FirmwareDir == "" && c.StorageRoot != "" {
		c.FirmwareDir = filepath.Join(c.StorageRoot, DefaultFirmwareSubdir)
	}

	switch c.ProbeNetwork {
	case "udp", "raw":
	default:
		return fmt.Errorf("probe-network must be udp or raw, got %q", c.ProbeNetwork)
	}

	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.CountdownTicks < 0 {
		return fmt.Errorf("countdown ticks must not be negative")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}

	return nil
}

// ValidateCapture checks the reader and camera settings, which only the
// capture pipeline needs.
func (c *Config) ValidateCapture() error {
	switch c.Reader {
	case "simulated", "stdin":
	default:
		return fmt.Errorf("reader must be simulated or stdin, got %q", c.Reader)
	}
	switch c.Camera {
	case "file", "exec", "gst":
		if c.CameraSource == "" {
			return fmt.Errorf("camera-source is required for the %s camera", c.Camera)
		}
	default:
		return fmt.Errorf("camera must be file, exec or gst, got %q", c.Camera)
	}
	return nil
}

// Masked returns a copy safe to log.
func (c Config) Masked() Config {
	if len(c.AuthKey) > 0 {
		c.AuthKey = "*****"
	}
	return c
}

// DefaultStorageRoot returns ~/.tagcam/data, or "" without a home directory.
func DefaultStorageRoot() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".tagcam", "data")
	}
	return ""
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setFloat sets a float64 value if positive and flag not changed.
func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setFloatFromString parses a string to float64 and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if f <= 0 {
		return nil
	}
	*dst = f
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
