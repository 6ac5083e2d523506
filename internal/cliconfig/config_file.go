package cliconfig

import (
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	ServerURL   string `toml:"server_url"`
	UploadMode  string `toml:"upload_mode"`
	AuthKey     string `toml:"auth_key"`
	HTTPTimeout string `toml:"http_timeout"`
	Retries     int    `toml:"retries"`
	RetryDelay  string `toml:"retry_delay"`

	OTA struct {
		Server             string  `toml:"server"`
		Channel            string  `toml:"channel"`
		CriticalityCeiling float64 `toml:"criticality_ceiling"`
		Board              string  `toml:"board"`
		CAFile             string  `toml:"ca_file"`
		ServerName         string  `toml:"server_name"`
		RunningBuild       string  `toml:"running_build"`
		FirmwareDir        string  `toml:"firmware_dir"`
	} `toml:"ota"`

	StorageRoot string `toml:"storage_root"`
	ImagesDir   string `toml:"images_dir"`
	Ledger      string `toml:"ledger"`
	NoStorage   *bool  `toml:"no_storage"`

	Probe struct {
		LinkFlag string `toml:"link_flag"`
		Target   string `toml:"target"`
		Count    int    `toml:"count"`
		Timeout  string `toml:"timeout"`
		Interval string `toml:"interval"`
		Network  string `toml:"network"`
	} `toml:"probe"`

	CountdownTicks int    `toml:"countdown_ticks"`
	TickInterval   string `toml:"tick_interval"`
	QueueCapacity  int    `toml:"queue_capacity"`

	Reader         string `toml:"reader"`
	ScanInterval   string `toml:"scan_interval"`
	Camera         string `toml:"camera"`
	CameraSource   string `toml:"camera_source"`
	CaptureTimeout string `toml:"capture_timeout"`

	ReplayInterval string `toml:"replay_interval"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.tagcam/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".tagcam", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("server-url", fc.ServerURL, &cfg.ServerURL)
	s.setString("upload-mode", fc.UploadMode, &cfg.UploadMode)
	s.setString("auth-key", fc.AuthKey, &cfg.AuthKey)
	s.setInt("retries", fc.Retries, &cfg.Retries)

	s.setString("ota-server", fc.OTA.Server, &cfg.OTAServer)
	s.setString("channel", fc.OTA.Channel, &cfg.Channel)
	s.setFloat("criticality-ceiling", fc.OTA.CriticalityCeiling, &cfg.CriticalityCeiling)
	s.setString("board", fc.OTA.Board, &cfg.Board)
	s.setString("ca-file", fc.OTA.CAFile, &cfg.CAFile)
	s.setString("server-name", fc.OTA.ServerName, &cfg.ServerName)
	s.setString("running-build", fc.OTA.RunningBuild, &cfg.RunningBuild)
	s.setString("firmware-dir", fc.OTA.FirmwareDir, &cfg.FirmwareDir)

	s.setString("storage-root", fc.StorageRoot, &cfg.StorageRoot)
	s.setString("images-dir", fc.ImagesDir, &cfg.ImagesDir)
	s.setString("ledger", fc.Ledger, &cfg.Ledger)
	s.setBool("no-storage", fc.NoStorage, &cfg.NoStorage)

	s.setString("link-flag", fc.Probe.LinkFlag, &cfg.LinkFlag)
	s.setString("probe-target", fc.Probe.Target, &cfg.ProbeTarget)
	s.setInt("probe-count", fc.Probe.Count, &cfg.ProbeCount)
	s.setString("probe-network", fc.Probe.Network, &cfg.ProbeNetwork)

	s.setInt("countdown-ticks", fc.CountdownTicks, &cfg.CountdownTicks)
	s.setInt("queue-capacity", fc.QueueCapacity, &cfg.QueueCapacity)

	s.setString("reader", fc.Reader, &cfg.Reader)
	s.setString("camera", fc.Camera, &cfg.Camera)
	s.setString("camera-source", fc.CameraSource, &cfg.CameraSource)

	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"timeout", fc.HTTPTimeout, &cfg.HTTPTimeout},
		{"retry-delay", fc.RetryDelay, &cfg.RetryDelay},
		{"probe-timeout", fc.Probe.Timeout, &cfg.ProbeTimeout},
		{"probe-interval", fc.Probe.Interval, &cfg.ProbeInterval},
		{"tick-interval", fc.TickInterval, &cfg.TickInterval},
		{"scan-interval", fc.ScanInterval, &cfg.ScanInterval},
		{"capture-timeout", fc.CaptureTimeout, &cfg.CaptureTimeout},
		{"replay-interval", fc.ReplayInterval, &cfg.ReplayInterval},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
