package cliconfig

import (
	"os"
	"time"
)

// ApplyEnvConfig applies configuration from environment variables (TAGCAM_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("server-url", os.Getenv("TAGCAM_SERVER_URL"), &cfg.ServerURL)
	s.setString("upload-mode", os.Getenv("TAGCAM_UPLOAD_MODE"), &cfg.UploadMode)
	s.setString("auth-key", os.Getenv("TAGCAM_AUTH_KEY"), &cfg.AuthKey)
	s.setString("ota-server", os.Getenv("TAGCAM_OTA_SERVER"), &cfg.OTAServer)
	s.setString("channel", os.Getenv("TAGCAM_CHANNEL"), &cfg.Channel)
	s.setString("board", os.Getenv("TAGCAM_BOARD"), &cfg.Board)
	s.setString("ca-file", os.Getenv("TAGCAM_CA_FILE"), &cfg.CAFile)
	s.setString("server-name", os.Getenv("TAGCAM_SERVER_NAME"), &cfg.ServerName)
	s.setString("running-build", os.Getenv("TAGCAM_RUNNING_BUILD"), &cfg.RunningBuild)
	s.setString("firmware-dir", os.Getenv("TAGCAM_FIRMWARE_DIR"), &cfg.FirmwareDir)
	s.setString("storage-root", os.Getenv("TAGCAM_STORAGE_ROOT"), &cfg.StorageRoot)
	s.setString("images-dir", os.Getenv("TAGCAM_IMAGES_DIR"), &cfg.ImagesDir)
	s.setString("ledger", os.Getenv("TAGCAM_LEDGER"), &cfg.Ledger)
	s.setString("link-flag", os.Getenv("TAGCAM_LINK_FLAG"), &cfg.LinkFlag)
	s.setString("probe-target", os.Getenv("TAGCAM_PROBE_TARGET"), &cfg.ProbeTarget)
	s.setString("probe-network", os.Getenv("TAGCAM_PROBE_NETWORK"), &cfg.ProbeNetwork)
	s.setString("reader", os.Getenv("TAGCAM_READER"), &cfg.Reader)
	s.setString("camera", os.Getenv("TAGCAM_CAMERA"), &cfg.Camera)
	s.setString("camera-source", os.Getenv("TAGCAM_CAMERA_SOURCE"), &cfg.CameraSource)
	s.setString("log-level", os.Getenv("TAGCAM_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", os.Getenv("TAGCAM_LOG_FORMAT"), &cfg.LogFormat)

	s.setBoolFromString("no-storage", os.Getenv("TAGCAM_NO_STORAGE"), &cfg.NoStorage)

	if err := s.setFloatFromString("criticality-ceiling", os.Getenv("TAGCAM_CRITICALITY_CEILING"), &cfg.CriticalityCeiling); err != nil {
		return err
	}

	ints := []struct {
		flag string
		env  string
		dst  *int
	}{
		{"retries", "TAGCAM_RETRIES", &cfg.Retries},
		{"probe-count", "TAGCAM_PROBE_COUNT", &cfg.ProbeCount},
		{"countdown-ticks", "TAGCAM_COUNTDOWN_TICKS", &cfg.CountdownTicks},
		{"queue-capacity", "TAGCAM_QUEUE_CAPACITY", &cfg.QueueCapacity},
	}
	for _, i := range ints {
		if err := s.setIntFromString(i.flag, os.Getenv(i.env), i.dst); err != nil {
			return err
		}
	}

	durations := []struct {
		flag string
		env  string
		dst  *time.Duration
	}{
		{"timeout", "TAGCAM_HTTP_TIMEOUT", &cfg.HTTPTimeout},
		{"retry-delay", "TAGCAM_RETRY_DELAY", &cfg.RetryDelay},
		{"probe-timeout", "TAGCAM_PROBE_TIMEOUT", &cfg.ProbeTimeout},
		{"probe-interval", "TAGCAM_PROBE_INTERVAL", &cfg.ProbeInterval},
		{"tick-interval", "TAGCAM_TICK_INTERVAL", &cfg.TickInterval},
		{"scan-interval", "TAGCAM_SCAN_INTERVAL", &cfg.ScanInterval},
		{"capture-timeout", "TAGCAM_CAPTURE_TIMEOUT", &cfg.CaptureTimeout},
		{"replay-interval", "TAGCAM_REPLAY_INTERVAL", &cfg.ReplayInterval},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, os.Getenv(d.env), d.dst); err != nil {
			return err
		}
	}

	return nil
}
