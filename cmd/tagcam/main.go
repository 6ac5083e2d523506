package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	logAdapter "github.com/bft-labs/tagcam/internal/adapters/log"
	"github.com/bft-labs/tagcam/internal/cliconfig"
	"github.com/bft-labs/tagcam/pkg/tagcam"
	"github.com/bft-labs/tagcam/plugins/backlogreplay"
	"github.com/bft-labs/tagcam/plugins/linkwatch"
)

const helpBanner = `
 _                                  
| |_ __ _  __ _  ___ __ _ _ __ ___  
| __/ _' |/ _' |/ __/ _' | '_ ' _ \ 
| || (_| | (_| | (_| (_| | | | | | |
 \__\__,_|\__, |\___\__,_|_| |_| |_|
          |___/                     
`

const helpDescription = `
Badge-triggered attendance camera: scan a card, count down, take a photo,
and get it to the server even when the network is not there.

Highlights:
  - Uploads each capture as soon as the server answers a reachability probe.
  - Archives to local storage while offline and replays the backlog later.
  - Checks the OTA catalog at boot and installs the newest eligible build.
  - Configure via file, env (TAGCAM_*), or flags.
`

var longHelp = strings.TrimSpace(helpBanner) + "\n\n" + strings.TrimSpace(helpDescription)

var exampleUsage = strings.TrimSpace(`
  tagcam --server-url http://192.168.1.10:8000/post --camera-source ./frames
  tagcam --reader stdin --camera exec --camera-source "libcamera-still -n -o -"
  tagcam ota-check --ota-server https://ota.example.com --dry-run
  tagcam replay --config $HOME/.tagcam/config.toml
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "tagcam",
		Short:         "Badge-triggered attendance camera with offline backlog and OTA updates",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfgPath, &cfg); err != nil {
				return err
			}
			if err := cfg.ValidateCapture(); err != nil {
				return err
			}
			return runDevice(cmd.Context(), cfg)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.tagcam/config.toml)")

	flags.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "upload endpoint")
	flags.StringVar(&cfg.UploadMode, "upload-mode", cfg.UploadMode, "upload encoding: binary or multipart")
	flags.StringVar(&cfg.AuthKey, "auth-key", cfg.AuthKey, "bearer token sent with uploads")
	flags.DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "HTTP timeout")
	flags.IntVar(&cfg.Retries, "retries", cfg.Retries, "upload attempts after the first")
	flags.DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "delay before the first upload retry")

	flags.StringVar(&cfg.OTAServer, "ota-server", cfg.OTAServer, "OTA base URL serving manifest.json (empty disables updates)")
	flags.StringVar(&cfg.Channel, "channel", cfg.Channel, "release channel: alpha, beta or stable")
	flags.Float64Var(&cfg.CriticalityCeiling, "criticality-ceiling", cfg.CriticalityCeiling, "reject builds with a higher criticality")
	flags.StringVar(&cfg.Board, "board", cfg.Board, "only accept builds for this board")
	flags.StringVar(&cfg.CAFile, "ca-file", cfg.CAFile, "PEM CA bundle pinning the OTA server")
	flags.StringVar(&cfg.ServerName, "server-name", cfg.ServerName, "name checked against the OTA server certificate")
	flags.StringVar(&cfg.RunningBuild, "running-build", cfg.RunningBuild, "build identifier of this firmware, e.g. v1.2.0-stable")

	flags.StringVar(&cfg.StorageRoot, "storage-root", cfg.StorageRoot, "offline storage root (default: $HOME/.tagcam/data)")
	flags.StringVar(&cfg.ImagesDir, "images-dir", cfg.ImagesDir, "archived images directory (default: <storage-root>/images)")
	flags.StringVar(&cfg.Ledger, "ledger", cfg.Ledger, "pending-upload ledger (default: <storage-root>/pending.csv)")
	flags.StringVar(&cfg.FirmwareDir, "firmware-dir", cfg.FirmwareDir, "staging directory for firmware downloads")
	flags.BoolVar(&cfg.NoStorage, "no-storage", cfg.NoStorage, "run without offline storage; unreachable captures are dropped")

	flags.StringVar(&cfg.LinkFlag, "link-flag", cfg.LinkFlag, "file holding the link state (up/down); empty means always up")
	flags.StringVar(&cfg.ProbeTarget, "probe-target", cfg.ProbeTarget, "host probed before each upload")
	flags.IntVar(&cfg.ProbeCount, "probe-count", cfg.ProbeCount, "echo requests per probe")
	flags.DurationVar(&cfg.ProbeTimeout, "probe-timeout", cfg.ProbeTimeout, "wait per echo request")
	flags.DurationVar(&cfg.ProbeInterval, "probe-interval", cfg.ProbeInterval, "delay between echo requests")
	flags.StringVar(&cfg.ProbeNetwork, "probe-network", cfg.ProbeNetwork, "ICMP socket: udp (unprivileged) or raw")

	flags.IntVar(&cfg.CountdownTicks, "countdown", cfg.CountdownTicks, "countdown ticks before the photo")
	flags.DurationVar(&cfg.TickInterval, "tick-interval", cfg.TickInterval, "countdown tick interval")
	flags.IntVar(&cfg.QueueCapacity, "queue-capacity", cfg.QueueCapacity, "captures waiting for delivery")

	flags.StringVar(&cfg.Reader, "reader", cfg.Reader, "tag source: simulated or stdin")
	flags.DurationVar(&cfg.ScanInterval, "scan-interval", cfg.ScanInterval, "simulated reader scan interval")
	flags.StringVar(&cfg.Camera, "camera", cfg.Camera, "camera: file, exec or gst (needs -tags gst)")
	flags.StringVar(&cfg.CameraSource, "camera-source", cfg.CameraSource, "JPEG file or directory (file), command line (exec), or pipeline ending in jpegenc (gst)")
	flags.DurationVar(&cfg.CaptureTimeout, "capture-timeout", cfg.CaptureTimeout, "exec camera timeout")

	flags.DurationVar(&cfg.ReplayInterval, "replay-interval", cfg.ReplayInterval, "backlog replay interval")

	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console or json")

	root.AddCommand(
		newOTACheckCommand(&cfg, &cfgPath),
		newReplayCommand(&cfg, &cfgPath),
		newVersionCommand(&cfg),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		logger := logAdapter.NewZerologAdapter(logAdapter.Options{}).Logger()
		logger.Error().Err(err).Msg("tagcam")
		os.Exit(1)
	}
}

// loadConfig applies the config file, then TAGCAM_* variables, then the
// flags the user set, and validates the result.
func loadConfig(cmd *cobra.Command, cfgPath string, cfg *cliconfig.Config) error {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	} else if cfgPath != "" {
		return fmt.Errorf("config file %s not found", cfgPath)
	}

	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return err
	}
	return cfg.Validate()
}

func runDevice(ctx context.Context, cfg cliconfig.Config) error {
	logger := newLogger(cfg)
	log := logger.Logger()
	log.Info().Interface("config", cfg.Masked()).Msg("configuration")

	source, err := newTagSource(cfg, logger)
	if err != nil {
		return err
	}
	camera, err := newCamera(cfg)
	if err != nil {
		return err
	}

	libCfg := deviceConfig(cfg, logger)
	opts := deviceOptions(cfg, logger)
	opts = append(opts,
		tagcam.WithEventHandler(&eventLogger{log: logger}),
		backlogreplay.WithBacklogReplay(backlogreplay.Config{
			Interval:       cfg.ReplayInterval,
			RunImmediately: true,
		}),
	)
	if cfg.LinkFlag != "" {
		opts = append(opts, linkwatch.WithLinkWatch(linkwatch.DefaultConfig(cfg.LinkFlag)))
	}

	dev, err := tagcam.New(libCfg, source, camera, opts...)
	if err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	if err := dev.Start(ctx); err != nil {
		return fmt.Errorf("start device: %w", err)
	}

	<-ctx.Done()
	log.Info().Msg("received signal, stopping...")

	stats := dev.Stats()
	if err := dev.Stop(); err != nil {
		return fmt.Errorf("stop device: %w", err)
	}
	log.Info().
		Uint64("enqueued", stats.Queue.Enqueued).
		Uint64("queue_dropped", stats.Queue.Dropped).
		Uint64("uploaded", stats.Delivery.Uploaded).
		Uint64("archived", stats.Delivery.Archived).
		Uint64("dropped", stats.Delivery.Dropped).
		Msg("stopped")
	return nil
}

func newLogger(cfg cliconfig.Config) *logAdapter.ZerologAdapter {
	return logAdapter.NewZerologAdapter(logAdapter.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
}

// startupGrace bounds how long the OTA check may delay maintenance commands.
const startupGrace = 2 * time.Minute
