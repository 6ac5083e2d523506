package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bft-labs/tagcam/internal/adapters/device"
	"github.com/bft-labs/tagcam/internal/adapters/fs"
	logAdapter "github.com/bft-labs/tagcam/internal/adapters/log"
	"github.com/bft-labs/tagcam/internal/adapters/netprobe"
	"github.com/bft-labs/tagcam/internal/cliconfig"
	"github.com/bft-labs/tagcam/internal/ports"
	"github.com/bft-labs/tagcam/pkg/tagcam"
)

func newOTACheckCommand(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "ota-check",
		Short: "Check the OTA catalog and install the newest eligible build",
		Long: strings.TrimSpace(`
Fetch manifest.json from the OTA server, filter it by running build,
criticality, channel and board, and report the newest eligible build.
Without --dry-run the build is downloaded, verified and booted.`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, *cfgPath, cfg); err != nil {
				return err
			}
			if cfg.OTAServer == "" {
				return errors.New("ota-server is required")
			}
			logger := newLogger(*cfg)

			libCfg := deviceConfig(*cfg, logger)
			libCfg.OTA.DryRun = dryRun
			dev, err := tagcam.New(libCfg, idleSource{}, offlineCamera{}, maintenanceOptions(*cfg, logger)...)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), startupGrace)
			defer cancel()

			var res tagcam.Resolution
			if dryRun {
				res, err = dev.CheckForUpdate(ctx)
			} else {
				res, err = dev.Update(ctx)
			}
			if err != nil {
				return err
			}
			printResolution(cmd, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only report the selected build")
	return cmd
}

func printResolution(cmd *cobra.Command, res tagcam.Resolution) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "running:   %s\n", res.Current)
	fmt.Fprintf(out, "best seen: %s\n", res.BestSeen)
	for _, rej := range res.Rejected {
		fmt.Fprintf(out, "rejected:  %s %s: %v\n", rej.Name, rej.Version, rej.Err)
	}
	if !res.Eligible() {
		fmt.Fprintln(out, "no eligible update")
		return
	}
	fmt.Fprintf(out, "selected:  %s %s (%s)\n", res.Candidate.Name, res.Candidate.Version, res.Candidate.Channel)
	fmt.Fprintf(out, "firmware:  %s\n", res.FirmwareURL)
}

func newReplayCommand(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Upload the offline backlog once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, *cfgPath, cfg); err != nil {
				return err
			}
			if cfg.NoStorage {
				return errors.New("replay needs offline storage")
			}
			logger := newLogger(*cfg)

			dev, err := tagcam.New(deviceConfig(*cfg, logger), idleSource{}, offlineCamera{}, maintenanceOptions(*cfg, logger)...)
			if err != nil {
				return err
			}
			res, err := dev.ReplayBacklog(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d, kept %d, malformed %d, missing %d\n",
				res.Uploaded, res.Kept, res.Malformed, res.Missing)
			return nil
		},
	}
}

func newVersionCommand(cfg *cliconfig.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the program and firmware build",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tagcam %s\nrunning build %s\n", getVersion(), cfg.RunningBuild)
		},
	}
}

// deviceConfig maps the CLI configuration onto the library one. Storage
// is dropped when the storage root cannot be used, as on a device booted
// without its card.
func deviceConfig(cfg cliconfig.Config, logger ports.Logger) tagcam.Config {
	libCfg := tagcam.Config{
		ServerURL:      cfg.ServerURL,
		UploadMode:     cfg.UploadMode,
		AuthKey:        cfg.AuthKey,
		HTTPTimeout:    cfg.HTTPTimeout,
		Retries:        cfg.Retries,
		RetryDelay:     cfg.RetryDelay,
		ProbeTarget:    cfg.ProbeTarget,
		ProbeCount:     cfg.ProbeCount,
		ProbeTimeout:   cfg.ProbeTimeout,
		ProbeInterval:  cfg.ProbeInterval,
		CountdownTicks: cfg.CountdownTicks,
		TickInterval:   cfg.TickInterval,
		QueueCapacity:  cfg.QueueCapacity,
		OTA: tagcam.OTAConfig{
			Server:             cfg.OTAServer,
			Channel:            cfg.Channel,
			CriticalityCeiling: cfg.CriticalityCeiling,
			Board:              cfg.Board,
			RunningBuild:       cfg.RunningBuild,
			CAFile:             cfg.CAFile,
			ServerName:         cfg.ServerName,
			FirmwareDir:        cfg.FirmwareDir,
		},
	}
	if !cfg.NoStorage {
		if fs.Available(cfg.ImagesDir) {
			libCfg.ImagesDir = cfg.ImagesDir
			libCfg.Ledger = cfg.Ledger
		} else {
			logger.Warn("offline storage unavailable, unreachable captures will be dropped",
				ports.String("images_dir", cfg.ImagesDir))
		}
	}
	return libCfg
}

// deviceOptions are shared by every command.
func deviceOptions(cfg cliconfig.Config, logger *logAdapter.ZerologAdapter) []tagcam.Option {
	network := netprobe.NetworkUDP
	if cfg.ProbeNetwork == "raw" {
		network = netprobe.NetworkRaw
	}
	return []tagcam.Option{
		tagcam.WithLogger(logger),
		tagcam.WithEchoProber(netprobe.New(netprobe.Config{Network: network}, logger)),
	}
}

// maintenanceOptions add a one-shot read of the link flag; the watcher is
// only worth running for the long-lived device.
func maintenanceOptions(cfg cliconfig.Config, logger *logAdapter.ZerologAdapter) []tagcam.Option {
	opts := deviceOptions(cfg, logger)
	if cfg.LinkFlag != "" {
		opts = append(opts, tagcam.WithLinkStatus(fs.NewLinkFlag(cfg.LinkFlag, logger)))
	}
	return opts
}

func newTagSource(cfg cliconfig.Config, logger ports.Logger) (tagcam.TagSource, error) {
	switch cfg.Reader {
	case "simulated":
		return device.NewSimulatedReader(device.DefaultMockSerial, cfg.ScanInterval, nil), nil
	case "stdin":
		return device.NewLineReader(os.Stdin, logger), nil
	default:
		return nil, fmt.Errorf("unknown reader %q", cfg.Reader)
	}
}

func newCamera(cfg cliconfig.Config) (tagcam.Camera, error) {
	switch cfg.Camera {
	case "file":
		return device.NewFileCamera(cfg.CameraSource)
	case "exec":
		return device.NewExecCamera(strings.Fields(cfg.CameraSource), cfg.CaptureTimeout)
	case "gst":
		return device.NewGstCamera(cfg.CameraSource, cfg.CaptureTimeout)
	default:
		return nil, fmt.Errorf("unknown camera %q", cfg.Camera)
	}
}

// idleSource never scans. Maintenance commands use it with offlineCamera
// since they do not run the capture pipeline.
type idleSource struct{}

func (idleSource) Pause() error  { return nil }
func (idleSource) Resume() error { return nil }

func (idleSource) Run(ctx context.Context, emit func(tagcam.Tag)) error {
	<-ctx.Done()
	return ctx.Err()
}

type offlineCamera struct{}

func (offlineCamera) AcquireFrame(ctx context.Context) (*tagcam.Frame, error) {
	return nil, errors.New("no camera in maintenance mode")
}

// eventLogger writes device events to the log.
type eventLogger struct {
	log ports.Logger
}

func (e *eventLogger) OnStateChange(ev tagcam.StateChangeEvent) {
	e.log.Info("device state changed",
		ports.String("from", ev.Previous.String()),
		ports.String("to", ev.Current.String()),
		ports.String("reason", ev.Reason),
	)
}

func (e *eventLogger) OnEvent(ev tagcam.Event) {
	fields := []ports.Field{
		ports.String("event", ev.Kind.String()),
		ports.Uint64("tag", ev.Tag.SerialNumber),
	}
	if ev.JobID != "" {
		fields = append(fields, ports.String("job", ev.JobID))
	}

	switch ev.Kind {
	case tagcam.EventCountdownTick:
		e.log.Debug("countdown", append(fields, ports.Int("remaining", ev.Remaining))...)
	case tagcam.EventCaptureFailed, tagcam.EventDropped:
		e.log.Warn("capture lost", append(fields, ports.String("reason", ev.Reason))...)
	default:
		e.log.Info("device event", fields...)
	}
}
