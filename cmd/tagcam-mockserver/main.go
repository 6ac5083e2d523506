package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	logAdapter "github.com/bft-labs/tagcam/internal/adapters/log"
	"github.com/bft-labs/tagcam/internal/mockserver"
	"github.com/bft-labs/tagcam/internal/ports"
)

const shutdownTimeout = 10 * time.Second

var exampleUsage = strings.TrimSpace(`
  tagcam-mockserver serve --root ./ota --addr :8000
  tagcam-mockserver publish --root ./ota --name tagcam --board esp32cam \
      --version v1.3.0-beta --binary build/tagcam.bin
`)

func main() {
	var (
		root      string
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:           "tagcam-mockserver",
		Short:         "Development ingest and OTA server for tagcam devices",
		Example:       exampleUsage,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&root, "root", ".", "directory holding manifest.json, firmware and uploads/")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", logAdapter.FormatConsole, "log format: console or json")

	newLogger := func() *logAdapter.ZerologAdapter {
		return logAdapter.NewZerologAdapter(logAdapter.Options{Level: logLevel, Format: logFormat})
	}

	cmd.AddCommand(newServeCommand(&root, newLogger), newPublishCommand(&root))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		logger := logAdapter.NewZerologAdapter(logAdapter.Options{}).Logger()
		logger.Error().Err(err).Msg("tagcam-mockserver")
		os.Exit(1)
	}
}

func newServeCommand(root *string, newLogger func() *logAdapter.ZerologAdapter) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept uploads on /post and serve the OTA catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			if err := os.MkdirAll(*root, 0o755); err != nil {
				return fmt.Errorf("create root: %w", err)
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           mockserver.New(*root, logger).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				logger.Info("mock server listening", ports.String("addr", addr), ports.String("root", *root))
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
			}

			logger.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8000", "listen address")
	return cmd
}

func newPublishCommand(root *string) *cobra.Command {
	var req mockserver.PublishRequest
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Copy a firmware binary under the root and list it in manifest.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := mockserver.Publish(*root, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !res.Added {
				fmt.Fprintf(out, "%s %s already listed, binary refreshed at %s\n", res.Entry.Name, res.Entry.VersionLong, res.Path)
				return nil
			}
			fmt.Fprintf(out, "published %s %s (%s) as %s\n", res.Entry.Name, res.Entry.VersionLong, res.Entry.BuildType, res.Entry.FirmwareURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "firmware name")
	cmd.Flags().StringVar(&req.Board, "board", "", "board the build targets")
	cmd.Flags().StringVar(&req.MCU, "mcu", "esp32", "microcontroller, part of the file name")
	cmd.Flags().StringVar(&req.VersionLong, "version", "", "build identifier, e.g. v1.3.0-beta")
	cmd.Flags().StringVar(&req.Channel, "channel", "", "alpha, beta or stable (default: derived from the version)")
	cmd.Flags().Float64Var(&req.Criticality, "criticality", mockserver.DefaultCriticality, "update criticality")
	cmd.Flags().StringVar(&req.Binary, "binary", "", "firmware binary to publish")
	return cmd
}
