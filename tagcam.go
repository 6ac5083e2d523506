// Package tagcam runs a badge-triggered attendance camera.
//
// Example usage:
//
//	cfg := tagcam.DefaultConfig()
//	cfg.ServerURL = "http://192.168.1.10:8000/post"
//	cfg.ImagesDir = "/sdcard/images"
//	cfg.Ledger = "/sdcard/pending.csv"
//	if err := tagcam.Run(ctx, cfg, reader, camera); err != nil {
//	    log.Fatal(err)
//	}
//
// Run blocks until ctx is canceled. Embedders that need events, plugins or
// on-demand replay use pkg/tagcam directly.
package tagcam

import (
	"context"

	"github.com/bft-labs/tagcam/pkg/tagcam"
)

// Config holds the configuration of a device.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = tagcam.Config

// DefaultConfig returns a Config with sensible default values.
// At minimum, ServerURL must be set before calling Run.
func DefaultConfig() Config {
	return tagcam.DefaultConfig()
}

// Run starts a device and blocks until ctx is canceled, then stops it.
// Captures still queued at that point are dropped.
func Run(ctx context.Context, cfg Config, source tagcam.TagSource, camera tagcam.Camera, opts ...tagcam.Option) error {
	dev, err := tagcam.New(cfg, source, camera, opts...)
	if err != nil {
		return err
	}
	if err := dev.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return dev.Stop()
}
