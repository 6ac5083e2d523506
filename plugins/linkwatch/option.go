package linkwatch

import "github.com/bft-labs/tagcam/pkg/tagcam"

// WithLinkWatch returns a tagcam Option that installs the flag file as the
// device's link indicator and watches it. When the link comes back up the
// archived backlog is replayed.
//
// Usage:
//
//	dev, err := tagcam.New(cfg, source, camera,
//	    linkwatch.WithLinkWatch(linkwatch.Config{
//	        Path:          "/run/tagcam/link",
//	        DebounceDelay: 2 * time.Second,
//	    }),
//	)
func WithLinkWatch(cfg Config) tagcam.Option {
	plugin := New(cfg)
	return tagcam.WithOptions(
		tagcam.WithLinkStatus(plugin),
		tagcam.WithPlugin(plugin),
	)
}
