package backlogreplay

import "github.com/bft-labs/tagcam/pkg/tagcam"

// WithBacklogReplay returns a tagcam Option that periodically uploads the
// images archived while the server was unreachable.
//
// Usage:
//
//	dev, err := tagcam.New(cfg, source, camera,
//	    backlogreplay.WithBacklogReplay(backlogreplay.Config{
//	        Interval:       10 * time.Minute,
//	        RunImmediately: true,
//	    }),
//	)
func WithBacklogReplay(cfg Config) tagcam.Option {
	plugin := New(cfg)
	return tagcam.WithPlugin(plugin)
}

// WithDefaultBacklogReplay returns a tagcam Option that replays the backlog
// on startup and every 10 minutes.
//
// Usage:
//
//	dev, err := tagcam.New(cfg, source, camera, backlogreplay.WithDefaultBacklogReplay())
func WithDefaultBacklogReplay() tagcam.Option {
	return WithBacklogReplay(DefaultConfig())
}
