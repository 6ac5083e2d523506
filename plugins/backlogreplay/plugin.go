// Package backlogreplay uploads the offline backlog of a tagcam device on
// a fixed schedule, so captures archived during an outage reach the server
// without waiting for a reboot.
package backlogreplay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bft-labs/tagcam/internal/clock"
	"github.com/bft-labs/tagcam/internal/ports"
	"github.com/bft-labs/tagcam/pkg/tagcam"
)

// Replayer is the part of the device the plugin drives.
type Replayer interface {
	ReplayBacklog(ctx context.Context) (tagcam.ReplayResult, error)
}

// Plugin implements scheduled backlog replay.
type Plugin struct {
	mu sync.RWMutex

	// Configuration
	interval       time.Duration
	runImmediately bool
	clock          tagcam.Clock

	// Runtime state
	replayer Replayer
	logger   tagcam.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	passes   int
}

// Config holds configuration options for the backlog replay plugin.
type Config struct {
	// Interval is the delay between replay passes.
	// Default: 10 minutes
	Interval time.Duration

	// RunImmediately runs a pass on startup, which covers captures
	// archived before a reboot.
	// Default: true
	RunImmediately bool

	// Clock drives the schedule. Default: the wall clock.
	Clock tagcam.Clock
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       10 * time.Minute,
		RunImmediately: true,
	}
}

// New creates a new backlog replay plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	return &Plugin{
		interval:       cfg.Interval,
		runImmediately: cfg.RunImmediately,
		clock:          cfg.Clock,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "backlogreplay"
}

// Initialize starts the replay loop.
func (p *Plugin) Initialize(ctx context.Context, cfg tagcam.PluginConfig) error {
	p.mu.Lock()
	p.logger = cfg.Logger
	if cfg.Device != nil {
		p.replayer = cfg.Device
	}
	p.mu.Unlock()

	if cfg.Ledger == "" {
		p.logger.Warn("backlog replay disabled: no offline storage configured")
		return nil
	}
	return p.start(ctx)
}

func (p *Plugin) start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.replayer == nil {
		return errors.New("backlog replay: no device")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("backlog replay plugin initialized",
		ports.Duration("interval", p.interval),
	)

	p.wg.Add(1)
	go p.replayLoop(loopCtx)
	return nil
}

// Shutdown stops the replay loop. A pass in progress is canceled; the
// records it did not finish stay in the ledger.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

// Passes returns the number of completed replay passes.
func (p *Plugin) Passes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.passes
}

func (p *Plugin) replayLoop(ctx context.Context) {
	defer p.wg.Done()

	if p.runImmediately {
		p.replayOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.interval):
			p.replayOnce(ctx)
		}
	}
}

// replayOnce performs a single pass.
func (p *Plugin) replayOnce(ctx context.Context) {
	p.mu.RLock()
	replayer := p.replayer
	logger := p.logger
	p.mu.RUnlock()

	res, err := replayer.ReplayBacklog(ctx)

	p.mu.Lock()
	p.passes++
	p.mu.Unlock()

	switch {
	case err == nil:
		if res != (tagcam.ReplayResult{}) {
			logger.Info("backlog replay completed",
				ports.Int("uploaded", res.Uploaded),
				ports.Int("kept", res.Kept),
				ports.Int("malformed", res.Malformed),
				ports.Int("missing", res.Missing),
			)
		}
	case errors.Is(err, tagcam.ErrNoRoute):
		logger.Debug("backlog replay skipped: server unreachable")
	case errors.Is(err, context.Canceled):
	default:
		logger.Error("backlog replay failed", ports.Err(err))
	}
}

// Ensure Plugin implements tagcam.Plugin.
var _ tagcam.Plugin = (*Plugin)(nil)
