// Package linkwatch tracks the network link through a flag file kept by
// the network manager, and replays the offline backlog once the link is
// back.
package linkwatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bft-labs/tagcam/internal/adapters/fs"
	logAdapter "github.com/bft-labs/tagcam/internal/adapters/log"
	"github.com/bft-labs/tagcam/internal/ports"
	"github.com/bft-labs/tagcam/pkg/tagcam"
)

// Replayer is the part of the device the plugin drives.
type Replayer interface {
	ReplayBacklog(ctx context.Context) (tagcam.ReplayResult, error)
}

// Plugin watches the link flag file. It is also the device's LinkStatus.
type Plugin struct {
	mu sync.Mutex

	// Configuration
	debounceDelay time.Duration
	replayOnUp    bool

	flag *fs.LinkFlag

	// Runtime state
	logger   tagcam.Logger
	replayer Replayer
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
}

// Config holds configuration options for the link watcher.
type Config struct {
	// Path is the flag file. A missing file means the link is down.
	Path string

	// DebounceDelay is how long the link must stay up before a replay.
	// Default: 2 seconds
	DebounceDelay time.Duration

	// ReplayOnUp replays the backlog after the link comes up.
	// Default: true
	ReplayOnUp bool
}

// DefaultConfig returns a Config watching path.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		DebounceDelay: 2 * time.Second,
		ReplayOnUp:    true,
	}
}

// New creates a link watcher. The flag file is read immediately so the
// device sees the right state before it starts.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 2 * time.Second
	}

	p := &Plugin{
		debounceDelay: cfg.DebounceDelay,
		replayOnUp:    cfg.ReplayOnUp,
		flag:          fs.NewLinkFlag(cfg.Path, logAdapter.NewNoopLogger()),
		logger:        logAdapter.NewNoopLogger(),
	}
	p.flag.OnChange(p.linkChanged)
	return p
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "linkwatch"
}

// Up reports the last observed link state.
func (p *Plugin) Up() bool {
	return p.flag.Up()
}

// Initialize starts watching the flag file.
func (p *Plugin) Initialize(ctx context.Context, cfg tagcam.PluginConfig) error {
	if p.flag.Path() == "" {
		cfg.Logger.Warn("link watch disabled: no flag file configured")
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.logger = cfg.Logger
	if cfg.Device != nil {
		p.replayer = cfg.Device
	}
	p.runCtx = watchCtx
	p.cancel = cancel
	p.mu.Unlock()
	p.flag.SetLogger(cfg.Logger)

	cfg.Logger.Info("link watch plugin initialized",
		ports.String("flag", p.flag.Path()),
		ports.Bool("up", p.flag.Up()),
	)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.flag.Run(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
			p.currentLogger().Error("link flag watcher stopped", ports.Err(err))
		}
	}()
	return nil
}

// Shutdown stops watching and cancels a pending replay.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.stopDebounce()
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *Plugin) linkChanged(up bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopDebounce()
	if !up || !p.replayOnUp || p.replayer == nil || p.runCtx == nil || p.runCtx.Err() != nil {
		return
	}

	ctx := p.runCtx
	p.wg.Add(1)
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		defer p.wg.Done()
		p.replay(ctx)
	})
}

// stopDebounce cancels a scheduled replay. p.mu must be held.
func (p *Plugin) stopDebounce() {
	if p.debounce == nil {
		return
	}
	if p.debounce.Stop() {
		p.wg.Done()
	}
	p.debounce = nil
}

func (p *Plugin) replay(ctx context.Context) {
	if ctx.Err() != nil || !p.flag.Up() {
		return
	}
	p.mu.Lock()
	replayer := p.replayer
	logger := p.logger
	p.mu.Unlock()

	res, err := replayer.ReplayBacklog(ctx)
	switch {
	case errors.Is(err, tagcam.ErrNoStorage):
		logger.Debug("link up, no backlog storage")
	case errors.Is(err, tagcam.ErrNoRoute):
		logger.Info("link up but server unreachable, backlog kept")
	case err != nil:
		logger.Error("backlog replay failed", ports.Err(err))
	default:
		logger.Info("backlog replayed after link up",
			ports.Int("uploaded", res.Uploaded),
			ports.Int("kept", res.Kept),
		)
	}
}

func (p *Plugin) currentLogger() tagcam.Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logger
}

// Ensure Plugin implements tagcam.Plugin and tagcam.LinkStatus.
var (
	_ tagcam.Plugin     = (*Plugin)(nil)
	_ tagcam.LinkStatus = (*Plugin)(nil)
)
