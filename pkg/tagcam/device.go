package tagcam

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bft-labs/tagcam/internal/adapters/firmware"
	"github.com/bft-labs/tagcam/internal/adapters/fs"
	httpAdapter "github.com/bft-labs/tagcam/internal/adapters/http"
	logAdapter "github.com/bft-labs/tagcam/internal/adapters/log"
	"github.com/bft-labs/tagcam/internal/adapters/netprobe"
	"github.com/bft-labs/tagcam/internal/app"
	"github.com/bft-labs/tagcam/internal/bus"
	"github.com/bft-labs/tagcam/internal/clock"
	"github.com/bft-labs/tagcam/internal/domain"
	"github.com/bft-labs/tagcam/internal/ports"
)

// Sentinel errors returned by Device.
var (
	ErrAlreadyRunning = domain.ErrAlreadyRunning
	ErrNotRunning     = domain.ErrNotRunning
	ErrNoStorage      = domain.ErrNoStorage
	ErrNoRoute        = domain.ErrNoRoute
	ErrInvalidConfig  = domain.ErrInvalidConfig
	ErrOTADisabled    = errors.New("ota server not configured")
)

// Result types of on-demand operations.
type (
	ReplayResult = app.ReplayResult
	Resolution   = app.Resolution
	QueueStats   = app.QueueStats
	WorkerStats  = app.WorkerStats
)

const (
	scanBuffer    = 16
	handlerBuffer = 64
)

// Stats is a snapshot of the device counters.
type Stats struct {
	Queue    QueueStats
	Delivery WorkerStats
	// EventsDropped counts bus events a slow subscriber missed.
	EventsDropped uint64
}

// Device is an attendance terminal: scans trigger a countdown and a
// capture, and captures are uploaded or archived for later replay.
// Use New() to create an instance, then Start() to begin.
type Device struct {
	config    Config
	logger    ports.Logger
	lifecycle *app.Lifecycle
	bus       *bus.Bus
	handler   EventHandler
	plugins   []Plugin

	source       ports.TagSource
	link         ports.LinkStatus
	queue        *app.CaptureQueue
	orchestrator *app.Orchestrator
	worker       *app.DeliveryWorker
	replayer     *app.Replayer
	resolver     *app.Resolver

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New assembles a device around a tag source and a camera. The device is
// created in StateStopped; call Start() to begin.
func New(cfg Config, source TagSource, camera Camera, opts ...Option) (*Device, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil || camera == nil {
		return nil, errors.New("tag source and camera are required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = logAdapter.NewNoopLogger()
	}
	c := o.clock
	if c == nil {
		c = clock.Real()
	}
	link := o.link
	if link == nil {
		link = fs.StaticLink(true)
	}
	echo := o.echo
	if echo == nil {
		echo = netprobe.New(netprobe.Config{}, logger)
	}
	uploadClient := o.httpClient
	if uploadClient == nil {
		uploadClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	// A nil *Storage must not end up in a non-nil interface.
	var store ports.BacklogStore
	if cfg.HasStorage() {
		store = o.storage
		if store == nil {
			store = fs.NewStorage()
		}
	}

	b := bus.New()
	queue := app.NewCaptureQueue(cfg.QueueCapacity, c)
	prober := app.NewProber(app.ProberConfig{
		Target:   cfg.ProbeTarget,
		Count:    cfg.ProbeCount,
		Timeout:  cfg.ProbeTimeout,
		Interval: cfg.ProbeInterval,
	}, link, echo, c, logger)
	sender := httpAdapter.NewImageSender(httpAdapter.SenderConfig{
		URL:     cfg.ServerURL,
		Mode:    cfg.UploadMode,
		AuthKey: cfg.AuthKey,
	}, uploadClient, logger)
	uploader := app.NewUploader(app.UploaderConfig{Retries: cfg.Retries, RetryDelay: cfg.RetryDelay}, sender, c, logger)

	var archiver *app.Archiver
	var replayer *app.Replayer
	if store != nil {
		archiver = app.NewArchiver(store, cfg.ImagesDir, cfg.Ledger, c, logger)
		replayer = app.NewReplayer(store, cfg.Ledger, prober, uploader, logger)
	}

	orchestrator := app.NewOrchestrator(app.OrchestratorConfig{
		CountdownTicks: cfg.CountdownTicks,
		TickInterval:   cfg.TickInterval,
		HasStorage:     store != nil,
	}, source, camera, queue, b, c, logger)
	worker := app.NewDeliveryWorker(queue, prober, uploader, archiver, b, c, logger, 0)

	resolver, err := newResolver(cfg, o, logger)
	if err != nil {
		return nil, err
	}

	var emitter eventEmitterWrapper
	if o.eventHandler != nil {
		emitter = eventEmitterWrapper{handler: o.eventHandler}
	}

	return &Device{
		config:       cfg,
		logger:       logger,
		lifecycle:    app.NewLifecycle(logger, &emitter),
		bus:          b,
		handler:      o.eventHandler,
		plugins:      o.plugins,
		source:       source,
		link:         link,
		queue:        queue,
		orchestrator: orchestrator,
		worker:       worker,
		replayer:     replayer,
		resolver:     resolver,
	}, nil
}

func newResolver(cfg Config, o options, logger ports.Logger) (*app.Resolver, error) {
	if cfg.OTA.Server == "" {
		return nil, nil
	}
	client := o.httpClient
	if client == nil {
		c, err := httpAdapter.NewClient(httpAdapter.TLSConfig{
			CAFile:     cfg.OTA.CAFile,
			ServerName: cfg.OTA.ServerName,
		}, cfg.HTTPTimeout)
		if err != nil {
			return nil, err
		}
		client = c
	}
	installer := o.installer
	if installer == nil {
		dir := cfg.OTA.FirmwareDir
		if dir == "" {
			dir = os.TempDir()
		}
		installer = firmware.NewInstaller(firmware.Config{Dir: dir}, client, logger)
	}
	channel, _ := domain.ParseChannel(cfg.OTA.Channel)
	return app.NewResolver(app.OTAConfig{
		RunningBuild:       cfg.OTA.RunningBuild,
		Channel:            channel,
		CriticalityCeiling: cfg.OTA.CriticalityCeiling,
		Board:              cfg.OTA.Board,
		ServerURL:          cfg.OTA.Server,
		DryRun:             cfg.OTA.DryRun,
	}, httpAdapter.NewManifestSource(cfg.OTA.Server, client), installer, logger), nil
}

// Start runs the pipeline in the background: the tag source, the capture
// orchestrator, the delivery worker and, when configured, one OTA check.
// The provided context bounds the lifetime of the device.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.lifecycle.CanStart() {
		return ErrAlreadyRunning
	}
	if err := d.lifecycle.Transition(app.StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	scans := make(chan domain.Event, scanBuffer)
	if err := d.bus.Subscribe("orchestrator", scans, domain.EventTagScanned); err != nil {
		cancel()
		_ = d.lifecycle.Transition(app.StateCrashed, "subscribe failed")
		return err
	}
	var handlerEvents chan domain.Event
	if d.handler != nil {
		handlerEvents = make(chan domain.Event, handlerBuffer)
		_ = d.bus.Subscribe("handler", handlerEvents)
	}

	pluginCfg := PluginConfig{
		ServerURL: d.config.ServerURL,
		Ledger:    d.config.Ledger,
		OTAServer: d.config.OTA.Server,
		Logger:    d.logger,
		Device:    d,
	}
	for i, p := range d.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			d.logger.Error("plugin initialization failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
			cancel()
			d.shutdownPlugins(d.plugins[:i])
			d.unsubscribe()
			_ = d.lifecycle.Transition(app.StateCrashed, "plugin init failed: "+p.Name())
			return err
		}
		d.logger.Info("plugin initialized", ports.String("plugin", p.Name()))
	}

	if handlerEvents != nil {
		d.lifecycle.Go("events", func() error { return d.dispatch(runCtx, handlerEvents) })
	}
	d.lifecycle.Go("delivery", func() error { return d.worker.Run(runCtx) })
	d.lifecycle.Go("orchestrator", func() error { return d.orchestrator.Run(runCtx, scans) })
	d.lifecycle.Go("reader", func() error {
		return d.source.Run(runCtx, func(tag domain.Tag) {
			d.logger.Debug("tag scanned", ports.Uint64("tag", tag.SerialNumber))
			d.bus.Publish(domain.Event{Kind: domain.EventTagScanned, Tag: tag, At: time.Now()})
		})
	})
	if d.resolver != nil {
		d.lifecycle.Go("ota", func() error {
			_, err := d.resolver.Run(runCtx)
			return err
		})
	}

	if err := d.lifecycle.Transition(app.StateRunning, "pipeline started"); err != nil {
		d.logger.Error("failed to transition to running", ports.Err(err))
	}
	return nil
}

// Stop cancels the pipeline and waits for it to wind down. Jobs still
// queued are dropped. Returns domain.ErrShutdownTimeout if workers do not
// finish in time.
func (d *Device) Stop() error {
	d.mu.Lock()
	if !d.lifecycle.CanStop() {
		d.mu.Unlock()
		return ErrNotRunning
	}
	if err := d.lifecycle.Transition(app.StateStopping, "Stop() called"); err != nil {
		d.mu.Unlock()
		return err
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	err := d.lifecycle.Wait(app.ShutdownTimeout)
	d.shutdownPlugins(d.plugins)
	d.unsubscribe()

	if err != nil {
		_ = d.lifecycle.Transition(app.StateCrashed, "shutdown timeout")
	} else {
		_ = d.lifecycle.Transition(app.StateStopped, "graceful shutdown")
	}
	return err
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (d *Device) Status() State {
	return convertState(d.lifecycle.State())
}

// Stats returns queue and delivery counters.
func (d *Device) Stats() Stats {
	return Stats{
		Queue:         d.queue.Stats(),
		Delivery:      d.worker.Stats(),
		EventsDropped: d.bus.Stats().Dropped,
	}
}

// LinkUp reports the current link state.
func (d *Device) LinkUp() bool { return d.link.Up() }

// ReplayBacklog uploads archived captures. It returns ErrNoStorage on
// devices without an archive and ErrNoRoute when the server is not
// reachable.
func (d *Device) ReplayBacklog(ctx context.Context) (ReplayResult, error) {
	if d.replayer == nil {
		return ReplayResult{}, ErrNoStorage
	}
	return d.replayer.Replay(ctx)
}

// CheckForUpdate fetches the catalog and reports the best eligible build
// without installing it.
func (d *Device) CheckForUpdate(ctx context.Context) (Resolution, error) {
	if d.resolver == nil {
		return Resolution{}, ErrOTADisabled
	}
	return d.resolver.Check(ctx)
}

// Update runs a full update pass: resolve, install, restart. On success
// the process is replaced and Update does not return.
func (d *Device) Update(ctx context.Context) (Resolution, error) {
	if d.resolver == nil {
		return Resolution{}, ErrOTADisabled
	}
	return d.resolver.Run(ctx)
}

// dispatch forwards bus events to the handler until ctx ends.
func (d *Device) dispatch(ctx context.Context, events <-chan domain.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			d.handler.OnEvent(ev)
		}
	}
}

func (d *Device) shutdownPlugins(plugins []Plugin) {
	shutdownCtx := context.Background()
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if err := p.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("plugin shutdown failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
		} else {
			d.logger.Info("plugin shutdown complete", ports.String("plugin", p.Name()))
		}
	}
}

func (d *Device) unsubscribe() {
	_ = d.bus.Unsubscribe("orchestrator")
	if d.handler != nil {
		_ = d.bus.Unsubscribe("handler")
	}
}
