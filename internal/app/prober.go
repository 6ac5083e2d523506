package app

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/tagcam/internal/clock"
	"github.com/bft-labs/tagcam/internal/ports"
)

// Default probe configuration values.
const (
	DefaultProbeTarget   = "www.espressif.com"
	DefaultProbeCount    = 4
	DefaultProbeTimeout  = time.Second
	DefaultProbeInterval = time.Second
)

// Route is the delivery path chosen for a job.
type Route int

const (
	// RouteArchive sends the job to local storage.
	RouteArchive Route = iota
	// RouteUpload sends the job to the server.
	RouteUpload
)

// String returns a short name for the route.
func (r Route) String() string {
	if r == RouteUpload {
		return "upload"
	}
	return "archive"
}

// Decision is the outcome of one reachability check.
type Decision struct {
	Route Route

	// Reason explains the route: "reply", "link down", "all probes timed out",
	// "probe failed" or "deadline".
	Reason string

	// Seq is the sequence number that decided the outcome, 0 if none.
	Seq int
}

// ProberConfig contains configuration for the connectivity prober.
type ProberConfig struct {
	Target   string
	Count    int
	Timeout  time.Duration
	Interval time.Duration
}

func (c *ProberConfig) setDefaults() {
	if c.Target == "" {
		c.Target = DefaultProbeTarget
	}
	if c.Count <= 0 {
		c.Count = DefaultProbeCount
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultProbeTimeout
	}
	if c.Interval <= 0 {
		c.Interval = DefaultProbeInterval
	}
}

// deadline bounds the wait for a session that never reports back.
func (c ProberConfig) deadline() time.Duration {
	return time.Duration(c.Count)*(c.Interval+c.Timeout) + time.Second
}

// Prober decides whether a job is uploaded or archived.
type Prober struct {
	cfg    ProberConfig
	link   ports.LinkStatus
	echo   ports.EchoProber
	clock  clock.Clock
	logger ports.Logger
}

// NewProber creates a connectivity prober. A nil link is treated as always up.
func NewProber(cfg ProberConfig, link ports.LinkStatus, echo ports.EchoProber, c clock.Clock, logger ports.Logger) *Prober {
	cfg.setDefaults()
	if c == nil {
		c = clock.Real()
	}
	return &Prober{
		cfg:    cfg,
		link:   link,
		echo:   echo,
		clock:  c,
		logger: logger,
	}
}

// Decide runs one probe session and returns the route. It never blocks
// longer than the session deadline.
//
// The first reply selects RouteUpload and stops the rest of the session.
// A timeout on the last sequence number, or a session that ends without any
// reply, selects RouteArchive. Only the first outcome counts; the session
// is stopped exactly once.
func (p *Prober) Decide(ctx context.Context) Decision {
	if p.link != nil && !p.link.Up() {
		p.logger.Info("link down, skipping probe")
		return Decision{Route: RouteArchive, Reason: "link down"}
	}
	if p.echo == nil {
		return Decision{Route: RouteUpload, Reason: "probe disabled"}
	}

	outcome := make(chan Decision, 1)
	var once sync.Once
	report := func(d Decision) {
		once.Do(func() { outcome <- d })
	}

	cb := ports.ProbeCallbacks{
		OnReply: func(seq int, rtt time.Duration) {
			p.logger.Debug("probe reply",
				ports.String("target", p.cfg.Target),
				ports.Int("seq", seq),
				ports.Duration("rtt", rtt),
			)
			report(Decision{Route: RouteUpload, Reason: "reply", Seq: seq})
		},
		OnTimeout: func(seq int) {
			p.logger.Debug("probe timeout",
				ports.String("target", p.cfg.Target),
				ports.Int("seq", seq),
			)
			if seq >= p.cfg.Count {
				report(Decision{Route: RouteArchive, Reason: "all probes timed out", Seq: seq})
			}
		},
		OnEnd: func(sent, received int) {
			p.logger.Debug("probe session ended",
				ports.Int("sent", sent),
				ports.Int("received", received),
			)
			if received > 0 {
				report(Decision{Route: RouteUpload, Reason: "reply"})
				return
			}
			report(Decision{Route: RouteArchive, Reason: "all probes timed out"})
		},
	}

	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, err := p.echo.StartProbe(probeCtx, p.cfg.Target, ports.ProbeConfig{
		Count:    p.cfg.Count,
		Timeout:  p.cfg.Timeout,
		Interval: p.cfg.Interval,
	}, cb)
	if err != nil {
		p.logger.Warn("failed to start probe", ports.String("target", p.cfg.Target), ports.Err(err))
		return Decision{Route: RouteArchive, Reason: "probe failed"}
	}

	var d Decision
	select {
	case d = <-outcome:
	case <-p.clock.After(p.cfg.deadline()):
		d = Decision{Route: RouteArchive, Reason: "deadline"}
	case <-ctx.Done():
		d = Decision{Route: RouteArchive, Reason: "canceled"}
	}
	// Late callbacks from the stopped session are swallowed by once.
	report(d)
	session.Stop()

	p.logger.Info("delivery route selected",
		ports.String("route", d.Route.String()),
		ports.String("reason", d.Reason),
	)
	return d
}
