package ports

import (
	"context"
	"time"
)

// ProbeConfig describes one echo session.
type ProbeConfig struct {
	// Count is the number of echo requests to send. Sequence numbers run
	// from 1 to Count.
	Count int

	// Timeout is how long to wait for each reply.
	Timeout time.Duration

	// Interval is the delay between consecutive requests.
	Interval time.Duration
}

// ProbeCallbacks receive the outcome of each echo request. Callbacks may be
// invoked from any goroutine, but never concurrently for one session.
type ProbeCallbacks struct {
	// OnReply is called when request seq was answered.
	OnReply func(seq int, rtt time.Duration)

	// OnTimeout is called when request seq was not answered in time.
	OnTimeout func(seq int)

	// OnEnd is called once when the session finishes, whether it ran to
	// completion or was stopped.
	OnEnd func(sent, received int)
}

// ProbeSession is a running echo session.
type ProbeSession interface {
	// Stop ends the session early. It is safe to call more than once and
	// after the session has ended.
	Stop()
}

// EchoProber starts echo sessions against a host.
type EchoProber interface {
	StartProbe(ctx context.Context, target string, cfg ProbeConfig, cb ProbeCallbacks) (ProbeSession, error)
}
