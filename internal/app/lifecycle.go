package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/tagcam/internal/domain"
	"github.com/bft-labs/tagcam/internal/ports"
)

// ShutdownTimeout is the maximum time to wait for graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// State represents the lifecycle state of the device.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

var stateNames = [...]string{"Stopped", "Starting", "Running", "Stopping", "Crashed"}

// String returns a human-readable representation of the state.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// next lists the states reachable from each state. A device may be stopped
// while its plugins are still starting.
var next = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateStopping, StateCrashed},
	StateRunning:  {StateStopping, StateCrashed},
	StateStopping: {StateStopped, StateCrashed},
	StateCrashed:  {StateStarting},
}

// EventEmitter is called when lifecycle state changes.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// Lifecycle holds the run state of a device and the pipeline goroutines
// started for the current run: the tag source, the orchestrator, the
// delivery worker, the event dispatcher and the boot OTA check.
type Lifecycle struct {
	mu      sync.Mutex
	state   State
	workers map[string]int
	wg      sync.WaitGroup

	logger  ports.Logger
	emitter EventEmitter
}

// NewLifecycle creates a lifecycle in StateStopped.
func NewLifecycle(logger ports.Logger, emitter EventEmitter) *Lifecycle {
	return &Lifecycle{
		state:   StateStopped,
		workers: make(map[string]int),
		logger:  logger,
		emitter: emitter,
	}
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Transition moves to state to. An invalid move leaves the state unchanged
// and returns domain.ErrNotRunning from a stopped or crashed device, or
// domain.ErrAlreadyRunning otherwise.
func (l *Lifecycle) Transition(to State, reason string) error {
	l.mu.Lock()
	from := l.state
	if !canMove(from, to) {
		l.mu.Unlock()
		if from == StateStopped || from == StateCrashed {
			return domain.ErrNotRunning
		}
		return domain.ErrAlreadyRunning
	}
	l.state = to
	l.mu.Unlock()

	if l.emitter != nil {
		l.emitter.OnStateChange(from, to, reason)
	}
	l.logger.Info("device state changed",
		ports.String("from", from.String()),
		ports.String("to", to.String()),
		ports.String("reason", reason),
	)
	return nil
}

func canMove(from, to State) bool {
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanStart reports whether the device is stopped or crashed.
func (l *Lifecycle) CanStart() bool {
	s := l.State()
	return s == StateStopped || s == StateCrashed
}

// CanStop reports whether the device is starting or running.
func (l *Lifecycle) CanStop() bool {
	s := l.State()
	return s == StateStarting || s == StateRunning
}

// Go runs fn as the named pipeline worker. An error other than context
// cancellation is logged with the name.
func (l *Lifecycle) Go(name string, fn func() error) {
	l.mu.Lock()
	l.workers[name]++
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			if l.workers[name]--; l.workers[name] <= 0 {
				delete(l.workers, name)
			}
			l.mu.Unlock()
		}()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error("worker exited", ports.String("worker", name), ports.Err(err))
		}
	}()
}

// Running returns the sorted names of workers that have not returned.
func (l *Lifecycle) Running() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.workers))
	for name := range l.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wait blocks until every worker has returned. After timeout it logs the
// workers still running and returns domain.ErrShutdownTimeout.
func (l *Lifecycle) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		l.logger.Warn("shutdown timeout, workers still running",
			ports.Duration("timeout", timeout),
			ports.String("workers", strings.Join(l.Running(), ",")),
		)
		return domain.ErrShutdownTimeout
	}
}
