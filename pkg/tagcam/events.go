package tagcam

import (
	"github.com/bft-labs/tagcam/internal/app"
	"github.com/bft-labs/tagcam/internal/domain"
)

// State represents the lifecycle state of a Device.
type State int

const (
	// StateStopped indicates the device is not running.
	StateStopped State = iota
	// StateStarting indicates the device is initializing.
	StateStarting
	// StateRunning indicates the device is processing scans.
	StateRunning
	// StateStopping indicates the device is shutting down.
	StateStopping
	// StateCrashed indicates the device stopped due to an error.
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// Event is a pipeline event: a scan, a countdown tick, a capture or a
// delivery outcome.
type Event = domain.Event

// EventKind identifies the type of an Event.
type EventKind = domain.EventKind

// Event kinds.
const (
	EventTagScanned    = domain.EventTagScanned
	EventCountdownTick = domain.EventCountdownTick
	EventPhotoTaken    = domain.EventPhotoTaken
	EventCaptureFailed = domain.EventCaptureFailed
	EventDelivered     = domain.EventDelivered
	EventArchived      = domain.EventArchived
	EventDropped       = domain.EventDropped
)

// StateChangeEvent is emitted on lifecycle transitions.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// EventHandler receives device notifications. Pipeline events are
// delivered from a dedicated goroutine in publish order; a slow handler
// loses events rather than stalling the pipeline.
type EventHandler interface {
	OnStateChange(StateChangeEvent)
	OnEvent(Event)
}

// eventEmitterWrapper adapts EventHandler to the lifecycle emitter.
type eventEmitterWrapper struct {
	handler EventHandler
}

func (e *eventEmitterWrapper) OnStateChange(previous, current app.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Previous: convertState(previous),
		Current:  convertState(current),
		Reason:   reason,
	})
}

func convertState(s app.State) State {
	switch s {
	case app.StateStopped:
		return StateStopped
	case app.StateStarting:
		return StateStarting
	case app.StateRunning:
		return StateRunning
	case app.StateStopping:
		return StateStopping
	case app.StateCrashed:
		return StateCrashed
	default:
		return StateStopped
	}
}
