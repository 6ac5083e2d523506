package domain

import "time"

// EventKind identifies the type of an event on the bus.
type EventKind int

const (
	// EventTagScanned is published by the reader for every card read.
	EventTagScanned EventKind = iota + 1
	// EventCountdownTick is published once per countdown second.
	EventCountdownTick
	// EventPhotoTaken is published after a capture job was queued.
	EventPhotoTaken
	// EventCaptureFailed is published when a capture produced no job.
	EventCaptureFailed
	// EventDelivered is published after a job was uploaded.
	EventDelivered
	// EventArchived is published after a job was written to local storage.
	EventArchived
	// EventDropped is published when a job was discarded.
	EventDropped
)

func (k EventKind) String() string {
	switch k {
	case EventTagScanned:
		return "tag_scanned"
	case EventCountdownTick:
		return "countdown_tick"
	case EventPhotoTaken:
		return "photo_taken"
	case EventCaptureFailed:
		return "capture_failed"
	case EventDelivered:
		return "delivered"
	case EventArchived:
		return "archived"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event is a notification carried on the event bus.
type Event struct {
	Kind EventKind
	Tag  Tag
	At   time.Time

	// Remaining is the number of countdown ticks left (EventCountdownTick only).
	Remaining int

	// JobID links delivery events to the capture that produced them.
	JobID string

	// Reason carries a short failure description for failure events.
	Reason string
}
