package tagcam

import (
	"github.com/bft-labs/tagcam/internal/clock"
	"github.com/bft-labs/tagcam/internal/domain"
	"github.com/bft-labs/tagcam/internal/ports"
)

// HTTPClient is the interface for making HTTP requests.
// *http.Client satisfies this interface.
type HTTPClient = ports.HTTPClient

// Logger is the interface for structured logging.
type Logger = ports.Logger

// LogField represents a structured log field.
type LogField = ports.Field

// Collaborator interfaces a Device is assembled from.
type (
	TagSource  = ports.TagSource
	Camera     = ports.Camera
	LinkStatus = ports.LinkStatus
	EchoProber = ports.EchoProber
	Storage    = ports.BacklogStore
	Installer  = ports.FirmwareInstaller
	Clock      = clock.Clock
)

// Option configures optional behavior of a Device.
type Option func(*options)

type options struct {
	httpClient   ports.HTTPClient
	logger       ports.Logger
	eventHandler EventHandler
	plugins      []Plugin

	link      ports.LinkStatus
	echo      ports.EchoProber
	storage   ports.BacklogStore
	installer ports.FirmwareInstaller
	clock     clock.Clock
}

// WithHTTPClient sets the client used for uploads and OTA requests.
// If not provided, clients with the configured timeout are used, and the
// OTA client honors the pinned CA.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventHandler sets a handler for device events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithPlugin registers a plugin to be initialized when the device starts.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithOptions groups several options into one. Plugins that also provide
// a device port use it to register both.
func WithOptions(opts ...Option) Option {
	return func(o *options) {
		for _, opt := range opts {
			opt(o)
		}
	}
}

// WithLinkStatus sets the link indicator consulted before probing.
// Default: the link is always considered up.
func WithLinkStatus(link LinkStatus) Option {
	return func(o *options) {
		o.link = link
	}
}

// WithEchoProber replaces the ICMP echo prober.
func WithEchoProber(echo EchoProber) Option {
	return func(o *options) {
		o.echo = echo
	}
}

// WithStorage replaces the filesystem used for the offline archive.
func WithStorage(store Storage) Option {
	return func(o *options) {
		o.storage = store
	}
}

// WithInstaller replaces the firmware installer.
func WithInstaller(installer Installer) Option {
	return func(o *options) {
		o.installer = installer
	}
}

// WithClock replaces the time source driving countdowns, probe deadlines
// and retry delays.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// Data types exchanged with collaborators.
type (
	Tag         = domain.Tag
	Frame       = domain.Frame
	FrameFormat = domain.FrameFormat
)

// Frame formats.
const (
	FormatJPEG  = domain.FormatJPEG
	FormatGray8 = domain.FormatGray8
)

// NewFrame wraps a camera buffer. onRelease, if non-nil, runs once when
// the pipeline is done with the frame.
func NewFrame(data []byte, format FrameFormat, width, height int, onRelease func()) *Frame {
	return domain.NewFrame(data, format, width, height, onRelease)
}
