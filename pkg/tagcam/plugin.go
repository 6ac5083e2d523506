package tagcam

import "context"

// Plugin extends a Device with optional behavior. Plugins are initialized
// in registration order when the device starts and shut down in reverse
// order when it stops.
type Plugin interface {
	// Name returns the plugin identifier used in logs.
	Name() string

	// Initialize is called from Start. Long-running work must be started
	// on its own goroutine and end when ctx is canceled.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown is called from Stop.
	Shutdown(ctx context.Context) error
}

// PluginConfig is passed to plugins on initialization.
type PluginConfig struct {
	ServerURL string
	Ledger    string
	OTAServer string
	Logger    Logger

	// Device gives access to replay, update checks and link state.
	Device *Device
}
