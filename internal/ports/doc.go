// Package ports defines the interfaces (ports) that connect the application
// layer to infrastructure adapters.
//
// Ports are the boundaries between the capture pipeline and the hardware or
// network around it. They say what the pipeline needs from the device
// without specifying how those needs are fulfilled.
//
// # Port Interfaces
//
//   - [Reader]: The RFID reader, paused while a capture is in progress
//   - [Camera]: Acquires one frame per capture
//   - [LinkStatus]: Reports whether the network link is associated
//   - [EchoProber]: Runs a bounded echo (ping) session against a target
//   - [ImageSender]: Performs one upload attempt of a captured image
//   - [Storage]: Local archive medium (image files and the pending ledger)
//   - [ManifestSource]: Fetches the OTA manifest document
//   - [FirmwareInstaller]: Downloads and applies a firmware image, then restarts
//   - [Logger]: Structured logging abstraction
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// # Usage
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement them with concrete
// implementations (file system, HTTP, ICMP, zerolog, etc.).
package ports
