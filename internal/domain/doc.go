// Package domain contains the core domain entities and value objects for tagcam.
//
// This package is the innermost layer of the application. It has no
// dependencies on infrastructure concerns (HTTP, file system, logging) and
// contains only pure business rules.
//
// # Entities
//
//   - [Tag]: An RFID tag identity read by the reader
//   - [Frame]: A captured image buffer with single-owner release semantics
//   - [CaptureJob]: A tag plus its frame, handed from the orchestrator to the delivery worker
//   - [ArchiveRecord]: One line of the pending-upload ledger
//   - [Version], [Channel], [ManifestEntry]: OTA catalog values
//   - [Event]: Notifications carried on the event bus
//
// # Design Principles
//
// Domain entities are:
//   - Immutable after construction (where practical)
//   - Free of infrastructure dependencies
//   - Testable without mocks or external systems
package domain
