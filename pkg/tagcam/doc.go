// Package tagcam provides an embeddable attendance terminal pipeline.
//
// A card scan starts a countdown, after which a photo is taken and queued.
// A single delivery worker checks connectivity for every capture and
// either uploads it together with the card serial number or archives it
// locally, from where it can be replayed once the server is reachable.
// At start the device can check an OTA catalog and update itself.
//
// # Basic Usage
//
//	cfg := tagcam.DefaultConfig()
//	cfg.ServerURL = "http://192.168.1.10:8000/post"
//	cfg.ImagesDir = "/sdcard/images"
//	cfg.Ledger = "/sdcard/pending.csv"
//
//	dev, err := tagcam.New(cfg, reader, camera)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := dev.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Stop()
//
// The reader and camera implement [TagSource] and [Camera]; the
// internal/adapters/device package has simulated, keyboard-wedge, file and
// command-backed implementations.
//
// # Event Handling
//
// Implement [EventHandler] and pass it via [WithEventHandler] to observe
// scans, countdown ticks, captures and delivery outcomes.
//
// # Dependency Injection
//
// The link indicator, echo prober, archive storage, firmware installer,
// HTTP client and clock can all be replaced through options, which is how
// the package tests drive the pipeline without hardware or network.
//
// # Plugins
//
// Plugins are initialized in registration order after the pipeline starts
// and shut down in reverse. plugins/linkwatch reads the Wi-Fi association
// flag and replays the backlog when the link comes back; plugins/backlogreplay
// retries the backlog on a fixed interval.
//
// # Lifecycle States
//
//	Stopped -> Starting -> Running -> Stopping -> Stopped
//	                                    \-> Crashed
package tagcam
