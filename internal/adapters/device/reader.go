// Package device provides tag readers and cameras for hosts without an
// RC522 reader or OV2640 sensor attached. Readers are simulated or read
// lines from a keyboard-wedge device; cameras read files, run a capture
// command, or pull frames from a GStreamer pipeline.
package device

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bft-labs/tagcam/internal/clock"
	"github.com/bft-labs/tagcam/internal/domain"
	"github.com/bft-labs/tagcam/internal/ports"
)

// DefaultMockSerial is the serial reported by the simulated reader.
const DefaultMockSerial = 911101686122

// pauseGate implements ports.Reader for the readers in this package.
type pauseGate struct {
	paused atomic.Bool
}

// Pause stops scans from being reported.
func (g *pauseGate) Pause() error {
	g.paused.Store(true)
	return nil
}

// Resume reports scans again.
func (g *pauseGate) Resume() error {
	g.paused.Store(false)
	return nil
}

// Paused reports whether the reader is paused.
func (g *pauseGate) Paused() bool { return g.paused.Load() }

// SimulatedReader reports the same tag at a fixed interval.
type SimulatedReader struct {
	pauseGate
	tag      domain.Tag
	interval time.Duration
	clock    clock.Clock
}

// NewSimulatedReader creates a reader emitting serial every interval.
func NewSimulatedReader(serial uint64, interval time.Duration, c clock.Clock) *SimulatedReader {
	if serial == 0 {
		serial = DefaultMockSerial
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if c == nil {
		c = clock.Real()
	}
	return &SimulatedReader{
		tag:      domain.Tag{SerialNumber: serial},
		interval: interval,
		clock:    c,
	}
}

// Run emits a scan every interval while not paused.
func (r *SimulatedReader) Run(ctx context.Context, emit func(domain.Tag)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(r.interval):
		}
		if !r.Paused() {
			emit(r.tag)
		}
	}
}

// LineReader reads one decimal serial per line, as produced by USB
// keyboard-wedge RFID readers. Lines read while paused are discarded.
type LineReader struct {
	pauseGate
	in     io.Reader
	logger ports.Logger
}

// NewLineReader creates a reader over in.
func NewLineReader(in io.Reader, logger ports.Logger) *LineReader {
	return &LineReader{in: in, logger: logger}
}

// Run reads lines until in is exhausted or ctx is canceled. Reading is
// not interruptible; Run returns when the next line arrives after
// cancellation.
func (r *LineReader) Run(ctx context.Context, emit func(domain.Tag)) error {
	scanner := bufio.NewScanner(r.in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tag, err := domain.ParseTag(line)
		if err != nil {
			r.logger.Warn("ignoring unreadable tag", ports.String("line", line), ports.Err(err))
			continue
		}
		if r.Paused() {
			r.logger.Debug("reader paused, scan discarded", ports.Uint64("tag", tag.SerialNumber))
			continue
		}
		emit(tag)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
