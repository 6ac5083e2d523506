package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bft-labs/tagcam/internal/bus"
	"github.com/bft-labs/tagcam/internal/domain"
	"github.com/bft-labs/tagcam/internal/ports"
)

// mockLogger implements ports.Logger for testing.
type mockLogger struct{}

func (mockLogger) Debug(msg string, fields ...ports.Field) {}
func (mockLogger) Info(msg string, fields ...ports.Field)  {}
func (mockLogger) Warn(msg string, fields ...ports.Field)  {}
func (mockLogger) Error(msg string, fields ...ports.Field) {}

// recordingLogger keeps every message with its fields.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level  string
	msg    string
	fields map[string]interface{}
}

func (l *recordingLogger) log(level, msg string, fields []ports.Field) {
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, fields: m})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, fields ...ports.Field) { l.log("debug", msg, fields) }
func (l *recordingLogger) Info(msg string, fields ...ports.Field)  { l.log("info", msg, fields) }
func (l *recordingLogger) Warn(msg string, fields ...ports.Field)  { l.log("warn", msg, fields) }
func (l *recordingLogger) Error(msg string, fields ...ports.Field) { l.log("error", msg, fields) }

func (l *recordingLogger) find(msg string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

// fakeReader counts pause and resume calls.
type fakeReader struct {
	paused  atomic.Int32
	resumed atomic.Int32
}

func (r *fakeReader) Pause() error  { r.paused.Add(1); return nil }
func (r *fakeReader) Resume() error { r.resumed.Add(1); return nil }

// fakeCamera returns the frames produced by next.
type fakeCamera struct {
	calls atomic.Int32
	next  func() (*domain.Frame, error)
}

func (c *fakeCamera) AcquireFrame(ctx context.Context) (*domain.Frame, error) {
	c.calls.Add(1)
	return c.next()
}

// jpegCamera returns a new small JPEG frame per call and records releases.
func jpegCamera(released *atomic.Int32) *fakeCamera {
	return &fakeCamera{next: func() (*domain.Frame, error) {
		data := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0xFF, 0xD9}
		return domain.NewFrame(data, domain.FormatJPEG, 0, 0, func() {
			if released != nil {
				released.Add(1)
			}
		}), nil
	}}
}

// staticLink is a LinkStatus with a settable value.
type staticLink struct{ up atomic.Bool }

func newLink(up bool) *staticLink {
	l := &staticLink{}
	l.up.Store(up)
	return l
}

func (l *staticLink) Up() bool { return l.up.Load() }

// probeScript drives one fake session. It must return once stop is closed.
type probeScript func(cb ports.ProbeCallbacks, stop <-chan struct{})

// fakeEcho runs script for every session and counts Stop calls.
type fakeEcho struct {
	script   probeScript
	startErr error

	starts atomic.Int32
	stops  atomic.Int32
	wg     sync.WaitGroup
}

type fakeSession struct {
	echo *fakeEcho
	once sync.Once
	stop chan struct{}
}

func (s *fakeSession) Stop() {
	s.echo.stops.Add(1)
	s.once.Do(func() { close(s.stop) })
}

func (e *fakeEcho) StartProbe(ctx context.Context, target string, cfg ports.ProbeConfig, cb ports.ProbeCallbacks) (ports.ProbeSession, error) {
	e.starts.Add(1)
	if e.startErr != nil {
		return nil, e.startErr
	}
	s := &fakeSession{echo: e, stop: make(chan struct{})}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.script(cb, s.stop)
	}()
	return s, nil
}

// replyAt times out every sequence before seq, then keeps replying until
// stopped. Replies after the first must not change the decision.
func replyAt(seq int) probeScript {
	return func(cb ports.ProbeCallbacks, stop <-chan struct{}) {
		for i := 1; i < seq; i++ {
			cb.OnTimeout(i)
		}
		for i := seq; ; i++ {
			select {
			case <-stop:
				cb.OnEnd(i-1, i-seq)
				return
			default:
			}
			cb.OnReply(i, 5*time.Millisecond)
			if i > seq+50 {
				<-stop
			}
		}
	}
}

// allTimeouts times out every sequence up to count and ends the session.
func allTimeouts(count int) probeScript {
	return func(cb ports.ProbeCallbacks, stop <-chan struct{}) {
		for i := 1; i <= count; i++ {
			cb.OnTimeout(i)
		}
		cb.OnEnd(count, 0)
		<-stop
	}
}

// silent never reports anything.
func silent() probeScript {
	return func(cb ports.ProbeCallbacks, stop <-chan struct{}) { <-stop }
}

// fakeSender records upload attempts. errs are returned in order, then nil.
type fakeSender struct {
	mu    sync.Mutex
	reqs  []ports.UploadRequest
	errs  []error
	calls int
}

func (s *fakeSender) Send(ctx context.Context, req ports.UploadRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.reqs = append(s.reqs, req)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

func (s *fakeSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// failingSender always fails.
type failingSender struct{ calls atomic.Int32 }

func (s *failingSender) Send(ctx context.Context, req ports.UploadRequest) error {
	s.calls.Add(1)
	return errors.New("connection refused")
}

// memStore is an in-memory BacklogStore.
type memStore struct {
	mu    sync.Mutex
	files map[string][]byte

	appendErr error
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string][]byte)}
}

func notExist(op, path string) error {
	return &fs.PathError{Op: op, Path: path, Err: fs.ErrNotExist}
}

func (s *memStore) Exists(path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[path]
	return ok, nil
}

func (s *memStore) WriteFile(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[path]; ok {
		return fmt.Errorf("%w: %s", domain.ErrPathCollision, path)
	}
	s.files[path] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) AppendLine(path, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	s.files[path] = append(s.files[path], line...)
	return nil
}

func (s *memStore) ReadFile(path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return nil, notExist("open", path)
	}
	return append([]byte(nil), data...), nil
}

func (s *memStore) ReadLines(path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok || len(data) == 0 {
		return nil, nil
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n"), nil
}

func (s *memStore) Rename(oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[oldPath]
	if !ok {
		return notExist("rename", oldPath)
	}
	s.files[newPath] = data
	delete(s.files, oldPath)
	return nil
}

func (s *memStore) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
	return nil
}

func (s *memStore) content(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.files[path])
}

func (s *memStore) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for p := range s.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// collect subscribes to every event kind on b.
func collect(t *testing.T, b *bus.Bus) <-chan domain.Event {
	t.Helper()
	ch := make(chan domain.Event, 128)
	if err := b.Subscribe(t.Name(), ch); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	return ch
}

// kinds drains the events currently buffered in ch.
func kinds(ch <-chan domain.Event) []domain.EventKind {
	var out []domain.EventKind
	for {
		select {
		case ev := <-ch:
			out = append(out, ev.Kind)
		default:
			return out
		}
	}
}

func countKind(ks []domain.EventKind, k domain.EventKind) int {
	n := 0
	for _, got := range ks {
		if got == k {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or a second elapses.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
