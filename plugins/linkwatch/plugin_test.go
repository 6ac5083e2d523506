package linkwatch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	logAdapter "github.com/bft-labs/tagcam/internal/adapters/log"
	"github.com/bft-labs/tagcam/pkg/tagcam"
)

type countingReplayer struct {
	calls atomic.Int32
}

func (r *countingReplayer) ReplayBacklog(ctx context.Context) (tagcam.ReplayResult, error) {
	r.calls.Add(1)
	return tagcam.ReplayResult{Uploaded: 1}, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startPlugin(t *testing.T, cfg Config) (*Plugin, *countingReplayer) {
	t.Helper()
	p := New(cfg)
	if err := p.Initialize(context.Background(), tagcam.PluginConfig{Logger: logAdapter.NewNoopLogger()}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	r := &countingReplayer{}
	p.mu.Lock()
	p.replayer = r
	p.mu.Unlock()
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, r
}

func TestNew_ReadsInitialState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "link")

	if New(DefaultConfig(path)).Up() {
		t.Error("Up() = true without a flag file")
	}
	if err := os.WriteFile(path, []byte("up\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !New(DefaultConfig(path)).Up() {
		t.Error("Up() = false with an up flag")
	}
	if err := os.WriteFile(path, []byte("down\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if New(DefaultConfig(path)).Up() {
		t.Error("Up() = true with a down flag")
	}
}

func TestPlugin_ReplaysWhenLinkComesUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link")
	cfg := DefaultConfig(path)
	cfg.DebounceDelay = 10 * time.Millisecond
	p, r := startPlugin(t, cfg)

	if err := os.WriteFile(path, []byte("up\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "link up", p.Up)
	waitFor(t, "replay", func() bool { return r.calls.Load() == 1 })

	if err := os.WriteFile(path, []byte("down\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "link down", func() bool { return !p.Up() })
	time.Sleep(50 * time.Millisecond)
	if r.calls.Load() != 1 {
		t.Errorf("replays = %d after link down, want 1", r.calls.Load())
	}
}

func TestPlugin_NoReplayWhenDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link")
	cfg := DefaultConfig(path)
	cfg.DebounceDelay = time.Millisecond
	cfg.ReplayOnUp = false
	p, r := startPlugin(t, cfg)

	if err := os.WriteFile(path, []byte("up\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "link up", p.Up)
	time.Sleep(50 * time.Millisecond)
	if r.calls.Load() != 0 {
		t.Errorf("replays = %d, want 0", r.calls.Load())
	}
}

func TestPlugin_ShutdownCancelsPendingReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link")
	cfg := DefaultConfig(path)
	cfg.DebounceDelay = time.Hour
	p, r := startPlugin(t, cfg)

	if err := os.WriteFile(path, []byte("up\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "scheduled replay", func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.debounce != nil
	})

	done := make(chan struct{})
	go func() {
		_ = p.Shutdown(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown() blocked on a pending replay")
	}
	if r.calls.Load() != 0 {
		t.Errorf("replays = %d, want 0", r.calls.Load())
	}
}

func TestPlugin_DisabledWithoutPath(t *testing.T) {
	p := New(Config{})
	if err := p.Initialize(context.Background(), tagcam.PluginConfig{Logger: logAdapter.NewNoopLogger()}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if p.Up() {
		t.Error("Up() = true without a flag file")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
