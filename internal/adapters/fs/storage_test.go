package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bft-labs/tagcam/internal/domain"
	"github.com/bft-labs/tagcam/internal/ports"
)

type mockLogger struct{}

func (mockLogger) Debug(msg string, fields ...ports.Field) {}
func (mockLogger) Info(msg string, fields ...ports.Field)  {}
func (mockLogger) Warn(msg string, fields ...ports.Field)  {}
func (mockLogger) Error(msg string, fields ...ports.Field) {}

var _ ports.BacklogStore = (*Storage)(nil)

func TestStorage_WriteFileNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	s := NewStorage()
	path := filepath.Join(dir, "images", "911101686122_1.jpg")

	if err := s.WriteFile(path, []byte("first")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if ok, _ := s.Exists(path); !ok {
		t.Fatal("Exists() = false after write")
	}

	err := s.WriteFile(path, []byte("second"))
	if !errors.Is(err, domain.ErrPathCollision) {
		t.Fatalf("second WriteFile() error = %v, want ErrPathCollision", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "first" {
		t.Errorf("content = %q, want first", data)
	}
}

func TestStorage_AppendAndReadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.csv")
	s := NewStorage()

	lines, err := s.ReadLines(path)
	if err != nil || lines != nil {
		t.Fatalf("ReadLines() on missing file = %v, %v", lines, err)
	}

	_ = s.AppendLine(path, "1,2,/a.jpg\n")
	_ = s.AppendLine(path, "3,4,/b.jpg")

	data, _ := os.ReadFile(path)
	if string(data) != "1,2,/a.jpg\n3,4,/b.jpg\n" {
		t.Errorf("file = %q", data)
	}
	lines, err = s.ReadLines(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"1,2,/a.jpg", "3,4,/b.jpg"}; !reflect.DeepEqual(lines, want) {
		t.Errorf("ReadLines() = %v, want %v", lines, want)
	}
}

func TestStorage_RenameRemove(t *testing.T) {
	dir := t.TempDir()
	s := NewStorage()
	a, b := filepath.Join(dir, "a"), filepath.Join(dir, "b")
	_ = s.AppendLine(a, "x")

	if err := s.Rename(a, b); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Exists(a); ok {
		t.Error("old path still exists")
	}
	if err := s.Remove(b); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(b); err != nil {
		t.Errorf("Remove() of missing file = %v", err)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ota", "staged.json")
	if err := WriteFileAtomic(path, []byte("one"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o600); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "two" {
		t.Errorf("content = %q", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestAvailable(t *testing.T) {
	dir := t.TempDir()
	if !Available(filepath.Join(dir, "sdcard")) {
		t.Error("Available() = false for a creatable directory")
	}
	file := filepath.Join(dir, "file")
	_ = os.WriteFile(file, nil, 0o600)
	if Available(file) {
		t.Error("Available() = true for a regular file")
	}
	if Available("") {
		t.Error("Available(\"\") = true")
	}
}

func TestLinkFlag_ReadsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link")
	l := NewLinkFlag(path, mockLogger{})
	if l.Up() {
		t.Error("Up() = true without a flag file")
	}

	for content, want := range map[string]bool{"up\n": true, "down": false, "1": true, "0": false, "FALSE": false} {
		_ = os.WriteFile(path, []byte(content), 0o600)
		l.Refresh()
		if l.Up() != want {
			t.Errorf("content %q: Up() = %v, want %v", content, l.Up(), want)
		}
	}
}

func TestLinkFlag_WatchNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link")
	l := NewLinkFlag(path, mockLogger{})

	var ups atomic.Int32
	l.OnChange(func(up bool) {
		if up {
			ups.Add(1)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !l.Up() {
		// Rewrite until the watcher is in place and sees the change.
		_ = os.WriteFile(path, []byte("up"), 0o600)
		if time.Now().After(deadline) {
			t.Fatal("link flag change not observed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done
	if ups.Load() != 1 {
		t.Errorf("up notifications = %d, want 1", ups.Load())
	}
}

func TestStaticLink(t *testing.T) {
	if !StaticLink(true).Up() || StaticLink(false).Up() {
		t.Error("StaticLink does not report its value")
	}
}
