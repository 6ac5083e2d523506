package firmware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bft-labs/tagcam/internal/domain"
	"github.com/bft-labs/tagcam/internal/ports"
)

type mockLogger struct{}

func (mockLogger) Debug(msg string, fields ...ports.Field) {}
func (mockLogger) Info(msg string, fields ...ports.Field)  {}
func (mockLogger) Warn(msg string, fields ...ports.Field)  {}
func (mockLogger) Error(msg string, fields ...ports.Field) {}

var _ ports.FirmwareInstaller = (*Installer)(nil)

var image = []byte("\x7fELF new firmware build v1.3.0")

func firmwareServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/esp32cam/fw.bin" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(image)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDigest(t *testing.T) {
	got, n, err := Digest(bytes.NewReader(image))
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(image)) || got != DigestBytes(image) || len(got) != 64 {
		t.Errorf("Digest() = %s, %d; DigestBytes() = %s", got, n, DigestBytes(image))
	}
}

func TestInstaller_InstallAndRestart(t *testing.T) {
	server := firmwareServer(t)
	dir := t.TempDir()
	exe := filepath.Join(dir, "bin", "tagcam")
	_ = os.MkdirAll(filepath.Dir(exe), 0o755)
	_ = os.WriteFile(exe, []byte("old"), 0o755)

	inst := NewInstaller(Config{Dir: filepath.Join(dir, "ota"), Executable: exe}, server.Client(), mockLogger{})
	var execed string
	inst.execFunc = func(argv0 string, argv []string, envv []string) error {
		execed = argv0
		return nil
	}
	inst.args = []string{"tagcam", "--config", "x.toml"}

	if err := inst.Install(context.Background(), server.URL+"/esp32cam/fw.bin", strings.ToUpper(DigestBytes(image))); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	info, err := inst.Staged()
	if err != nil || info.Size != int64(len(image)) || info.Digest != DigestBytes(image) {
		t.Fatalf("Staged() = %+v, %v", info, err)
	}
	if data, _ := os.ReadFile(exe); string(data) != "old" {
		t.Error("executable replaced before restart")
	}

	if err := inst.Restart(); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if execed != exe {
		t.Errorf("exec %q, want %q", execed, exe)
	}
	if data, _ := os.ReadFile(exe); !bytes.Equal(data, image) {
		t.Error("executable not replaced by the staged image")
	}
	if _, err := inst.Staged(); !errors.Is(err, ErrNothingStaged) {
		t.Errorf("Staged() after restart = %v, want ErrNothingStaged", err)
	}
}

// The staging directory and the executable live in unrelated directories,
// as on a device where the firmware dir is on the SD card.
func TestInstaller_RestartAcrossDirectories(t *testing.T) {
	server := firmwareServer(t)
	stageDir, binDir := t.TempDir(), t.TempDir()
	exe := filepath.Join(binDir, "tagcam")
	if err := os.WriteFile(exe, []byte("old"), 0o755); err != nil {
		t.Fatal(err)
	}

	inst := NewInstaller(Config{Dir: stageDir, Executable: exe}, server.Client(), mockLogger{})
	inst.execFunc = func(argv0 string, argv []string, envv []string) error { return nil }

	if err := inst.Install(context.Background(), server.URL+"/esp32cam/fw.bin", ""); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if err := inst.Restart(); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}

	data, err := os.ReadFile(exe)
	if err != nil || !bytes.Equal(data, image) {
		t.Fatalf("executable = %q, %v", data, err)
	}
	if st, err := os.Stat(exe); err != nil || st.Mode().Perm()&0o100 == 0 {
		t.Errorf("executable mode = %v, %v", st.Mode(), err)
	}
	if entries, _ := os.ReadDir(binDir); len(entries) != 1 {
		t.Errorf("temporary files left next to the executable: %v", entries)
	}
	if entries, _ := os.ReadDir(stageDir); len(entries) != 0 {
		t.Errorf("staging dir not emptied: %v", entries)
	}
}

func TestInstaller_RestartKeepsExecutableOnFailure(t *testing.T) {
	server := firmwareServer(t)
	stageDir := t.TempDir()
	exe := filepath.Join(t.TempDir(), "missing-dir", "tagcam")

	inst := NewInstaller(Config{Dir: stageDir, Executable: exe}, server.Client(), mockLogger{})
	execed := false
	inst.execFunc = func(argv0 string, argv []string, envv []string) error { execed = true; return nil }

	if err := inst.Install(context.Background(), server.URL+"/esp32cam/fw.bin", ""); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if err := inst.Restart(); err == nil {
		t.Fatal("Restart() into a missing directory succeeded")
	}
	if execed {
		t.Error("exec ran after a failed replace")
	}
	if _, err := inst.Staged(); err != nil {
		t.Errorf("staged image lost after failed restart: %v", err)
	}
}

func TestInstaller_DigestMismatchKeepsRunningFirmware(t *testing.T) {
	server := firmwareServer(t)
	dir := t.TempDir()
	inst := NewInstaller(Config{Dir: dir}, server.Client(), mockLogger{})

	err := inst.Install(context.Background(), server.URL+"/esp32cam/fw.bin", DigestBytes([]byte("other")))
	if !errors.Is(err, domain.ErrDigestMismatch) {
		t.Fatalf("Install() error = %v, want ErrDigestMismatch", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("staging dir not clean: %v", entries)
	}
	if err := inst.Restart(); !errors.Is(err, ErrNothingStaged) {
		t.Errorf("Restart() = %v, want ErrNothingStaged", err)
	}
}

func TestInstaller_DownloadErrors(t *testing.T) {
	server := firmwareServer(t)
	inst := NewInstaller(Config{Dir: t.TempDir()}, server.Client(), mockLogger{})

	if err := inst.Install(context.Background(), server.URL+"/missing.bin", ""); err == nil {
		t.Error("Install() of a missing image succeeded")
	}
	if err := inst.Install(context.Background(), "http://127.0.0.1:1/fw.bin", ""); err == nil {
		t.Error("Install() from an unreachable server succeeded")
	}
}
