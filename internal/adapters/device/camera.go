package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/tagcam/internal/domain"
)

// FileCamera returns JPEG files from a directory in name order, cycling
// when the end is reached.
type FileCamera struct {
	mu    sync.Mutex
	paths []string
	next  int
}

// NewFileCamera loads the list of *.jpg and *.jpeg files under path.
// path may also name a single file.
func NewFileCamera(path string) (*FileCamera, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return &FileCamera{paths: []string{path}}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".jpg" || ext == ".jpeg") {
			paths = append(paths, filepath.Join(path, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no jpeg files in %s", path)
	}
	sort.Strings(paths)
	return &FileCamera{paths: paths}, nil
}

// AcquireFrame reads the next file.
func (c *FileCamera) AcquireFrame(ctx context.Context) (*domain.Frame, error) {
	c.mu.Lock()
	path := c.paths[c.next]
	c.next = (c.next + 1) % len(c.paths)
	c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return domain.NewFrame(data, domain.FormatJPEG, 0, 0, nil), nil
}

// ExecCamera runs a capture command that writes one JPEG to stdout, such
// as "libcamera-still -n -o -" or "fswebcam -".
type ExecCamera struct {
	argv    []string
	timeout time.Duration
}

// NewExecCamera creates a camera running argv for each frame.
func NewExecCamera(argv []string, timeout time.Duration) (*ExecCamera, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("empty capture command")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExecCamera{argv: argv, timeout: timeout}, nil
}

// AcquireFrame runs the command and wraps its output.
func (c *ExecCamera) AcquireFrame(ctx context.Context) (*domain.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("capture command: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("capture command: %w", err)
	}
	return domain.NewFrame(stdout.Bytes(), domain.FormatJPEG, 0, 0, nil), nil
}
