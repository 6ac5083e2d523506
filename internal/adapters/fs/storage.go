package fs

import (
	"bufio"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bft-labs/tagcam/internal/domain"
)

// Storage implements ports.BacklogStore on the local filesystem, for
// example an SD card mounted at /sdcard. Parent directories are created
// on demand.
type Storage struct {
	dirMode  os.FileMode
	fileMode os.FileMode
}

// NewStorage creates a filesystem store.
func NewStorage() *Storage {
	return &Storage{dirMode: 0o755, fileMode: 0o644}
}

// Available reports whether root exists (or can be created) and is a
// directory. It decides whether captures may be archived.
func Available(root string) bool {
	if root == "" {
		return false
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return false
	}
	info, err := os.Stat(root)
	return err == nil && info.IsDir()
}

// Exists reports whether path is present.
func (s *Storage) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, iofs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// WriteFile creates path exclusively; an existing file is never replaced.
func (s *Storage) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), s.dirMode); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, s.fileMode)
	if err != nil {
		if errors.Is(err, iofs.ErrExist) {
			return fmt.Errorf("%w: %s", domain.ErrPathCollision, path)
		}
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// AppendLine appends line, newline-terminated, to path.
func (s *Storage) AppendLine(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), s.dirMode); err != nil {
		return err
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, s.fileMode)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile returns the contents of path.
func (s *Storage) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ReadLines returns the lines of path. A missing file has no lines.
func (s *Storage) ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSuffix(scanner.Text(), "\r"))
	}
	return lines, scanner.Err()
}

// Rename moves oldPath to newPath.
func (s *Storage) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

// Remove deletes path. A missing file is not an error.
func (s *Storage) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return err
	}
	return nil
}

// WriteFileAtomic replaces path with data by writing a temporary file and
// renaming it over the target.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
