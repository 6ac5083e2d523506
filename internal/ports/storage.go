package ports

// Storage is the local archive medium (an SD card or a data directory).
type Storage interface {
	// Exists reports whether path is present.
	Exists(path string) (bool, error)

	// WriteFile creates path with data. It fails with domain.ErrPathCollision
	// if path already exists; existing files are never overwritten.
	WriteFile(path string, data []byte) error

	// AppendLine appends line to the file at path, creating it if needed.
	// A trailing newline is added when line does not end with one.
	AppendLine(path, line string) error
}

// BacklogStore adds the operations needed to replay archived images.
type BacklogStore interface {
	Storage

	// ReadFile returns the contents of path.
	ReadFile(path string) ([]byte, error)

	// ReadLines returns the lines of path without line terminators. A
	// missing file yields no lines and no error.
	ReadLines(path string) ([]string, error)

	// Rename atomically moves oldPath to newPath, replacing newPath.
	Rename(oldPath, newPath string) error

	// Remove deletes path. Removing a missing file is not an error.
	Remove(path string) error
}
