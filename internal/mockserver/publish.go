package mockserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bft-labs/tagcam/internal/adapters/firmware"
	tagfs "github.com/bft-labs/tagcam/internal/adapters/fs"
	"github.com/bft-labs/tagcam/internal/domain"
)

// DefaultCriticality marks a published build as low priority.
const DefaultCriticality = 10

// CatalogEntry is one manifest.json entry as written by Publish.
type CatalogEntry struct {
	Name         string  `json:"name"`
	BuildType    string  `json:"build-type"`
	Board        string  `json:"board"`
	FirmwareURL  string  `json:"firmware-url"`
	VersionShort float64 `json:"version-short"`
	Version      string  `json:"version"`
	VersionLong  string  `json:"version-long"`
	Criticality  float64 `json:"criticality"`
	Digest       string  `json:"firmware-blake3,omitempty"`
}

// PublishRequest describes a firmware binary to add to the catalog.
type PublishRequest struct {
	Name        string
	Board       string
	MCU         string
	VersionLong string
	// Channel defaults to alpha for builds whose version mentions alpha,
	// beta otherwise.
	Channel     string
	Criticality float64
	Binary      string
}

// PublishResult reports what Publish did.
type PublishResult struct {
	Entry CatalogEntry
	Path  string
	// Added is false when an identical entry was already listed.
	Added bool
}

// Publish copies a firmware binary under root and appends its catalog
// entry. An entry with the same name, version-long and firmware-url is
// not added twice, but the binary is still refreshed.
func Publish(root string, req PublishRequest) (PublishResult, error) {
	if req.Name == "" || req.Board == "" || req.VersionLong == "" || req.Binary == "" {
		return PublishResult{}, errors.New("name, board, version and binary are required")
	}
	if req.MCU == "" {
		req.MCU = "esp32"
	}
	version, err := domain.ParseBuildVersion(req.VersionLong)
	if err != nil {
		return PublishResult{}, err
	}
	if req.Channel == "" {
		req.Channel = "beta"
		if strings.Contains(req.VersionLong, "alpha") {
			req.Channel = "alpha"
		}
	}
	if _, err := domain.ParseChannel(req.Channel); err != nil {
		return PublishResult{}, err
	}
	if req.Criticality == 0 {
		req.Criticality = DefaultCriticality
	}

	rel := fmt.Sprintf("%s/%s_%s_firmware_%s.bin", req.Board, req.Board, req.MCU, req.VersionLong)
	dst := filepath.Join(root, filepath.FromSlash(rel))
	digest, err := copyBinary(req.Binary, dst)
	if err != nil {
		return PublishResult{}, fmt.Errorf("copy firmware: %w", err)
	}

	entry := CatalogEntry{
		Name:         req.Name,
		BuildType:    req.Channel,
		Board:        req.Board,
		FirmwareURL:  rel,
		VersionShort: versionShort(version),
		Version:      version.String(),
		VersionLong:  req.VersionLong,
		Criticality:  req.Criticality,
		Digest:       digest,
	}

	raw, catalogPath, err := loadEntries(root)
	if err != nil {
		return PublishResult{}, err
	}
	res := PublishResult{Entry: entry, Path: dst}
	for _, msg := range raw {
		var e CatalogEntry
		// Hand-edited entries may not decode; they are kept as they are.
		_ = json.Unmarshal(msg, &e)
		if e.Name == entry.Name && e.VersionLong == entry.VersionLong && e.FirmwareURL == entry.FirmwareURL {
			return res, nil
		}
	}

	b, err := json.Marshal(entry)
	if err != nil {
		return PublishResult{}, err
	}
	raw = append(raw, b)
	out, err := json.MarshalIndent(raw, "", "   ")
	if err != nil {
		return PublishResult{}, err
	}
	if err := tagfs.WriteFileAtomic(catalogPath, append(out, '\n'), 0o644); err != nil {
		return PublishResult{}, fmt.Errorf("write catalog: %w", err)
	}
	res.Added = true
	return res, nil
}

// versionShort renders major.minor as a number, so 0.12.0 becomes 0.12.
func versionShort(v domain.Version) float64 {
	f, _ := strconv.ParseFloat(fmt.Sprintf("%d.%d", v.Major, v.Minor), 64)
	return f
}

// loadEntries reads the catalog as raw entries. A missing catalog is
// empty. Publishing into a commented catalog rewrites it as plain JSON.
func loadEntries(root string) ([]json.RawMessage, string, error) {
	data, path, err := readCatalog(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, path, nil
	}
	if err != nil {
		return nil, path, err
	}
	var raw []json.RawMessage
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, path, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, path, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return raw, path, nil
}

// copyBinary copies src to dst and returns the BLAKE3 digest of the copy.
func copyBinary(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".publish-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	digest, _, err := firmware.Digest(io.TeeReader(in, tmp))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return digest, nil
}
