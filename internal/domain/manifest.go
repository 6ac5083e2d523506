package domain

import (
	"encoding/json"
	"fmt"
)

// ManifestEntry is one published firmware build in the OTA catalog.
type ManifestEntry struct {
	Name         string
	Board        string
	Channel      Channel
	FirmwareURL  string
	Version      Version
	VersionShort float64
	VersionLong  string
	Criticality  float64

	// Digest is the optional hex-encoded BLAKE3 digest of the firmware image.
	Digest string
}

// wireEntry mirrors the manifest.json layout. Numeric fields are kept raw
// so a string where a number belongs is reported instead of aborting the
// whole document.
type wireEntry struct {
	Name         string          `json:"name"`
	BuildType    string          `json:"build-type"`
	Board        string          `json:"board"`
	FirmwareURL  string          `json:"firmware-url"`
	VersionShort json.RawMessage `json:"version-short"`
	Version      string          `json:"version"`
	VersionLong  string          `json:"version-long"`
	Criticality  json.RawMessage `json:"criticality"`
	Digest       string          `json:"firmware-blake3,omitempty"`
}

// EntryError describes a manifest entry that could not be used.
type EntryError struct {
	Index int
	Name  string
	Err   error
}

func (e *EntryError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("manifest entry %d (%s): %v", e.Index, e.Name, e.Err)
	}
	return fmt.Sprintf("manifest entry %d: %v", e.Index, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// ParseManifest decodes a manifest document (a JSON array of entries).
// Entries that are malformed are returned as EntryErrors and do not affect
// the others. An error is returned only when the document itself is not a
// JSON array.
func ParseManifest(data []byte) ([]ManifestEntry, []*EntryError, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode manifest: %w", err)
	}

	entries := make([]ManifestEntry, 0, len(raw))
	var rejected []*EntryError
	for i, msg := range raw {
		entry, name, err := parseEntry(msg)
		if err != nil {
			rejected = append(rejected, &EntryError{Index: i, Name: name, Err: err})
			continue
		}
		entries = append(entries, entry)
	}
	return entries, rejected, nil
}

func parseEntry(msg json.RawMessage) (ManifestEntry, string, error) {
	var w wireEntry
	if err := json.Unmarshal(msg, &w); err != nil {
		return ManifestEntry{}, "", fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}

	short, ok := rawNumber(w.VersionShort)
	if !ok {
		return ManifestEntry{}, w.Name, fmt.Errorf("%w: version-short is not a number", ErrMalformedEntry)
	}
	version, err := ParseVersion(w.Version)
	if err != nil {
		return ManifestEntry{}, w.Name, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	criticality, ok := rawNumber(w.Criticality)
	if !ok {
		return ManifestEntry{}, w.Name, fmt.Errorf("%w: criticality is not a number", ErrMalformedEntry)
	}
	channel, err := ParseChannel(w.BuildType)
	if err != nil {
		return ManifestEntry{}, w.Name, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if w.FirmwareURL == "" {
		return ManifestEntry{}, w.Name, fmt.Errorf("%w: firmware-url is empty", ErrMalformedEntry)
	}

	return ManifestEntry{
		Name:         w.Name,
		Board:        w.Board,
		Channel:      channel,
		FirmwareURL:  w.FirmwareURL,
		Version:      version,
		VersionShort: short,
		VersionLong:  w.VersionLong,
		Criticality:  criticality,
		Digest:       w.Digest,
	}, w.Name, nil
}

// rawNumber reports whether raw holds a JSON number and returns it.
func rawNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	// json.Number accepts quoted strings; a real number starts with a digit or '-'.
	if raw[0] != '-' && (raw[0] < '0' || raw[0] > '9') {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	return f, true
}
