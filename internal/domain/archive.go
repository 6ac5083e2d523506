package domain

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// ImageExt is the extension of every archived image.
const ImageExt = ".jpg"

// ArchiveRecord is one entry of the pending-upload ledger.
type ArchiveRecord struct {
	// TimestampUS is the archive time in microseconds since boot or epoch,
	// as reported by the device clock.
	TimestampUS int64

	// TagSerial is the serial number of the tag that triggered the capture.
	TagSerial uint64

	// FilePath is the absolute path of the archived image.
	FilePath string
}

// ArchivePath returns the image path for a tag archived at timestampUS:
// {root}/{serial}_{timestamp_us}.jpg
func ArchivePath(root string, tag Tag, timestampUS int64) string {
	name := fmt.Sprintf("%d_%d%s", tag.SerialNumber, timestampUS, ImageExt)
	return path.Join(root, name)
}

// Line renders the record as a ledger line, including the trailing newline.
func (r ArchiveRecord) Line() string {
	return fmt.Sprintf("%d,%d,%s\n", r.TimestampUS, r.TagSerial, r.FilePath)
}

// ParseArchiveRecord parses one ledger line. The trailing newline is optional.
// The file path is the remainder after the second comma, so paths may contain commas.
func ParseArchiveRecord(line string) (ArchiveRecord, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, ",", 3)
	if len(parts) != 3 || parts[2] == "" {
		return ArchiveRecord{}, fmt.Errorf("%w: %q", ErrMalformedLedgerLine, line)
	}

	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ArchiveRecord{}, fmt.Errorf("%w: timestamp %q", ErrMalformedLedgerLine, parts[0])
	}
	serial, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return ArchiveRecord{}, fmt.Errorf("%w: serial %q", ErrMalformedLedgerLine, parts[1])
	}

	return ArchiveRecord{
		TimestampUS: ts,
		TagSerial:   serial,
		FilePath:    parts[2],
	}, nil
}
