package domain

import (
	"fmt"
	"strconv"
)

// Tag is the identity read from an RFID card.
type Tag struct {
	SerialNumber uint64
}

// String returns the serial number in decimal, the form used in headers,
// file names and the ledger.
func (t Tag) String() string {
	return strconv.FormatUint(t.SerialNumber, 10)
}

// ParseTag parses a decimal serial number.
func ParseTag(s string) (Tag, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return Tag{}, fmt.Errorf("parse tag %q: %w", s, err)
	}
	return Tag{SerialNumber: n}, nil
}
