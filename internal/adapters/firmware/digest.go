package firmware

import (
	"encoding/hex"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// Digest returns the hex-encoded BLAKE3-256 digest of r and the number of
// bytes read.
func Digest(r io.Reader) (string, int64, error) {
	h := blake3.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// DigestBytes returns the hex-encoded BLAKE3-256 digest of data.
func DigestBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sameDigest(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
