package domain

import (
	"fmt"
	"strings"
)

// Channel is a release stability tier. Lower values are more stable.
type Channel int

const (
	ChannelStable Channel = iota
	ChannelBeta
	ChannelAlpha
)

// ParseChannel parses "stable", "beta" or "alpha" (case-insensitive).
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stable":
		return ChannelStable, nil
	case "beta":
		return ChannelBeta, nil
	case "alpha":
		return ChannelAlpha, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
}

// Accepts reports whether a device subscribed to c may install a build
// published on build. Stable accepts stable; beta accepts stable and beta;
// alpha accepts everything.
func (c Channel) Accepts(build Channel) bool {
	return build >= ChannelStable && build <= c
}

func (c Channel) String() string {
	switch c {
	case ChannelStable:
		return "stable"
	case ChannelBeta:
		return "beta"
	case ChannelAlpha:
		return "alpha"
	default:
		return "unknown"
	}
}
