package asyncmysql

import (
	"fmt"
	"strconv"
	"strings"
)

// ServerVersion is the parsed (major, minor, patch) triple from the
// server greeting, e.g. "5.7.26-log" -> {5, 7, 26}.
type ServerVersion struct {
	Major int
	Minor int
	Patch int
}

// ParseServerVersion parses the version string from the handshake.
// Suffixes after the patch number ("-log", "-MariaDB") are ignored.
func ParseServerVersion(s string) (ServerVersion, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return ServerVersion{}, fmt.Errorf("malformed server version %q", s)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return ServerVersion{}, fmt.Errorf("malformed server version %q", s)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return ServerVersion{}, fmt.Errorf("malformed server version %q", s)
	}
	patch := parts[2]
	if i := strings.IndexFunc(patch, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		patch = patch[:i]
	}
	p, err := strconv.Atoi(patch)
	if err != nil {
		return ServerVersion{}, fmt.Errorf("malformed server version %q", s)
	}
	return ServerVersion{Major: major, Minor: minor, Patch: p}, nil
}

// AtLeast reports whether v is at or above the given version.
func (v ServerVersion) AtLeast(major, minor, patch int) bool {
	if v.Major != major {
		return v.Major > major
	}
	if v.Minor != minor {
		return v.Minor > minor
	}
	return v.Patch >= patch
}

// SupportsMicroseconds reports whether temporal values may carry a
// microsecond component (5.6.0+).
func (v ServerVersion) SupportsMicroseconds() bool {
	return v.AtLeast(5, 6, 0)
}

func (v ServerVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
