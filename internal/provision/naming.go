package provision

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	namePrefix       = "sessionbox-"
	maxSanitizedName = 40
)

// ContainerName derives a deterministic, engine-safe container name from a
// session id. The hash suffix keeps distinct ids distinct after sanitizing.
func ContainerName(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return namePrefix + sanitize(sessionID) + "-" + hex.EncodeToString(sum[:4])
}

// StagingPattern is the MkdirTemp pattern for a session's staging directory.
func StagingPattern(sessionID string) string {
	return namePrefix + sanitize(sessionID) + "-"
}

// IsManagedName reports whether a file or container name was produced by this package.
func IsManagedName(name string) bool {
	return strings.HasPrefix(name, namePrefix)
}

func sanitize(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
		if b.Len() >= maxSanitizedName {
			break
		}
	}
	s := strings.Trim(b.String(), "-.")
	if s == "" {
		return "session"
	}
	return s
}
