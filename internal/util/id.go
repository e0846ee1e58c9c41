package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier, prefixed as "<prefix>_<hex>" when a
// prefix is given. The result only uses characters that are valid in
// search index document ids.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewRequestID returns an id suitable for correlating log lines.
func NewRequestID() string {
	return uuid.NewString()
}
