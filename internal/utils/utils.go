package utils

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Now returns the current UTC time truncated to microseconds, matching the
// precision of the timestamp columns.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func NowPtr() *time.Time {
	now := Now()
	return &now
}

// GenerateIdWithPrefix returns a prefixed identifier like "acct_1f8a...".
func GenerateIdWithPrefix(prefix string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + "_" + id[:16]
}

// GetOrDefault returns the value if the pointer is not nil, otherwise returns the default value
func GetOrDefault[T any](ptr *T, defaultVal T) T {
	if ptr == nil {
		return defaultVal
	}
	return *ptr
}
