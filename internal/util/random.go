package util

import (
	"math/rand/v2"
	"strings"
)

const hexChars = "0123456789abcdef"

// GenerateRandomID returns "{prefix}{hex}" with hexLength random hex digits.
// The IDs are row keys, not secrets.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex returns length random lowercase hex digits.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}
	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(len(hexChars))])
	}
	return builder.String()
}

// GenerateOutboxID returns a reply outbox row ID ("outbox_" + 32 hex digits).
func GenerateOutboxID() string {
	return GenerateRandomID("outbox_", 32)
}
