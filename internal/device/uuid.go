package device

import (
	"encoding/hex"
	"strings"
)

const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format: lowercase, no
// dashes, no 0x prefix. 128-bit UUIDs in the Bluetooth SIG base range collapse
// to their 16-bit short form ("00002902-0000-1000-8000-00805f9b34fb" -> "2902").
// Returns "" when the input is not a 16, 32 or 128-bit hex UUID.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")

	switch len(u) {
	case 4, 8, 32:
	default:
		return ""
	}
	if _, err := hex.DecodeString(u); err != nil {
		return ""
	}

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	if len(u) == 8 && strings.HasPrefix(u, "0000") {
		return u[4:]
	}
	return u
}

// SameUUID compares two UUIDs after normalization
func SameUUID(a, b string) bool {
	na := NormalizeUUID(a)
	return na != "" && na == NormalizeUUID(b)
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}
