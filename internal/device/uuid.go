package device

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// NormalizeUUID converts a UUID string to the internal BLE library format (lowercase, no dashes).
// Handles both standard UUID format (with dashes) and already normalized format (without dashes).
// Also strips 0x prefix if present (e.g., "0x2902" -> "2902").
// For full 128-bit UUIDs in Bluetooth SIG base format (0000xxxx-0000-1000-8000-00805f9b34fb),
// extracts the 16-bit short form (xxxx).
// Returns an empty string when the input is not a valid 16-, 32- or 128-bit UUID.
func NormalizeUUID(uuid string) string {
	s := strings.TrimSpace(uuid)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	u, err := ble.Parse(s)
	if err != nil {
		return ""
	}
	n := strings.ToLower(u.String())
	if len(n) == 32 && strings.HasPrefix(n, "0000") && strings.HasSuffix(n, sigBaseSuffix) {
		return n[4:8]
	}
	return n
}

const sigBaseSuffix = "00001000800000805f9b34fb"

// SameUUID reports whether two UUID strings denote the same identifier.
func SameUUID(a, b string) bool {
	na := NormalizeUUID(a)
	return na != "" && na == NormalizeUUID(b)
}

// ValidateUUID validates that UUID strings are non-empty and well-formed.
// Returns normalized UUID strings or an error.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, uuid := range uuids {
		if uuid == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(uuid)
		if normalized == "" {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, uuid)
		}
		result = append(result, normalized)
	}
	return result, nil
}
