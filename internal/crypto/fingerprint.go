package crypto

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// DeviceFingerprint derives a stable identifier for a physical device from
// its ids, serial and port. Bus address is left out on purpose since it
// changes on every re-plug.
func DeviceFingerprint(vendorID, productID uint16, serial, port string) string {
	combined := fmt.Sprintf("%04x:%04x:%s:%s", vendorID, productID, serial, port)
	sum := blake2b.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])
}

// ShortFingerprint returns the first 12 hex digits, enough for display.
func ShortFingerprint(fp string) string {
	if len(fp) <= 12 {
		return fp
	}
	return fp[:12]
}
