// Package memzero overwrites sensitive byte slices once they are no
// longer needed, so ephemeral key material does not linger in memory
// longer than the operation that produced it.
package memzero

import "crypto/subtle"

// Zero overwrites b with zeros.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
}
