// Package spaghetti implements the SmearHash construction, the
// SPAGHETTIFY chaos amplifier and the HandleProof memory-hard
// function that together back handle registration and CLUTCH/CHAIN
// domain separation.
package spaghetti

import (
	"crypto/sha512"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// HashSize is the fixed digest size used throughout this package.
const HashSize = 32

// SmearHash XORs three independent hash families over the same input:
// BLAKE2b-256, SHA3-256 and SHA-512 truncated to 32 bytes. It makes no
// collision-resistance claim beyond what the weakest surviving family
// provides; it exists so a structural break in any single family
// cannot alone break every derived value.
func SmearHash(data []byte) [HashSize]byte {
	var out [HashSize]byte

	b2 := blake2b.Sum256(data)
	s3 := sha3.Sum256(data)
	s512 := sha512.Sum512(data)

	for i := 0; i < HashSize; i++ {
		out[i] = b2[i] ^ s3[i] ^ s512[i]
	}
	return out
}

// SmearHashConcat is a convenience wrapper hashing the concatenation
// of several byte slices without an intermediate allocation per call
// site.
func SmearHashConcat(parts ...[]byte) [HashSize]byte {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	buf := make([]byte, 0, total)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return SmearHash(buf)
}
