package spaghetti

import (
	"encoding/binary"

	"meshveil/spaghetti/dsf"
)

const (
	bucketCount       = 53
	crossBucketOffset = 29
	opChoices         = 23
	minRounds         = 11
	maxRounds         = 23
)

// bucket256 is a 256-bit unsigned integer represented as four
// big-endian uint64 limbs, limb[0] most significant.
type bucket256 [4]uint64

// meshveilBootstrapSeed is a 64-byte nothing-up-my-sleeve ASCII
// constant used to seed the bucket state before any input is mixed
// in. It is unrelated to any other constant used elsewhere in this
// module; its only property that matters is that it is fixed.
var meshveilBootstrapSeed = [64]byte(
	[]byte("meshveil-spaghettify-bootstrap-seed-v1-do-not-reuse-elsewhere!!x"[:64]),
)

// Spaghettify is the deterministic, one-way chaos amplifier described
// by the CLUTCH/CHAIN domain-separation scheme. It is NOT claimed to
// be collision-resistant; its purpose is to spread small input
// differences across a wide internal state before folding back down
// through SmearHash.
func Spaghettify(input []byte) [HashSize]byte {
	buckets := bootstrapBuckets()
	mixSeedLoop(&buckets, input)
	expandAndCascade(&buckets)
	rounds := roundCount(&buckets)
	for r := 0; r < rounds; r++ {
		chaosRound(&buckets, r)
	}
	return collapse(&buckets, input)
}

func bootstrapBuckets() [bucketCount]bucket256 {
	var buckets [bucketCount]bucket256
	for i := 0; i < bucketCount; i++ {
		for limb := 0; limb < 4; limb++ {
			off := ((i*4 + limb) * 8) % len(meshveilBootstrapSeed)
			buckets[i][limb] = binary.BigEndian.Uint64(rotatedWindow(meshveilBootstrapSeed[:], off))
		}
	}
	return buckets
}

// rotatedWindow returns an 8-byte window starting at off into data,
// wrapping around the end of the slice.
func rotatedWindow(data []byte, off int) []byte {
	window := make([]byte, 8)
	for i := 0; i < 8; i++ {
		window[i] = data[(off+i)%len(data)]
	}
	return window
}

// mixSeedLoop folds the input, 32 bytes at a time, into the bucket
// state, XOR-ing each chunk into successive buckets and running one
// SmearHash-based diffusion step per chunk.
func mixSeedLoop(buckets *[bucketCount]bucket256, input []byte) {
	if len(input) == 0 {
		input = []byte{0}
	}
	chunkIndex := 0
	for off := 0; off < len(input); off += 32 {
		end := off + 32
		if end > len(input) {
			end = len(input)
		}
		chunk := input[off:end]
		digest := SmearHashConcat([]byte("meshveil-spaghettify-seed"), chunk, encodeUint64(uint64(chunkIndex)))
		bucketIdx := chunkIndex % bucketCount
		for limb := 0; limb < 4; limb++ {
			buckets[bucketIdx][limb] ^= binary.BigEndian.Uint64(digest[limb*8 : limb*8+8])
		}
		chunkIndex++
	}
}

// expandAndCascade runs one full pass over every bucket, mixing each
// bucket with its cross-offset neighbour so a change confined to one
// bucket propagates across the whole state before the chaos rounds
// begin.
func expandAndCascade(buckets *[bucketCount]bucket256) {
	var next [bucketCount]bucket256
	for i := 0; i < bucketCount; i++ {
		neighbor := buckets[(i+crossBucketOffset)%bucketCount]
		next[i] = addWrap(buckets[i], neighbor)
		next[i] = rotl256(next[i], uint(i%64)+1)
	}
	*buckets = next
}

// roundCount derives the number of chaos rounds, in [11,23], from the
// sum of all bucket low limbs modulo 13.
func roundCount(buckets *[bucketCount]bucket256) int {
	var sum uint64
	for i := 0; i < bucketCount; i++ {
		sum += buckets[i][3]
	}
	return minRounds + int(sum%13)
}

// chaosRound applies one of 23 mixing operations, chosen per bucket
// pair by the round index and bucket contents, then conditionally
// swaps buckets based on parity of the result.
func chaosRound(buckets *[bucketCount]bucket256, round int) {
	for i := 0; i < bucketCount; i++ {
		j := (i + crossBucketOffset + round) % bucketCount
		op := int((buckets[i][0]^uint64(round))%opChoices) + 0
		buckets[i] = applyOp(op, buckets[i], buckets[j])
		if buckets[i][3]&1 == 1 {
			buckets[i], buckets[j] = buckets[j], buckets[i]
		}
	}
}

// applyOp dispatches one of the 23 chaos operations. The first several
// are plain 256-bit integer operations; the remainder route through
// DSF transcendentals on a projection of the bucket into a Scalar, so
// that the chaos rounds mix integer and DSF-domain behaviour exactly
// as SPAGHETTIFY's design calls for.
func applyOp(op int, a, b bucket256) bucket256 {
	switch op % opChoices {
	case 0:
		return addWrap(a, b)
	case 1:
		return subWrap(a, b)
	case 2:
		return xor256(a, b)
	case 3:
		return andOr(a, b)
	case 4:
		return rotl256(a, uint(b[3]%256))
	case 5:
		return rotr256(a, uint(b[3]%256))
	case 6:
		return mulLow(a, b)
	case 7:
		return addWrap(rotl256(a, 13), b)
	case 8:
		return xor256(rotl256(a, 41), b)
	case 9:
		return subWrap(rotr256(a, 7), b)
	case 10:
		return andOr(rotl256(a, 3), b)
	case 11:
		return xor256(a, rotr256(b, 17))
	case 12:
		return addWrap(a, rotl256(b, 29))
	case 13:
		return dsfMix(a, b, dsf.Sin)
	case 14:
		return dsfMix(a, b, dsf.Cos)
	case 15:
		return dsfMix(a, b, dsf.Atan)
	case 16:
		return dsfMix(a, b, dsf.Ln)
	case 17:
		return dsfMix(a, b, dsf.Exp)
	case 18:
		return dsfHypotMix(a, b)
	case 19:
		return xor256(mulLow(a, b), rotl256(a, 5))
	case 20:
		return addWrap(xor256(a, b), rotr256(b, 11))
	case 21:
		return subWrap(xor256(a, b), rotl256(a, 19))
	case 22:
		return andOr(xor256(a, b), rotr256(a, 23))
	default:
		return a
	}
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func addWrap(a, b bucket256) bucket256 {
	var out bucket256
	var carry uint64
	for i := 3; i >= 0; i-- {
		sum := a[i] + b[i] + carry
		if sum < a[i] || (carry == 1 && sum == a[i]) {
			carry = 1
		} else {
			carry = 0
		}
		out[i] = sum
	}
	return out
}

func subWrap(a, b bucket256) bucket256 {
	var out bucket256
	var borrow uint64
	for i := 3; i >= 0; i-- {
		diff := a[i] - b[i] - borrow
		if a[i] < b[i]+borrow {
			borrow = 1
		} else {
			borrow = 0
		}
		out[i] = diff
	}
	return out
}

func xor256(a, b bucket256) bucket256 {
	var out bucket256
	for i := 0; i < 4; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func andOr(a, b bucket256) bucket256 {
	var out bucket256
	for i := 0; i < 4; i++ {
		out[i] = (a[i] & b[i]) | (^a[i] & b[i] >> 1)
	}
	return out
}

func mulLow(a, b bucket256) bucket256 {
	var out bucket256
	for i := 0; i < 4; i++ {
		out[i] = a[i] * (b[i] | 1)
	}
	return out
}

func rotl256(a bucket256, n uint) bucket256 {
	n %= 256
	if n == 0 {
		return a
	}
	bits := to256Bits(a)
	shifted := make([]uint64, 4)
	limbShift := n / 64
	bitShift := n % 64
	for i := 0; i < 4; i++ {
		src := (uint(i) + 4 - limbShift) % 4
		hi := bits[src]
		lo := bits[(src+3)%4]
		if bitShift == 0 {
			shifted[i] = hi
		} else {
			shifted[i] = (hi << bitShift) | (lo >> (64 - bitShift))
		}
	}
	var out bucket256
	copy(out[:], shifted)
	return out
}

func rotr256(a bucket256, n uint) bucket256 {
	return rotl256(a, 256-(n%256))
}

func to256Bits(a bucket256) [4]uint64 {
	return [4]uint64{a[0], a[1], a[2], a[3]}
}

// dsfMix folds the low limb of each bucket through a DSF transcendental
// and mixes the result back into the high limb, keeping the operation
// deterministic and bit-exact regardless of host floating point.
func dsfMix(a, b bucket256, f func(dsf.Scalar) dsf.Scalar) bucket256 {
	sa := dsf.FromInt(int32(uint32(a[3])))
	res := f(sa)
	out := a
	if dsf.IsUndefined(res) {
		out[0] ^= b[0]
		return out
	}
	mixed := (uint64(uint16(res.Fraction)) << 16) | uint64(uint16(res.Exponent))
	out[0] ^= mixed
	out[1] ^= b[1]
	return out
}

func dsfHypotMix(a, b bucket256) bucket256 {
	sa := dsf.FromInt(int32(uint32(a[3])))
	sb := dsf.FromInt(int32(uint32(b[3])))
	res := dsf.Hypot(sa, sb)
	out := a
	if dsf.IsUndefined(res) {
		out[0] ^= b[0]
		return out
	}
	mixed := (uint64(uint16(res.Fraction)) << 16) | uint64(uint16(res.Exponent))
	out[0] ^= mixed
	return out
}

// collapse concatenates every bucket's big-endian bytes with the
// original input and reduces the result through SmearHash.
func collapse(buckets *[bucketCount]bucket256, input []byte) [HashSize]byte {
	buf := make([]byte, 0, bucketCount*32+len(input))
	for i := 0; i < bucketCount; i++ {
		for limb := 0; limb < 4; limb++ {
			buf = append(buf, encodeUint64(buckets[i][limb])...)
		}
	}
	buf = append(buf, input...)
	return SmearHash(buf)
}
