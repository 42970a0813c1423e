// Package bloom implements the fixed-layout bloom filter used to pre-screen
// extraction candidates. The bit layout (bits-per-key, probe count, trailing
// k byte) must match byte-for-byte across opens of the same store, so this
// is a from-scratch, dependency-free construction rather than a wrapper
// around a general-purpose bloom filter library — see DESIGN.md.
package bloom

import (
	"encoding/binary"
	"math"
	"math/bits"
)

// DefaultBitsPerKey is the spec-mandated default filter density.
const DefaultBitsPerKey = 16

// Policy builds and probes bloom filters over uint32 keys at a fixed
// bits-per-key density.
type Policy struct {
	bitsPerKey int
	k          int
}

// NewPolicy returns a Policy at the given bits-per-key density, clamping the
// derived probe count k to [1, 30]. A non-positive bitsPerKey falls back to
// DefaultBitsPerKey.
func NewPolicy(bitsPerKey int) *Policy {
	if bitsPerKey <= 0 {
		bitsPerKey = DefaultBitsPerKey
	}
	k := int(math.Round(float64(bitsPerKey) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return &Policy{bitsPerKey: bitsPerKey, k: k}
}

// BitsPerKey reports the policy's configured density.
func (p *Policy) BitsPerKey() int { return p.bitsPerKey }

// K reports the number of hash probes per key.
func (p *Policy) K() int { return p.k }

// CreateFilter builds a filter covering every key in keys. The returned
// slice's final byte always encodes k, so KeyMayMatch can be evaluated
// without out-of-band knowledge of the policy that built it.
func (p *Policy) CreateFilter(keys []uint32) []byte {
	nBits := len(keys) * p.bitsPerKey
	if nBits < 64 {
		nBits = 64
	}
	nBytes := (nBits + 7) / 8
	nBits = nBytes * 8

	filter := make([]byte, nBytes+1)
	for _, key := range keys {
		h := hash32(key)
		delta := bits.RotateLeft32(h, -17) // rotate_right(h, 17)
		for i := 0; i < p.k; i++ {
			bitpos := h % uint32(nBits)
			filter[bitpos/8] |= 1 << (bitpos % 8)
			h += delta
		}
	}
	filter[nBytes] = byte(p.k)
	return filter
}

// KeyMayMatch reports whether key might be present in filter. A false
// result is a definitive negative; a true result may be a false positive.
// An empty or missing filter (length < 2) matches nothing. A trailing-byte
// k outside [1,30] is treated as an opaque filter and matches everything,
// for forward compatibility with filters built by a newer policy.
func KeyMayMatch(key uint32, filter []byte) bool {
	if len(filter) < 2 {
		return false
	}
	nBytes := len(filter) - 1
	nBits := nBytes * 8
	k := int(filter[nBytes])
	if k > 30 {
		return true
	}
	h := hash32(key)
	delta := bits.RotateLeft32(h, -17)
	for i := 0; i < k; i++ {
		bitpos := h % uint32(nBits)
		if filter[bitpos/8]&(1<<(bitpos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}

// hash32 is the LevelDB-style Murmur-inspired mixer, applied to the
// little-endian 4-byte encoding of key with a fixed seed.
func hash32(key uint32) uint32 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], key)
	return murmurHash(buf[:], 0xbc9f1d34)
}

func murmurHash(data []byte, seed uint32) uint32 {
	const m = 0xc6a4a793
	const r = 24

	h := seed ^ uint32(len(data))*m
	n := len(data) - len(data)%4
	for i := 0; i < n; i += 4 {
		w := binary.LittleEndian.Uint32(data[i : i+4])
		h += w
		h *= m
		h ^= h >> 16
	}
	rest := data[n:]
	switch len(rest) {
	case 3:
		h += uint32(rest[2]) << 16
		fallthrough
	case 2:
		h += uint32(rest[1]) << 8
		fallthrough
	case 1:
		h += uint32(rest[0])
		h *= m
		h ^= h >> r
	}
	return h
}
