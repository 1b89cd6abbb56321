// Package xhash adapts a non-cryptographic 64-bit hash to the needs of the
// extendible hash table: a seeded digest of a fixed-width key, plus the
// prefix/local-index extraction rules the directory and buckets route on.
package xhash

import (
	"encoding/binary"

	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"
)

// Sum64 returns the xxHash digest of key mixed with seed. The teacher's
// hashers.go keeps the key/size reduction in one helper; here the seed
// takes the place of that reduction, since the table needs the full
// 64-bit digest (prefix bits and local-index bits come from disjoint
// bit ranges of it) rather than a value already bounded by a table size.
func Sum64(key uint32, seed uint64) uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], key)
	binary.LittleEndian.PutUint64(buf[4:12], seed)
	return xxhash.Sum64(buf[:])
}

// Sum64Murmur is an alternate digest using MurmurHash3, kept for the same
// reason the teacher keeps both XxHasher and MurmurHasher: to cross-check
// one hash's distribution against another in tests and benchmarks.
func Sum64Murmur(key uint32, seed uint64) uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], key)
	binary.LittleEndian.PutUint64(buf[4:12], seed)
	return murmur3.Sum64(buf[:])
}

// Prefix returns the low `depth` bits of h, used as a directory index.
func Prefix(h uint64, depth uint8) uint32 {
	if depth == 0 {
		return 0
	}
	return uint32(h & ((uint64(1) << depth) - 1))
}

// LocalIndex returns the starting probe slot inside a bucket of capacity
// n, derived from bits of h above the `depth`-bit prefix so that entries
// routed to the same bucket don't all pile up at the same local slot.
func LocalIndex(h uint64, depth uint8, n int) int {
	upper := (h >> depth) & 0xFFFF
	return int(upper) % n
}
