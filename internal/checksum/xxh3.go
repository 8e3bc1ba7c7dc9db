// Package checksum provides checksum functions compatible with RocksDB.
//
// XXH3 here delegates to github.com/zeebo/xxh3 rather than a hand
// rolled reimplementation of the xxHash spec, matching the SIMD-aware,
// well-tested implementation the rest of this codebase's compression
// stack already pulls in for similar low-level concerns.
package checksum

import "github.com/zeebo/xxh3"

// XXH3_64bits computes the 64-bit XXH3 hash of data.
func XXH3_64bits(data []byte) uint64 {
	return xxh3.Hash(data)
}

// XXH3Checksum computes the RocksDB-style XXH3 checksum for a block.
// This matches ComputeBuiltinChecksum with kXXH3 in RocksDB: XXH3 over
// all bytes except the last, then folded with the last byte using a
// fixed multiplier.
func XXH3Checksum(data []byte) uint32 {
	if len(data) == 0 {
		return 0
	}
	h := XXH3_64bits(data[:len(data)-1])
	v := uint32(h)

	lastByte := data[len(data)-1]
	const kRandomPrime = 0x6b9083d9
	return v ^ (uint32(lastByte) * kRandomPrime)
}

// XXH3ChecksumWithLastByte computes the XXH3 checksum over data with a
// separate trailing byte not present in data itself — used when the
// last byte (e.g. a compression type tag) is appended out of band.
func XXH3ChecksumWithLastByte(data []byte, lastByte byte) uint32 {
	h := XXH3_64bits(data)
	v := uint32(h)

	const kRandomPrime = 0x6b9083d9
	return v ^ (uint32(lastByte) * kRandomPrime)
}
