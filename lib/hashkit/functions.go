package hashkit

import (
	"encoding/binary"
	"math/bits"
)

// --------------------------------------------------------------------------
// One-at-a-time (libmemcached "default")
// --------------------------------------------------------------------------

func oneAtATime(key []byte) uint32 {
	var value uint32
	for _, b := range key {
		value += uint32(b)
		value += value << 10
		value ^= value >> 6
	}
	value += value << 3
	value ^= value >> 11
	value += value << 15
	return value
}

// --------------------------------------------------------------------------
// FNV family
// --------------------------------------------------------------------------

const (
	fnv64Offset = 14695981039346656037
	fnv64Prime  = 1099511628211
	fnv32Offset = 2166136261
	fnv32Prime  = 16777619
)

func fnv1_64(key []byte) uint32 {
	hash := uint64(fnv64Offset)
	for _, b := range key {
		hash *= fnv64Prime
		hash ^= uint64(b)
	}
	return uint32(hash)
}

func fnv1a_64(key []byte) uint32 {
	hash := uint64(fnv64Offset)
	for _, b := range key {
		hash ^= uint64(b)
		hash *= fnv64Prime
	}
	return uint32(hash)
}

func fnv1_32(key []byte) uint32 {
	hash := uint32(fnv32Offset)
	for _, b := range key {
		hash *= fnv32Prime
		hash ^= uint32(b)
	}
	return hash
}

func fnv1a_32(key []byte) uint32 {
	hash := uint32(fnv32Offset)
	for _, b := range key {
		hash ^= uint32(b)
		hash *= fnv32Prime
	}
	return hash
}

// --------------------------------------------------------------------------
// Jenkins lookup3
// --------------------------------------------------------------------------

// jenkinsInitval is the seed libhashkit passes to hashlittle
const jenkinsInitval = 13

func jenkins(key []byte) uint32 {
	return hashLittle(key, jenkinsInitval)
}

// hashLittle is lookup3's hashlittle reading the key byte by byte, which
// yields the little endian result on every platform
func hashLittle(k []byte, initval uint32) uint32 {
	a := 0xdeadbeef + uint32(len(k)) + initval
	b, c := a, a

	for len(k) > 12 {
		a += binary.LittleEndian.Uint32(k[0:4])
		b += binary.LittleEndian.Uint32(k[4:8])
		c += binary.LittleEndian.Uint32(k[8:12])
		a, b, c = lookup3Mix(a, b, c)
		k = k[12:]
	}

	switch len(k) {
	case 12:
		c += uint32(k[11]) << 24
		fallthrough
	case 11:
		c += uint32(k[10]) << 16
		fallthrough
	case 10:
		c += uint32(k[9]) << 8
		fallthrough
	case 9:
		c += uint32(k[8])
		fallthrough
	case 8:
		b += uint32(k[7]) << 24
		fallthrough
	case 7:
		b += uint32(k[6]) << 16
		fallthrough
	case 6:
		b += uint32(k[5]) << 8
		fallthrough
	case 5:
		b += uint32(k[4])
		fallthrough
	case 4:
		a += uint32(k[3]) << 24
		fallthrough
	case 3:
		a += uint32(k[2]) << 16
		fallthrough
	case 2:
		a += uint32(k[1]) << 8
		fallthrough
	case 1:
		a += uint32(k[0])
	case 0:
		return c
	}

	return lookup3Final(a, b, c)
}

func lookup3Mix(a, b, c uint32) (uint32, uint32, uint32) {
	a -= c
	a ^= bits.RotateLeft32(c, 4)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 6)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 8)
	b += a
	a -= c
	a ^= bits.RotateLeft32(c, 16)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 19)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 4)
	b += a
	return a, b, c
}

func lookup3Final(a, b, c uint32) uint32 {
	c ^= b
	c -= bits.RotateLeft32(b, 14)
	a ^= c
	a -= bits.RotateLeft32(c, 11)
	b ^= a
	b -= bits.RotateLeft32(a, 25)
	c ^= b
	c -= bits.RotateLeft32(b, 16)
	a ^= c
	a -= bits.RotateLeft32(c, 4)
	b ^= a
	b -= bits.RotateLeft32(a, 14)
	c ^= b
	c -= bits.RotateLeft32(b, 24)
	return c
}

// --------------------------------------------------------------------------
// Hsieh SuperFastHash
// --------------------------------------------------------------------------

func hsieh(key []byte) uint32 {
	if len(key) == 0 {
		return 0
	}

	var hash, tmp uint32
	rem := len(key) & 3
	for n := len(key) >> 2; n > 0; n-- {
		hash += uint32(binary.LittleEndian.Uint16(key[0:2]))
		tmp = uint32(binary.LittleEndian.Uint16(key[2:4]))<<11 ^ hash
		hash = hash<<16 ^ tmp
		key = key[4:]
		hash += hash >> 11
	}

	switch rem {
	case 3:
		hash += uint32(binary.LittleEndian.Uint16(key[0:2]))
		hash ^= hash << 16
		// the reference implementation reads this byte as a signed char
		hash ^= uint32(int32(int8(key[2]))) << 18
		hash += hash >> 11
	case 2:
		hash += uint32(binary.LittleEndian.Uint16(key[0:2]))
		hash ^= hash << 11
		hash += hash >> 17
	case 1:
		hash += uint32(key[0])
		hash ^= hash << 10
		hash += hash >> 1
	}

	hash ^= hash << 3
	hash += hash >> 5
	hash ^= hash << 4
	hash += hash >> 17
	hash ^= hash << 25
	hash += hash >> 6
	return hash
}

// --------------------------------------------------------------------------
// MurmurHash2
// --------------------------------------------------------------------------

func murmur(key []byte) uint32 {
	const (
		m = 0x5bd1e995
		r = 24
	)
	length := uint32(len(key))
	seed := 0xdeadbeef * length
	h := seed ^ length

	for len(key) >= 4 {
		k := binary.LittleEndian.Uint32(key)
		k *= m
		k ^= k >> r
		k *= m
		h *= m
		h ^= k
		key = key[4:]
	}

	switch len(key) {
	case 3:
		h ^= uint32(key[2]) << 16
		fallthrough
	case 2:
		h ^= uint32(key[1]) << 8
		fallthrough
	case 1:
		h ^= uint32(key[0])
		h *= m
	}

	h ^= h >> 13
	h *= m
	h ^= h >> 15
	return h
}
