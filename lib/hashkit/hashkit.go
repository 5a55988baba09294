package hashkit

import (
	"crypto/md5"
	"fmt"
	"hash/crc32"
	"strings"
)

// --------------------------------------------------------------------------
// Hash Type Definition
// --------------------------------------------------------------------------

// Hash selects one of the key hash functions known to libmemcached compatible
// clients. Every function maps a key to a 32-bit value.
type Hash uint8

const (
	HashDefault  Hash = iota // Bob Jenkins' one-at-a-time
	HashMD5                  // first four bytes of the md5 digest (little endian)
	HashCRC                  // crc32 (IEEE), bits 16..30
	HashFNV1_64              // FNV-1 64-bit, truncated
	HashFNV1a_64             // FNV-1a 64-bit, truncated
	HashFNV1_32              // FNV-1 32-bit
	HashFNV1a_32             // FNV-1a 32-bit
	HashJenkins              // Bob Jenkins' lookup3 (hashlittle)
	HashHsieh                // Paul Hsieh's SuperFastHash
	HashMurmur               // MurmurHash2
)

// hashNames holds the configuration names in the order of the constants above
var hashNames = []string{
	"default",
	"md5",
	"crc",
	"fnv1_64",
	"fnv1a_64",
	"fnv1_32",
	"fnv1a_32",
	"jenkins",
	"hsieh",
	"murmur",
}

// String returns the configuration name of the hash function
func (h Hash) String() string {
	if int(h) < len(hashNames) {
		return hashNames[h]
	}
	return "unknown"
}

// ParseHash converts a configuration name into a Hash. Dashes are accepted in
// place of underscores (fnv1a-64 and fnv1a_64 are the same function).
func ParseHash(name string) (Hash, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for i, n := range hashNames {
		if n == normalized {
			return Hash(i), nil
		}
	}
	return HashDefault, fmt.Errorf("unknown hash function %q. must be one of %s", name, strings.Join(hashNames, ", "))
}

// Hashes returns all supported hash functions
func Hashes() []Hash {
	hashes := make([]Hash, len(hashNames))
	for i := range hashNames {
		hashes[i] = Hash(i)
	}
	return hashes
}

// Sum32 hashes the key with the selected function
func (h Hash) Sum32(key []byte) uint32 {
	switch h {
	case HashMD5:
		return md5Sum32(key)
	case HashCRC:
		return crcSum32(key)
	case HashFNV1_64:
		return fnv1_64(key)
	case HashFNV1a_64:
		return fnv1a_64(key)
	case HashFNV1_32:
		return fnv1_32(key)
	case HashFNV1a_32:
		return fnv1a_32(key)
	case HashJenkins:
		return jenkins(key)
	case HashHsieh:
		return hsieh(key)
	case HashMurmur:
		return murmur(key)
	default:
		return oneAtATime(key)
	}
}

// --------------------------------------------------------------------------
// Ketama Helpers
// --------------------------------------------------------------------------

// KetamaPointsPerHash is the number of ring positions taken from one digest
const KetamaPointsPerHash = 4

// KetamaPoints returns the four ring positions encoded in md5(identity).
// Position i is built from digest bytes 4i..4i+3 read little endian.
func KetamaPoints(identity []byte) [KetamaPointsPerHash]uint32 {
	digest := md5.Sum(identity)
	var points [KetamaPointsPerHash]uint32
	for i := 0; i < KetamaPointsPerHash; i++ {
		points[i] = uint32(digest[3+i*4])<<24 |
			uint32(digest[2+i*4])<<16 |
			uint32(digest[1+i*4])<<8 |
			uint32(digest[i*4])
	}
	return points
}

// --------------------------------------------------------------------------
// Digest based functions
// --------------------------------------------------------------------------

func md5Sum32(key []byte) uint32 {
	return KetamaPoints(key)[0]
}

func crcSum32(key []byte) uint32 {
	return (crc32.ChecksumIEEE(key) >> 16) & 0x7fff
}
