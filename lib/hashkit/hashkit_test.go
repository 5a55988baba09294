package hashkit

import (
	"testing"
)

// TestSum32Vectors tests every hash function against known values
func TestSum32Vectors(t *testing.T) {
	testCases := []struct {
		hash     Hash
		key      string
		expected uint32
	}{
		{HashDefault, "", 0},
		{HashDefault, "a", 0xca2e9442},
		{HashDefault, "The quick brown fox jumps over the lazy dog", 0x519e91f5},
		{HashMD5, "", 0xd98c1dd4},
		{HashMD5, "a", 0xb975c10c},
		{HashCRC, "123456789", 0x4bf4},
		{HashCRC, "", 0},
		{HashCRC, "memcached", 0x2e7f},
		{HashFNV1_64, "a", 0x8601b7be},
		{HashFNV1a_64, "a", 0x8601ec8c},
		{HashFNV1_32, "a", 0x050c5d7e},
		{HashFNV1a_32, "a", 0xe40c292c},
		{HashFNV1a_32, "", 2166136261},
		{HashJenkins, "", 0xdeadbefc},
		{HashJenkins, "a", 0xe0a38690},
		{HashJenkins, "Four score and seven years ago", 0x1ab867b2},
		{HashHsieh, "", 0},
		{HashHsieh, "a", 0x93642e87},
		{HashHsieh, "memcached", 0xaf9950e2},
		{HashHsieh, "Four score and seven years ago", 0x0c5fc188},
		{HashMurmur, "", 0},
		{HashMurmur, "a", 0x4b41757c},
		{HashMurmur, "apple", 0xf6e68f62},
		{HashMurmur, "memcached", 0x6cf01e38},
	}

	for _, tc := range testCases {
		t.Run(tc.hash.String()+"/"+tc.key, func(t *testing.T) {
			if got := tc.hash.Sum32([]byte(tc.key)); got != tc.expected {
				t.Errorf("%s(%q) = %#x, expected %#x", tc.hash, tc.key, got, tc.expected)
			}
		})
	}
}

// TestHashLittle tests the lookup3 core with the published seeds
func TestHashLittle(t *testing.T) {
	if got := hashLittle(nil, 0); got != 0xdeadbeef {
		t.Errorf("hashLittle(\"\", 0) = %#x, expected 0xdeadbeef", got)
	}
	key := []byte("Four score and seven years ago")
	if got := hashLittle(key, 0); got != 0x17770551 {
		t.Errorf("hashLittle(key, 0) = %#x, expected 0x17770551", got)
	}
	if got := hashLittle(key, 1); got != 0xcd628161 {
		t.Errorf("hashLittle(key, 1) = %#x, expected 0xcd628161", got)
	}
}

// TestSum32Deterministic tests that repeated calls agree for all functions
func TestSum32Deterministic(t *testing.T) {
	keys := []string{"", "k", "key", "user:1000", "a much longer key spanning several lookup3 blocks"}
	for _, h := range Hashes() {
		for _, k := range keys {
			first := h.Sum32([]byte(k))
			for i := 0; i < 3; i++ {
				if got := h.Sum32([]byte(k)); got != first {
					t.Fatalf("%s(%q) not deterministic: %#x != %#x", h, k, got, first)
				}
			}
		}
	}
}

// TestParseHash tests name parsing including the dash spelling
func TestParseHash(t *testing.T) {
	testCases := []struct {
		name     string
		expected Hash
		wantErr  bool
	}{
		{"default", HashDefault, false},
		{"md5", HashMD5, false},
		{"CRC", HashCRC, false},
		{"fnv1_64", HashFNV1_64, false},
		{"fnv1a-64", HashFNV1a_64, false},
		{"fnv1_32", HashFNV1_32, false},
		{" fnv1a_32 ", HashFNV1a_32, false},
		{"jenkins", HashJenkins, false},
		{"hsieh", HashHsieh, false},
		{"murmur", HashMurmur, false},
		{"sha1", HashDefault, true},
		{"", HashDefault, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := ParseHash(tc.name)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseHash(%q) error = %v, wantErr %v", tc.name, err, tc.wantErr)
			}
			if !tc.wantErr && h != tc.expected {
				t.Errorf("ParseHash(%q) = %s, expected %s", tc.name, h, tc.expected)
			}
		})
	}

	for _, h := range Hashes() {
		parsed, err := ParseHash(h.String())
		if err != nil || parsed != h {
			t.Errorf("ParseHash(%s.String()) = %s, %v", h, parsed, err)
		}
	}
	if Hash(200).String() != "unknown" {
		t.Error("expected unknown name for out of range hash")
	}
}

// TestKetamaPoints tests that the four positions cover the whole digest
func TestKetamaPoints(t *testing.T) {
	points := KetamaPoints([]byte(""))
	// d41d8cd9 8f00b204 e9800998 ecf8427e
	expected := [KetamaPointsPerHash]uint32{0xd98c1dd4, 0x04b2008f, 0x980980e9, 0x7e42f8ec}
	if points != expected {
		t.Errorf("KetamaPoints(\"\") = %#x, expected %#x", points, expected)
	}
}
