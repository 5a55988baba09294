package ring

import (
	"testing"

	"github.com/ValentinKolb/mcache/lib/hashkit"
)

func TestMeasureBalance(t *testing.T) {
	keys := testKeys(20000)

	testCases := []struct {
		name       string
		dist       Distribution
		minQuality float64
	}{
		{"modulo", Modulo, 0.9},
		{"consistent", Consistent, 0.6},
		{"ketama", Ketama, 0.7},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pool, err := NewServerPool(endpoints(4), tc.dist.DefaultHash(), tc.dist)
			if err != nil {
				t.Fatal(err)
			}
			b := MeasureBalance(pool, keys)

			total := 0
			for _, s := range b.Shares {
				total += s.Keys
				if s.Expected != 0.25 {
					t.Errorf("expected share of %s = %.2f, expected 0.25", s.Server.Address(), s.Expected)
				}
			}
			if total != len(keys) {
				t.Errorf("shares cover %d keys, expected %d", total, len(keys))
			}
			if b.Quality < tc.minQuality || b.Quality > 1 {
				t.Errorf("quality = %.2f, expected at least %.2f", b.Quality, tc.minQuality)
			}
		})
	}
}

func TestMeasureBalanceWeighted(t *testing.T) {
	servers := endpoints(2)
	servers[1].Weight = 3
	pool, _ := NewServerPool(servers, hashkit.HashMD5, Ketama)

	b := MeasureBalance(pool, testKeys(20000))
	if b.Shares[0].Expected != 0.25 || b.Shares[1].Expected != 0.75 {
		t.Errorf("expected shares = %.2f/%.2f, expected 0.25/0.75", b.Shares[0].Expected, b.Shares[1].Expected)
	}
	// relative loads stay close to 1 when weights are honored
	if b.Min < 0.7 || b.Max > 1.3 {
		t.Errorf("relative loads between %.2f and %.2f", b.Min, b.Max)
	}
}

func TestMeasureBalanceEmpty(t *testing.T) {
	pool, _ := NewServerPool(endpoints(3), hashkit.HashCRC, Modulo)
	b := MeasureBalance(pool, nil)
	if b.Quality != 0 || len(b.Shares) != 3 {
		t.Errorf("empty sample = %+v", b)
	}
}

func TestRemappedFraction(t *testing.T) {
	keys := testKeys(10000)
	before, _ := NewServerPool(endpoints(5), hashkit.HashMD5, Ketama)
	after, _ := NewServerPool(endpoints(6), hashkit.HashMD5, Ketama)

	if f := RemappedFraction(before, before, keys); f != 0 {
		t.Errorf("identical pools remap %.2f of keys", f)
	}
	if f := RemappedFraction(before, after, keys); f <= 0 || f > 0.35 {
		t.Errorf("adding a sixth server remapped %.2f of keys, expected about 1/6", f)
	}
}
