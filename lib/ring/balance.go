package ring

import (
	"math"

	"github.com/ValentinKolb/mcache/rpc/common"
)

// ----------------------------------------------------------------------------
// Key Distribution Statistics
// ----------------------------------------------------------------------------

// ServerShare is the part of a key sample one server owns
type ServerShare struct {
	Server   common.ServerEndpoint `json:"server"`
	Keys     int                   `json:"keys"`
	Share    float64               `json:"share"`    // fraction of the sample
	Expected float64               `json:"expected"` // weight / total weight
}

// Balance describes how evenly a pool spreads a key sample
type Balance struct {
	Shares []ServerShare `json:"shares"`

	// Load of every server relative to its expected share, 1.0 is perfect
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`

	// Quality combines the coefficient of variation and the min/max ratio
	// into one number between 0 (all keys on one server) and 1 (even)
	Quality float64 `json:"quality"`
}

// MeasureBalance routes every key of the sample and reports the share of
// each server. Servers are weighed by their configured weight when the
// distribution is weighted, otherwise all expected shares are equal.
func MeasureBalance(p *ServerPool, keys [][]byte) Balance {
	counts := make([]int, len(p.servers))
	for _, k := range keys {
		counts[p.Index(k)]++
	}

	totalWeight := 0
	for _, s := range p.servers {
		totalWeight += s.Weight
	}

	b := Balance{Shares: make([]ServerShare, len(p.servers))}
	var loads []float64
	for i, s := range p.servers {
		expected := 1 / float64(len(p.servers))
		if p.distribution.IsWeighted() {
			expected = 0
			if totalWeight > 0 {
				expected = float64(s.Weight) / float64(totalWeight)
			}
		}
		share := 0.0
		if len(keys) > 0 {
			share = float64(counts[i]) / float64(len(keys))
		}
		b.Shares[i] = ServerShare{Server: s, Keys: counts[i], Share: share, Expected: expected}
		if expected > 0 {
			loads = append(loads, share/expected)
		}
	}

	if len(keys) > 0 {
		b.fill(loads)
	}
	return b
}

// fill computes the summary statistics over the relative loads
func (b *Balance) fill(loads []float64) {
	if len(loads) == 0 {
		return
	}

	// initialize min and max with the first value
	b.Min, b.Max = loads[0], loads[0]
	var sum float64
	for _, v := range loads {
		sum += v
		b.Min = math.Min(b.Min, v)
		b.Max = math.Max(b.Max, v)
	}
	b.Mean = sum / float64(len(loads))

	// population standard deviation
	var sumSquaredDiffs float64
	for _, v := range loads {
		diff := v - b.Mean
		sumSquaredDiffs += diff * diff
	}
	b.StdDeviation = math.Sqrt(sumSquaredDiffs / float64(len(loads)))

	b.MinMaxRatio = 1.0
	if b.Max > 0 {
		b.MinMaxRatio = b.Min / b.Max
	}

	// lower cv and higher min/max ratio indicate a better distribution
	var cv float64
	if b.Mean > 0 {
		cv = b.StdDeviation / b.Mean
	}
	b.Quality = (1.0-math.Min(1.0, cv))*0.5 + b.MinMaxRatio*0.5
}

// RemappedFraction returns the fraction of keys whose server address
// differs between the two pools
func RemappedFraction(before, after *ServerPool, keys [][]byte) float64 {
	if len(keys) == 0 {
		return 0
	}
	moved := 0
	for _, k := range keys {
		if before.Route(k).Address() != after.Route(k).Address() {
			moved++
		}
	}
	return float64(moved) / float64(len(keys))
}
