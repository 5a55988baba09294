package ring

import (
	"math"
	"sort"

	"github.com/ValentinKolb/mcache/lib/hashkit"
	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("ring")
)

const (
	// PointsPerServer is the number of continuum points of a server under Consistent
	PointsPerServer = 100
	// ketamaPointsPerShare is the number of ketama digests per server at an even share
	ketamaPointsPerShare = 160 / hashkit.KetamaPointsPerHash
)

// ContinuumPoint is one position on the ring and the server owning it
type ContinuumPoint struct {
	Position    uint32
	ServerIndex int
}

// --------------------------------------------------------------------------
// Server Pool
// --------------------------------------------------------------------------

// ServerPool routes keys to servers. It is immutable after construction and
// safe for concurrent use.
type ServerPool struct {
	servers      []common.ServerEndpoint
	hash         hashkit.Hash
	distribution Distribution
	continuum    []ContinuumPoint
}

// NewServerPool validates the servers and builds the continuum
func NewServerPool(servers []common.ServerEndpoint, hash hashkit.Hash, distribution Distribution) (*ServerPool, error) {
	if len(servers) == 0 {
		return nil, common.NewInvalidArgumentError("server list must not be empty")
	}

	seen := make(map[string]struct{}, len(servers))
	totalWeight := 0
	for _, s := range servers {
		if s.Weight < 0 {
			return nil, common.NewInvalidArgumentError("negative weight for server %s", s.Address())
		}
		if _, ok := seen[s.Address()]; ok {
			return nil, common.NewInvalidArgumentError("duplicate server %s", s.Address())
		}
		seen[s.Address()] = struct{}{}
		totalWeight += s.Weight
	}
	if distribution.IsContinuum() && totalWeight == 0 {
		return nil, common.NewInvalidArgumentError("at least one server needs a weight above zero")
	}

	p := &ServerPool{
		servers:      append([]common.ServerEndpoint(nil), servers...),
		hash:         hash,
		distribution: distribution,
	}

	switch distribution {
	case Consistent:
		p.continuum = buildConsistent(p.servers, hash)
	case Ketama, KetamaSpy:
		p.continuum = buildKetama(p.servers, distribution, totalWeight)
	}

	Logger.Debugf("built %s pool with %d servers, %d continuum points, hash %s",
		distribution, len(p.servers), len(p.continuum), hash)
	return p, nil
}

// NewServerPoolFromConfig builds a pool from the client configuration
func NewServerPoolFromConfig(config common.ClientConfig) (*ServerPool, error) {
	servers, err := config.Endpoints()
	if err != nil {
		return nil, err
	}
	dist, hash, err := FromConfig(config)
	if err != nil {
		return nil, err
	}
	return NewServerPool(servers, hash, dist)
}

// --------------------------------------------------------------------------
// Continuum Construction
// --------------------------------------------------------------------------

func buildConsistent(servers []common.ServerEndpoint, hash hashkit.Hash) []ContinuumPoint {
	points := make([]ContinuumPoint, 0, len(servers)*PointsPerServer)
	for idx, s := range servers {
		if s.Weight == 0 {
			continue
		}
		for i := 0; i < PointsPerServer; i++ {
			points = append(points, ContinuumPoint{
				Position:    hash.Sum32([]byte(Consistent.identity(s, i))),
				ServerIndex: idx,
			})
		}
	}
	sortContinuum(points)
	return points
}

func buildKetama(servers []common.ServerEndpoint, dist Distribution, totalWeight int) []ContinuumPoint {
	live := 0
	for _, s := range servers {
		if s.Weight > 0 {
			live++
		}
	}

	var points []ContinuumPoint
	for idx, s := range servers {
		if s.Weight == 0 {
			continue
		}
		share := float64(s.Weight) / float64(totalWeight)
		digests := int(math.Floor(share*float64(ketamaPointsPerShare*live) + 0.0000000001))
		if digests < 1 {
			digests = 1
		}
		for i := 0; i < digests; i++ {
			for _, pos := range hashkit.KetamaPoints([]byte(dist.identity(s, i))) {
				points = append(points, ContinuumPoint{Position: pos, ServerIndex: idx})
			}
		}
	}
	sortContinuum(points)
	return points
}

// sortContinuum orders by position. Points are appended in server order, so
// the stable sort lets the earlier server win a tie.
func sortContinuum(points []ContinuumPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Position < points[j].Position
	})
}

// --------------------------------------------------------------------------
// Routing
// --------------------------------------------------------------------------

// Index returns the index of the server owning the key
func (p *ServerPool) Index(key []byte) int {
	if len(p.servers) == 1 {
		return 0
	}
	h := p.hash.Sum32(key)
	if p.distribution == Modulo {
		return int(h % uint32(len(p.servers)))
	}

	i := sort.Search(len(p.continuum), func(i int) bool {
		return p.continuum[i].Position >= h
	})
	if i == len(p.continuum) {
		i = 0
	}
	return p.continuum[i].ServerIndex
}

// Route returns the server owning the key
func (p *ServerPool) Route(key []byte) common.ServerEndpoint {
	return p.servers[p.Index(key)]
}

// RouteAll partitions keys by owning server, keeping the request order within
// each partition
func (p *ServerPool) RouteAll(keys [][]byte) map[common.ServerEndpoint][][]byte {
	parts := make(map[common.ServerEndpoint][][]byte)
	for _, k := range keys {
		s := p.Route(k)
		parts[s] = append(parts[s], k)
	}
	return parts
}

// Servers returns a copy of the configured servers in configuration order
func (p *ServerPool) Servers() []common.ServerEndpoint {
	return append([]common.ServerEndpoint(nil), p.servers...)
}

// Points returns a copy of the continuum, empty under Modulo
func (p *ServerPool) Points() []ContinuumPoint {
	return append([]ContinuumPoint(nil), p.continuum...)
}

func (p *ServerPool) Distribution() Distribution {
	return p.distribution
}

func (p *ServerPool) Hash() hashkit.Hash {
	return p.hash
}
