package ring

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/mcache/lib/hashkit"
	"github.com/ValentinKolb/mcache/rpc/common"
)

// Distribution maps a key hash to a server index
type Distribution uint8

const (
	// Modulo picks hash % len(servers). Adding a server remaps almost every key.
	Modulo Distribution = iota
	// Consistent places 100 points per server on a continuum
	Consistent
	// Ketama places points proportional to the server weight, derived from md5
	Ketama
	// KetamaSpy is Ketama with the identity format used by spymemcached
	KetamaSpy
)

func (d Distribution) String() string {
	switch d {
	case Modulo:
		return common.DistModulo
	case Consistent:
		return common.DistConsistent
	case Ketama:
		return common.DistKetama
	case KetamaSpy:
		return common.DistKetamaSpy
	default:
		return "unknown"
	}
}

// IsContinuum reports whether the distribution uses a continuum
func (d Distribution) IsContinuum() bool {
	return d != Modulo
}

// IsWeighted reports whether server weights influence the continuum
func (d Distribution) IsWeighted() bool {
	return d == Ketama || d == KetamaSpy
}

// DefaultHash returns the hash function used when none is configured
func (d Distribution) DefaultHash() hashkit.Hash {
	if d.IsWeighted() {
		return hashkit.HashMD5
	}
	return hashkit.HashCRC
}

// ParseDistribution converts a configuration name into a Distribution.
// "ketama" and "ketama-weighted" select the same distribution.
func ParseDistribution(name string) (Distribution, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-") {
	case "", common.DistModulo:
		return Modulo, nil
	case common.DistConsistent:
		return Consistent, nil
	case common.DistKetama, common.DistKetamaWeighted:
		return Ketama, nil
	case common.DistKetamaSpy:
		return KetamaSpy, nil
	default:
		return Modulo, common.NewInvalidArgumentError("unknown distribution %q. must be one of %s",
			name, strings.Join([]string{common.DistModulo, common.DistConsistent, common.DistKetama, common.DistKetamaWeighted, common.DistKetamaSpy}, ", "))
	}
}

// FromConfig resolves the distribution and hash named in the client configuration
func FromConfig(config common.ClientConfig) (Distribution, hashkit.Hash, error) {
	dist, err := ParseDistribution(config.ResolvedDistribution())
	if err != nil {
		return Modulo, hashkit.HashDefault, err
	}
	if config.Hash == "" {
		return dist, dist.DefaultHash(), nil
	}
	hash, err := hashkit.ParseHash(config.Hash)
	if err != nil {
		return Modulo, hashkit.HashDefault, common.NewInvalidArgumentError("%v", err)
	}
	return dist, hash, nil
}

// identity returns the string hashed to place point i of a server
func (d Distribution) identity(e common.ServerEndpoint, i int) string {
	if d == KetamaSpy {
		return fmt.Sprintf("/%s-%d", e.Address(), i)
	}
	return fmt.Sprintf("%s-%d", e.Address(), i)
}
