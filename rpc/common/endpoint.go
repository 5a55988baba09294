package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	// DefaultPort is the memcached port used when an endpoint omits it
	DefaultPort = 11211
	// DefaultWeight is the weight of an endpoint that does not name one
	DefaultWeight = 1
)

// --------------------------------------------------------------------------
// Server Endpoint
// --------------------------------------------------------------------------

// ServerEndpoint identifies one cache server. Endpoints are values and are
// never mutated after the pool is built, which makes them usable as map keys.
type ServerEndpoint struct {
	Host   string
	Port   int
	Weight int
}

// NewServerEndpoint creates an endpoint with the default weight
func NewServerEndpoint(host string, port int) ServerEndpoint {
	return ServerEndpoint{Host: host, Port: port, Weight: DefaultWeight}
}

// IsUnix reports whether the endpoint is a unix socket path
func (e ServerEndpoint) IsUnix() bool {
	return e.Port == 0 && strings.HasPrefix(e.Host, "/")
}

// Address returns host:port, or the socket path for unix endpoints
func (e ServerEndpoint) Address() string {
	if e.IsUnix() {
		return e.Host
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String returns the address followed by the weight
func (e ServerEndpoint) String() string {
	return fmt.Sprintf("%s (weight %d)", e.Address(), e.Weight)
}

// ParseServerEndpoint parses "host[:port[:weight]]". A leading slash marks a
// unix socket path, which may carry a weight as "path:weight".
func ParseServerEndpoint(s string) (ServerEndpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ServerEndpoint{}, NewInvalidArgumentError("empty server address")
	}

	if strings.HasPrefix(s, "/") {
		path, weight := s, DefaultWeight
		if i := strings.LastIndexByte(s, ':'); i > 0 {
			w, err := strconv.Atoi(s[i+1:])
			if err != nil {
				return ServerEndpoint{}, NewInvalidArgumentError("invalid weight in %q", s)
			}
			path, weight = s[:i], w
		}
		if weight < 0 {
			return ServerEndpoint{}, NewInvalidArgumentError("negative weight in %q", s)
		}
		return ServerEndpoint{Host: path, Weight: weight}, nil
	}

	host, rest := s, ""
	if strings.HasPrefix(s, "[") {
		// bracketed IPv6 literal
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return ServerEndpoint{}, NewInvalidArgumentError("unterminated IPv6 address %q", s)
		}
		host, rest = s[1:end], strings.TrimPrefix(s[end+1:], ":")
	} else if i := strings.IndexByte(s, ':'); i >= 0 {
		host, rest = s[:i], s[i+1:]
	}
	if host == "" {
		return ServerEndpoint{}, NewInvalidArgumentError("missing host in %q", s)
	}

	endpoint := ServerEndpoint{Host: host, Port: DefaultPort, Weight: DefaultWeight}
	if rest == "" {
		return endpoint, nil
	}

	parts := strings.Split(rest, ":")
	if len(parts) > 2 {
		return ServerEndpoint{}, NewInvalidArgumentError("too many fields in %q", s)
	}
	port, err := strconv.Atoi(parts[0])
	if err != nil || port <= 0 || port > 65535 {
		return ServerEndpoint{}, NewInvalidArgumentError("invalid port in %q", s)
	}
	endpoint.Port = port
	if len(parts) == 2 {
		weight, err := strconv.Atoi(parts[1])
		if err != nil || weight < 0 {
			return ServerEndpoint{}, NewInvalidArgumentError("invalid weight in %q", s)
		}
		endpoint.Weight = weight
	}
	return endpoint, nil
}
