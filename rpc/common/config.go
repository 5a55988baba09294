package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultSegmentSize stays below the 1 MB item limit of memcached
const DefaultSegmentSize = 1_000_000

// Distribution names accepted in the configuration
const (
	DistModulo         = "modulo"
	DistConsistent     = "consistent"
	DistKetama         = "ketama"
	DistKetamaWeighted = "ketama-weighted"
	DistKetamaSpy      = "ketama-spy"
)

// --------------------------------------------------------------------------
// Mock server configuration struct
// --------------------------------------------------------------------------

// ServerConfig configures the in-process memcached compatible server
type ServerConfig struct {
	// Endpoint to listen on, host:port or a unix socket path
	Endpoint string
	// TimeoutSecond closes idle connections, 0 disables the timeout
	TimeoutSecond int64
	// MaxItemSize rejects larger values with a server error
	MaxItemSize int
	// Version reported by the version command
	Version string
	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Cache Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Max Item Size", fmt.Sprintf("%d bytes", c.MaxItemSize))
	addField("Version", c.Version)

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	return sb.String()
}

// --------------------------------------------------------------------------
// Transport configuration struct
// --------------------------------------------------------------------------

// TransportConfig holds socket level settings
type TransportConfig struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int // -1 keeps the OS default
	WriteBufferSize int
	ReadBufferSize  int
}

// DefaultTransportConfig returns the settings used when none are configured
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		TCPNoDelay:      true,
		TCPKeepAliveSec: 30,
		TCPLingerSec:    -1,
		WriteBufferSize: 16 * 1024,
		ReadBufferSize:  16 * 1024,
	}
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig is consumed once when the client is constructed
type ClientConfig struct {
	// single server, mutually exclusive with Servers
	Host   string
	Port   int
	Weight int
	// Servers lists "host[:port[:weight]]" entries
	Servers []string

	// Prefix is prepended to every key, "" means none
	Prefix string
	// HashWithPrefix hashes the prefixed key instead of the caller key
	HashWithPrefix bool
	// Hash names the key hash function, "" selects the distribution default
	Hash string
	// Distribution is one of modulo, consistent, ketama, ketama-weighted, ketama-spy
	Distribution string
	// Ketama and KetamaWeighted are shorthands for Distribution
	Ketama         bool
	KetamaWeighted bool
	// Binary selects the binary dialect
	Binary bool
	// Segmented splits values larger than SegmentSize over several items
	Segmented bool
	// SegmentSize is the largest value stored as one item, 0 selects DefaultSegmentSize
	SegmentSize int

	TimeoutSecond        int
	ConnectionsPerServer int
	Transport            TransportConfig
}

// Endpoints resolves the configured server list
func (c *ClientConfig) Endpoints() ([]ServerEndpoint, error) {
	if c.Host != "" && len(c.Servers) > 0 {
		return nil, NewInvalidArgumentError("host and servers are mutually exclusive")
	}

	if c.Host != "" {
		addr := c.Host
		if c.Port > 0 {
			addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
		}
		endpoint, err := ParseServerEndpoint(addr)
		if err != nil {
			return nil, err
		}
		if c.Weight > 0 {
			endpoint.Weight = c.Weight
		}
		return []ServerEndpoint{endpoint}, nil
	}

	if len(c.Servers) == 0 {
		return nil, NewInvalidArgumentError("no servers configured")
	}
	endpoints := make([]ServerEndpoint, 0, len(c.Servers))
	for _, s := range c.Servers {
		endpoint, err := ParseServerEndpoint(s)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints, nil
}

// ResolvedDistribution returns the distribution name after applying the
// ketama shorthands. The explicit Distribution wins over the shorthands.
func (c *ClientConfig) ResolvedDistribution() string {
	if c.Distribution != "" {
		return strings.ToLower(strings.TrimSpace(c.Distribution))
	}
	if c.KetamaWeighted {
		return DistKetamaWeighted
	}
	if c.Ketama {
		return DistKetama
	}
	return DistModulo
}

// SegmentLimit returns the largest value stored as one item
func (c *ClientConfig) SegmentLimit() int {
	if c.SegmentSize <= 0 {
		return DefaultSegmentSize
	}
	return c.SegmentSize
}

// Timeout returns the per request timeout in seconds, at least one
func (c *ClientConfig) Timeout() int {
	return int(math.Max(1, float64(c.TimeoutSecond)))
}

// PoolSize returns the number of connections kept per server, at least one
func (c *ClientConfig) PoolSize() int {
	return int(math.Max(1, float64(c.ConnectionsPerServer)))
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	dialect := "text"
	if c.Binary {
		dialect = "binary"
	}
	addField("Dialect", dialect)
	addField("Distribution", c.ResolvedDistribution())
	hash := c.Hash
	if hash == "" {
		hash = "(distribution default)"
	}
	addField("Hash", hash)
	addField("Prefix", strconv.Quote(c.Prefix))
	addField("Hash With Prefix", strconv.FormatBool(c.HashWithPrefix))
	addField("Timeout", fmt.Sprintf("%d sec", c.Timeout()))
	addField("Connections Per Server", strconv.Itoa(c.PoolSize()))

	addSection("Transport")
	addField("TCP No Delay", strconv.FormatBool(c.Transport.TCPNoDelay))
	addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.Transport.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.Transport.TCPLingerSec))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Transport.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Transport.ReadBufferSize))

	addSection("Servers")
	endpoints, err := c.Endpoints()
	if err != nil {
		addField("Error", err.Error())
		return sb.String()
	}
	for i, e := range endpoints {
		addField(fmt.Sprintf("Server %d", i+1), e.String())
	}
	return sb.String()
}
