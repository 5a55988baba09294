package client

import (
	"bufio"
	"context"
	"strings"
	"sync"

	"github.com/ValentinKolb/mcache/lib/ring"
	"github.com/ValentinKolb/mcache/rpc/codec"
	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/ValentinKolb/mcache/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/valyala/bytebufferpool"
)

var (
	Logger = logger.GetLogger("client")
)

// NamespaceSeparator joins a prefix and a namespace
const NamespaceSeparator = ":"

// prefixHolder is the mutable key prefix of one client value
type prefixHolder struct {
	mu    sync.RWMutex
	value string
}

// Client routes commands to the owning server and maps the responses to
// caller facing results. It is safe for concurrent use.
type Client struct {
	config    common.ClientConfig
	pool      *ring.ServerPool
	codec     codec.ICodec
	transport transport.IClientTransport
	metrics   *clientMetrics
	prefix    *prefixHolder
}

// NewCacheClient builds the server pool from the config and connects the transport
func NewCacheClient(config common.ClientConfig, transport transport.IClientTransport) (*Client, error) {
	pool, err := ring.NewServerPoolFromConfig(config)
	if err != nil {
		return nil, err
	}

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	c := &Client{
		config:    config,
		pool:      pool,
		codec:     codec.NewCodec(config.Binary),
		transport: transport,
		metrics:   newClientMetrics(),
		prefix:    &prefixHolder{value: config.Prefix},
	}
	Logger.Infof("Created %s client for %d servers (%s, hash %s)",
		c.codec.Name(), len(pool.Servers()), pool.Distribution(), pool.Hash())
	return c, nil
}

// --------------------------------------------------------------------------
// Prefix Handling
// --------------------------------------------------------------------------

// Prefix returns the key prefix, "" means none
func (c *Client) Prefix() string {
	c.prefix.mu.RLock()
	defer c.prefix.mu.RUnlock()
	return c.prefix.value
}

// SetPrefix replaces the key prefix of this client value
func (c *Client) SetPrefix(prefix string) {
	c.prefix.mu.Lock()
	c.prefix.value = prefix
	c.prefix.mu.Unlock()
}

// WithNamespace returns a client sharing servers, transport and metrics whose
// keys are prefixed with prefix+ns+":". Changing the prefix of either client
// does not affect the other.
func (c *Client) WithNamespace(ns string) *Client {
	scoped := *c
	scoped.prefix = &prefixHolder{value: c.Prefix() + ns + NamespaceSeparator}
	return &scoped
}

// Servers returns the configured servers in configuration order
func (c *Client) Servers() []common.ServerEndpoint {
	return c.pool.Servers()
}

// Close drops all connections. Clients created by WithNamespace share the
// transport and are closed as well.
func (c *Client) Close() error {
	return c.transport.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// routedKey is a caller key with its prefixed form and owning server
type routedKey struct {
	key    string
	full   []byte
	server common.ServerEndpoint
}

// route validates the key, applies the prefix and picks the server
func (c *Client) route(key string) (routedKey, error) {
	if key == "" {
		return routedKey{}, common.NewInvalidArgumentError("empty key")
	}
	prefix := c.Prefix()
	full := []byte(prefix + key)
	if len(c.codec.EncodeKey(full)) > codec.MaxKeyLength {
		return routedKey{}, common.NewInvalidArgumentError("key %q exceeds %d bytes on the wire", key, codec.MaxKeyLength)
	}

	hashed := []byte(key)
	if c.config.HashWithPrefix {
		hashed = full
	}
	return routedKey{key: key, full: full, server: c.pool.Route(hashed)}, nil
}

// callerKey strips the prefix from a key reported by the server
func callerKey(prefix, full string) string {
	return strings.TrimPrefix(full, prefix)
}

// invokeRequest encodes the command, exchanges it with the server and decodes
// the response. Server reported failures come back as errors together with
// the outcome, so partial multi-get results survive.
func (c *Client) invokeRequest(ctx context.Context, server common.ServerEndpoint, cmd *common.Command) (out common.Outcome, err error) {
	done := c.metrics.start(cmd)
	defer func() { done(out, err) }()

	// Encode the request
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err = c.codec.Encode(buf, cmd); err != nil {
		return common.Outcome{}, err
	}

	// Send the request and decode the response on the same connection
	err = c.transport.Send(ctx, server, buf.B, func(r *bufio.Reader) error {
		var decodeErr error
		out, decodeErr = c.codec.Decode(r, cmd)
		return decodeErr
	})
	if err != nil {
		Logger.Debugf("%s on %s failed: %v", cmd.Type, server.Address(), err)
		return common.Outcome{}, err
	}

	// Check if the server reported an error
	if out.Kind == common.OutcomeError {
		return out, common.AsError(out.Err).WithServer(server.Address())
	}
	return out, nil
}

func validateValue(value []byte) error {
	if value == nil {
		return common.NewInvalidArgumentError("value must not be nil")
	}
	return nil
}
