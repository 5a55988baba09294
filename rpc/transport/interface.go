package transport

import (
	"bufio"
	"context"
	"net"

	"github.com/ValentinKolb/mcache/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ConnHandleFunc serves one accepted connection until it is closed
type ConnHandleFunc func(conn net.Conn)

// IServerTransport accepts connections and hands each one to the handler
type IServerTransport interface {
	// RegisterHandler registers the handler called for every accepted connection
	RegisterHandler(handler ConnHandleFunc)
	// Listen binds the endpoint of the config and serves in the background
	Listen(config common.ServerConfig) error
	// Addr returns the bound address, nil before Listen
	Addr() net.Addr
	// Close stops accepting and waits for open connections to finish
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// ResponseReader consumes one complete response from the connection. An
// error classified as a connection error makes the transport discard the
// connection, any other error keeps it for reuse.
type ResponseReader func(r *bufio.Reader) error

// IClientTransport exchanges requests with cache servers
type IClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send writes the request to the server and lets read consume the response
	// on the same connection
	Send(ctx context.Context, server common.ServerEndpoint, req []byte, read ResponseReader) error
	// CloseServer drops all connections to one server
	CloseServer(server common.ServerEndpoint)
	// Close drops all connections
	Close() error
}
