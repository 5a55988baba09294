// Package transport defines how requests reach cache servers.
//
// IClientTransport is the capability the client depends on: write a request
// to a server and read the response on the same connection. The memcached
// protocols have no request ids, so a connection serves one request at a
// time and the transport keeps a pool per server instead of multiplexing.
//
// IServerTransport accepts connections for the mock server.
//
// Implementations live in the sub packages: base (pooling and accept loop),
// tcp, unix and local (in-process pipes to mock servers).
package transport
