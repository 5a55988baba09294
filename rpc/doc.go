// Package rpc holds the client and server side of the memcached protocol.
//
// The package is organized into several subpackages:
//
//   - common: Commands, outcomes, server endpoints, configuration, the error
//     taxonomy and logging shared by every other package.
//
//   - codec: The text and the binary dialect. A codec turns a Command into
//     request bytes and reads the matching Outcome from a connection.
//
//   - transport: Connection handling with pluggable implementations
//     (TCP, Unix sockets and an in-process pipe for tests).
//
//   - client: The cache client. It routes keys with package ring, maps
//     outcomes to Go results and adds recipes such as locks and counters.
//
//   - server: A memcached compatible in-process server for tests and local
//     development.
package rpc
