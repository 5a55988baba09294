// Package base implements the transport machinery shared by the tcp, unix and
// local connectors. Connectors only know how to open (or accept) and tune a
// single connection; everything else lives here.
//
// Client side:
//
//   - One jackc/puddle pool per server address, created on first use and
//     kept in an xsync map. The pool size is ClientConfig.ConnectionsPerServer.
//
//   - A request acquires a connection, writes the encoded command, and hands
//     the buffered reader to the caller's ResponseReader. The connection is
//     released afterwards, or destroyed when the exchange failed with a
//     connection error (I/O failure, timeout, malformed response).
//
//   - Deadlines come from ClientConfig.TimeoutSecond and the request context.
//     Canceling the context expires the deadline of the connection in use.
//
// Server side:
//
//   - An accept loop that upgrades each connection and runs the registered
//     handler in its own goroutine. Close stops accepting, closes open
//     connections and waits for the handlers to return.
package base
