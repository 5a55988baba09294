// Package cmd implements the command-line interface of mcache. It provides a
// hierarchical command structure for running a local cache server and for
// talking to memcached servers as a client.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for cache operations (get, set, cas, incr, flush, perf, etc.)
//   - lock: Commands for advisory locks (acquire, release, status, hold)
//   - ring: Offline inspection of key routing and balance
//   - serve: Commands for starting and configuring the in-process server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as an environment variable MCACHE_<FLAG>, e.g.
// MCACHE_SERVERS=cache-1:11211,cache-2:11211. See mcache -help for a list of
// all commands.
package cmd
