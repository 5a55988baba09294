// Package unix implements Unix domain socket connectors for the base
// transport, for memcached instances running on the same machine.
//
// Endpoints are addressed by their socket path, which ServerEndpoint parses
// from any server entry starting with a slash. Unix connections need no
// tuning, so both UpgradeConnection methods are no-ops.
package unix
