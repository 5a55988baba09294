// Package tcp implements TCP socket connectors for the base transport.
//
// Client connections are tuned from ClientConfig.Transport (no delay, keep
// alive, linger and socket buffer sizes). Server connections use
// common.DefaultTransportConfig.
package tcp
