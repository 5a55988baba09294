// Package server implements an in-process memcached compatible cache.
//
// The server speaks the text and the binary dialect on the same listener.
// ServeConn peeks at the first byte of a connection: the binary request magic
// (0x80) selects the binary dialect, anything else the text dialect.
//
// Items live in an xsync map and every command runs inside a per key Compute,
// so concurrent commands on one key are serialized. Expired items become
// invisible immediately and are removed by a background reaper driven by a
// deadline heap. Nothing is ever evicted, the server is meant for tests and
// local development, not as a production cache.
//
// The server does not listen by itself. Register ServeConn with a transport:
//
//	srv := server.NewServer(common.ServerConfig{Endpoint: "127.0.0.1:11211"})
//	defer srv.Close()
//
//	t := tcp.NewTCPServerTransport()
//	t.RegisterHandler(srv.ServeConn)
//	if err := t.Listen(config); err != nil {
//		log.Fatal(err)
//	}
package server
