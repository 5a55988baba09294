// Package local implements in-process connectors for the base transport.
//
// A local server transport registers its endpoint name in a process wide
// table instead of binding a socket. Dialing that name creates a net.Pipe and
// passes the server end to the accept loop. Tests use it to run a client
// against the in-process server without touching the network:
//
//	srv := server.NewServer(common.ServerConfig{})
//	st := local.NewLocalServerTransport()
//	st.RegisterHandler(srv.ServeConn)
//	_ = st.Listen(common.ServerConfig{Endpoint: "cache-1:11211"})
//
//	c, _ := client.NewCacheClient(common.ClientConfig{Host: "cache-1"}, local.NewLocalClientTransport())
package local
