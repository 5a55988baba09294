// Package client implements the memcached client facade.
//
// A Client validates arguments, applies the key prefix, asks the server pool
// (package ring) which server owns a key, encodes the command with the codec
// of the configured dialect (package codec) and exchanges it over a client
// transport. Responses are mapped to plain Go results:
//
//   - Soft outcomes are values, never errors. A miss is a nil entry, a
//     rejected add or replace is a nil value, a stale cas token is a nil value,
//     an absent key on incr, decr, append, prepend or delete is false.
//
//   - Hard failures are *common.Error values matched with errors.Is against
//     common.ErrServer, common.ErrClient, common.ErrConnection,
//     common.ErrProtocol and common.ErrInvalidArgument.
//
//   - Multi-get sends one request per owning server concurrently. Entries of
//     the servers that answered are returned together with a
//     *common.MultiError naming the servers that failed.
//
// Mutations go to exactly one server. Flush, FlushStaggered, Version and
// Stats are sent to every server.
//
// With ClientConfig.Segmented, values above the segment limit are split over
// several items on the owning server and joined again on read.
//
// Usage Example:
//
//	config := common.ClientConfig{
//		Servers:      []string{"cache-1:11211", "cache-2:11211:2"},
//		Distribution: common.DistKetamaWeighted,
//		Prefix:       "app:",
//	}
//	c, err := client.NewCacheClient(config, tcp.NewTCPClientTransport())
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	_, _ = c.Set(ctx, "user:42", []byte("alice"), 60, 0)
//	entry, _ := c.Get(ctx, "user:42")
//
//	sessions := c.WithNamespace("sessions") // keys become "app:sessions:..."
//	_ = sessions.WithLock(ctx, "gc", 10, func(ctx context.Context) error {
//		return collect(ctx, sessions)
//	})
//
// Thread Safety:
//
//	A Client is safe for concurrent use. Every client value has its own
//	prefix, clients created by WithNamespace share the connections.
package client
