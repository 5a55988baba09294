package client

import (
	"context"

	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

// --------------------------------------------------------------------------
// Retrieval
// --------------------------------------------------------------------------

// Get returns the entry of key, or nil when the key is absent
func (c *Client) Get(ctx context.Context, key string) (*common.Entry, error) {
	return c.get(ctx, key, false)
}

// GetWithCas is Get with the cas token of the entry filled in
func (c *Client) GetWithCas(ctx context.Context, key string) (*common.Entry, error) {
	return c.get(ctx, key, true)
}

func (c *Client) get(ctx context.Context, key string, withCas bool) (*common.Entry, error) {
	rk, err := c.route(key)
	if err != nil {
		return nil, err
	}
	entry, err := c.rawGet(ctx, rk, withCas)
	if err != nil || !c.config.Segmented || !isSegmented(entry) {
		return entry, err
	}

	entries := map[string]*common.Entry{key: entry}
	if failed := c.joinSegments(ctx, entries); len(failed) > 0 {
		return nil, failed[rk.server.Address()]
	}
	return entries[key], nil
}

// rawGet reads the item stored under the key as is
func (c *Client) rawGet(ctx context.Context, rk routedKey, withCas bool) (*common.Entry, error) {
	out, err := c.invokeRequest(ctx, rk.server, common.NewGetCommand(withCas, rk.full))
	if err != nil {
		return nil, err
	}
	if len(out.Entries) == 0 {
		return nil, nil
	}
	entry := out.Entries[0]
	entry.Key = rk.key
	return &entry, nil
}

// GetMulti fetches several keys with one request per owning server. Absent
// keys are missing from the result. When some servers fail, the entries of
// the others are returned together with a *common.MultiError.
func (c *Client) GetMulti(ctx context.Context, keys []string) (map[string]*common.Entry, error) {
	return c.getMulti(ctx, keys, false)
}

// GetMultiWithCas is GetMulti with cas tokens
func (c *Client) GetMultiWithCas(ctx context.Context, keys []string) (map[string]*common.Entry, error) {
	return c.getMulti(ctx, keys, true)
}

// serverBatch is the part of a multi-get owned by one server
type serverBatch struct {
	server common.ServerEndpoint
	keys   [][]byte
}

func (c *Client) getMulti(ctx context.Context, keys []string, withCas bool) (map[string]*common.Entry, error) {
	results := make(map[string]*common.Entry, len(keys))
	if len(keys) == 0 {
		return results, nil
	}

	// Partition the keys by server, dropping duplicates
	prefix := c.Prefix()
	batches := make(map[string]*serverBatch)
	var order []string
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		rk, err := c.route(key)
		if err != nil {
			return nil, err
		}
		addr := rk.server.Address()
		b, ok := batches[addr]
		if !ok {
			b = &serverBatch{server: rk.server}
			batches[addr] = b
			order = append(order, addr)
		}
		b.keys = append(b.keys, rk.full)
	}

	// Fetch all batches concurrently
	entries := xsync.NewMapOf[string, common.Entry]()
	failures := xsync.NewMapOf[string, error]()
	var g errgroup.Group
	for _, addr := range order {
		b := batches[addr]
		g.Go(func() error {
			out, err := c.invokeRequest(ctx, b.server, common.NewGetCommand(withCas, b.keys...))
			for _, e := range out.Entries {
				e.Key = callerKey(prefix, e.Key)
				entries.LoadOrStore(e.Key, e)
			}
			if err != nil {
				failures.Store(addr, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	entries.Range(func(key string, e common.Entry) bool {
		if _, requested := seen[key]; requested {
			entry := e
			results[key] = &entry
		}
		return true
	})

	multi := &common.MultiError{}
	failures.Range(func(addr string, err error) bool {
		multi.Add(addr, err)
		return true
	})
	if c.config.Segmented {
		for addr, err := range c.joinSegments(ctx, results) {
			multi.Add(addr, err)
		}
	}
	return results, multi.ErrorOrNil()
}

// --------------------------------------------------------------------------
// Storage
// --------------------------------------------------------------------------

// Set stores the value unconditionally and echoes it back
func (c *Client) Set(ctx context.Context, key string, value []byte, expiry, flags uint32) ([]byte, error) {
	return c.store(ctx, common.CmdSet, key, value, expiry, flags)
}

// Add stores the value only if the key is absent, nil means not stored
func (c *Client) Add(ctx context.Context, key string, value []byte, expiry, flags uint32) ([]byte, error) {
	return c.store(ctx, common.CmdAdd, key, value, expiry, flags)
}

// Replace stores the value only if the key exists, nil means not stored
func (c *Client) Replace(ctx context.Context, key string, value []byte, expiry, flags uint32) ([]byte, error) {
	return c.store(ctx, common.CmdReplace, key, value, expiry, flags)
}

func (c *Client) store(ctx context.Context, t common.CommandType, key string, value []byte, expiry, flags uint32) ([]byte, error) {
	if err := validateValue(value); err != nil {
		return nil, err
	}
	rk, err := c.route(key)
	if err != nil {
		return nil, err
	}
	if c.config.Segmented && t != common.CmdAppend && t != common.CmdPrepend {
		return c.storeSegmented(ctx, rk, value, expiry, flags, t != common.CmdAdd, func(payload []byte, flags uint32) *common.Command {
			return common.NewStoreCommand(t, rk.full, payload, expiry, flags)
		})
	}
	out, err := c.invokeRequest(ctx, rk.server, common.NewStoreCommand(t, rk.full, value, expiry, flags))
	if err != nil || out.Kind != common.OutcomeStored {
		return nil, err
	}
	return value, nil
}

// Cas stores the value if the entry still carries casToken. A stale token or
// a vanished key returns nil without error. The zero token is rejected, the
// binary dialect would treat it as a plain set.
func (c *Client) Cas(ctx context.Context, key string, value []byte, casToken uint64, expiry, flags uint32) ([]byte, error) {
	if casToken == 0 {
		return nil, common.NewInvalidArgumentError("cas requires a token from GetWithCas")
	}
	if err := validateValue(value); err != nil {
		return nil, err
	}
	rk, err := c.route(key)
	if err != nil {
		return nil, err
	}
	if c.config.Segmented {
		return c.storeSegmented(ctx, rk, value, expiry, flags, true, func(payload []byte, flags uint32) *common.Command {
			return common.NewCasCommand(rk.full, payload, casToken, expiry, flags)
		})
	}
	out, err := c.invokeRequest(ctx, rk.server, common.NewCasCommand(rk.full, value, casToken, expiry, flags))
	if err != nil || out.Kind != common.OutcomeStored {
		return nil, err
	}
	return value, nil
}

// Append adds the value after the stored one, false when the key is absent
func (c *Client) Append(ctx context.Context, key string, value []byte) (bool, error) {
	return c.concat(ctx, common.CmdAppend, key, value)
}

// Prepend adds the value before the stored one, false when the key is absent
func (c *Client) Prepend(ctx context.Context, key string, value []byte) (bool, error) {
	return c.concat(ctx, common.CmdPrepend, key, value)
}

func (c *Client) concat(ctx context.Context, t common.CommandType, key string, value []byte) (bool, error) {
	stored, err := c.store(ctx, t, key, value, 0, 0)
	return stored != nil, err
}

// --------------------------------------------------------------------------
// Counters and Deletion
// --------------------------------------------------------------------------

// Incr adds delta to a decimal counter and returns the new value. ok is false
// when the key is absent. Incrementing a non numeric value is a client error.
func (c *Client) Incr(ctx context.Context, key string, delta uint64) (value uint64, ok bool, err error) {
	return c.arith(ctx, false, key, delta)
}

// Decr subtracts delta from a decimal counter. Servers clamp the result at 0.
func (c *Client) Decr(ctx context.Context, key string, delta uint64) (value uint64, ok bool, err error) {
	return c.arith(ctx, true, key, delta)
}

func (c *Client) arith(ctx context.Context, decrement bool, key string, delta uint64) (uint64, bool, error) {
	rk, err := c.route(key)
	if err != nil {
		return 0, false, err
	}
	out, err := c.invokeRequest(ctx, rk.server, common.NewArithCommand(decrement, rk.full, delta))
	if err != nil || out.Kind != common.OutcomeStored {
		return 0, false, err
	}
	return out.Counter, true, nil
}

// Delete removes the key, false when it was absent
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	rk, err := c.route(key)
	if err != nil {
		return false, err
	}
	var old *common.Entry
	if c.config.Segmented {
		if old, err = c.rawGet(ctx, rk, false); err != nil {
			return false, err
		}
	}
	out, err := c.invokeRequest(ctx, rk.server, common.NewDeleteCommand(rk.full))
	if err != nil {
		return false, err
	}
	deleted := out.Kind == common.OutcomeStored
	if deleted {
		c.dropSegmentsOf(ctx, rk.server, old)
	}
	return deleted, nil
}

// --------------------------------------------------------------------------
// Cluster Wide Commands
// --------------------------------------------------------------------------

// Flush invalidates every item on every server after delay seconds
func (c *Client) Flush(ctx context.Context, delay uint32) error {
	return c.FlushStaggered(ctx, delay, 0)
}

// FlushStaggered flushes server i after delay + i*interval seconds, so the
// servers of a cluster do not all go cold at once
func (c *Client) FlushStaggered(ctx context.Context, delay, interval uint32) error {
	_, err := c.broadcast(ctx, func(i int) *common.Command {
		return common.NewFlushCommand(delay + uint32(i)*interval)
	})
	return err
}

// Version returns the version string of every server by address
func (c *Client) Version(ctx context.Context) (map[string]string, error) {
	outcomes, err := c.broadcast(ctx, func(int) *common.Command {
		return common.NewVersionCommand()
	})
	versions := make(map[string]string, len(outcomes))
	for addr, out := range outcomes {
		versions[addr] = string(out.Value)
	}
	return versions, err
}

// Stats returns the general statistics of every server by address. Values
// are kept as reported, the names and their types vary between servers.
func (c *Client) Stats(ctx context.Context) (map[string]map[string]string, error) {
	outcomes, err := c.broadcast(ctx, func(int) *common.Command {
		return common.NewStatsCommand()
	})
	stats := make(map[string]map[string]string, len(outcomes))
	for addr, out := range outcomes {
		stats[addr] = out.Stats
	}
	return stats, err
}

// broadcast sends one command to every server concurrently and collects the
// outcomes of the servers that answered
func (c *Client) broadcast(ctx context.Context, build func(i int) *common.Command) (map[string]common.Outcome, error) {
	outcomes := xsync.NewMapOf[string, common.Outcome]()
	failures := xsync.NewMapOf[string, error]()

	var g errgroup.Group
	for i, server := range c.pool.Servers() {
		cmd := build(i)
		g.Go(func() error {
			out, err := c.invokeRequest(ctx, server, cmd)
			if err != nil {
				failures.Store(server.Address(), err)
				return nil
			}
			outcomes.Store(server.Address(), out)
			return nil
		})
	}
	_ = g.Wait()

	result := make(map[string]common.Outcome, outcomes.Size())
	outcomes.Range(func(addr string, out common.Outcome) bool {
		result[addr] = out
		return true
	})
	multi := &common.MultiError{}
	failures.Range(func(addr string, err error) bool {
		multi.Add(addr, err)
		return true
	})
	return result, multi.ErrorOrNil()
}
