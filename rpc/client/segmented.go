package client

import (
	"context"
	"strconv"
	"strings"

	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

// --------------------------------------------------------------------------
// Segmented Values
// --------------------------------------------------------------------------
//
// With ClientConfig.Segmented a value above the segment limit is stored as
// numbered items "<id>:0" ... "<id>:<n-1>" on the server owning the key. The
// key itself holds "<id>:<n>" and carries PartialValueFlag. Segments expire
// one second after the key.

// PartialValueFlag marks an item whose value indexes its segments
const PartialValueFlag uint32 = 0x40000000

const (
	// maxSegments bounds the index parsed from a master value
	maxSegments = 1 << 16
	// segmentWriters is the number of segments stored concurrently
	segmentWriters = 4
)

func isSegmented(e *common.Entry) bool {
	return e != nil && e.Flags&PartialValueFlag != 0
}

// segmentKeys expands a master value into the keys of its segments
func segmentKeys(master []byte) ([][]byte, error) {
	id, count, ok := strings.Cut(string(master), ":")
	n, err := strconv.Atoi(count)
	if !ok || id == "" || err != nil || n <= 0 || n > maxSegments {
		return nil, common.NewProtocolError("malformed segment index %q", master)
	}
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = []byte(id + ":" + strconv.Itoa(i))
	}
	return keys, nil
}

// writeSegments stores a value above the limit as segments on server and
// returns the master value with the flags to store under the key. Values that
// fit are returned unchanged with no segments.
func (c *Client) writeSegments(ctx context.Context, server common.ServerEndpoint, value []byte, expiry, flags uint32) ([]byte, uint32, [][]byte, error) {
	size := c.config.SegmentLimit()
	if len(value) <= size {
		return value, flags, nil, nil
	}

	id := uuid.NewString()
	n := (len(value) + size - 1) / size
	if expiry != 0 {
		expiry++
	}

	parts := make([][]byte, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(segmentWriters)
	for i := range parts {
		key := []byte(id + ":" + strconv.Itoa(i))
		chunk := value[i*size : min((i+1)*size, len(value))]
		parts[i] = key
		g.Go(func() error {
			_, err := c.invokeRequest(gctx, server, common.NewStoreCommand(common.CmdSet, key, chunk, expiry, 0))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		c.deleteSegments(ctx, server, parts)
		return nil, 0, nil, errors.Wrapf(err, "storing %d segments", n)
	}
	return []byte(id + ":" + strconv.Itoa(n)), flags | PartialValueFlag, parts, nil
}

// deleteSegments removes segments, failures only leave garbage that expires
func (c *Client) deleteSegments(ctx context.Context, server common.ServerEndpoint, parts [][]byte) {
	for _, key := range parts {
		if _, err := c.invokeRequest(ctx, server, common.NewDeleteCommand(key)); err != nil {
			Logger.Warningf("Deleting segment %s on %s failed: %v", key, server.Address(), err)
		}
	}
}

// dropSegmentsOf deletes the segments indexed by a replaced entry
func (c *Client) dropSegmentsOf(ctx context.Context, server common.ServerEndpoint, old *common.Entry) {
	if !isSegmented(old) {
		return
	}
	parts, err := segmentKeys(old.Value)
	if err != nil {
		Logger.Warningf("Not deleting segments of %q: %v", old.Key, err)
		return
	}
	c.deleteSegments(ctx, server, parts)
}

// storeSegmented runs a storage command whose value may need segments. The
// segments of the entry it replaces are deleted once the command succeeded,
// the new segments are deleted when it did not.
func (c *Client) storeSegmented(ctx context.Context, rk routedKey, value []byte, expiry, flags uint32, replaces bool,
	build func(payload []byte, flags uint32) *common.Command) ([]byte, error) {
	var old *common.Entry
	if replaces {
		var err error
		if old, err = c.rawGet(ctx, rk, false); err != nil {
			return nil, err
		}
	}

	payload, flags, parts, err := c.writeSegments(ctx, rk.server, value, expiry, flags)
	if err != nil {
		return nil, err
	}
	out, err := c.invokeRequest(ctx, rk.server, build(payload, flags))
	if err != nil || out.Kind != common.OutcomeStored {
		c.deleteSegments(ctx, rk.server, parts)
		return nil, err
	}
	c.dropSegmentsOf(ctx, rk.server, old)
	return value, nil
}

// joinSegments replaces the master values of segmented entries with their
// joined segments and clears PartialValueFlag. Entries with a lost segment
// are removed. Servers failing the segment read are returned by address,
// their segmented entries are removed as well.
func (c *Client) joinSegments(ctx context.Context, entries map[string]*common.Entry) map[string]error {
	batches := make(map[string]*serverBatch)
	index := make(map[string][][]byte)
	owner := make(map[string]string)
	for key, e := range entries {
		if !isSegmented(e) {
			continue
		}
		parts, err := segmentKeys(e.Value)
		if err != nil {
			Logger.Warningf("Dropping %q: %v", key, err)
			delete(entries, key)
			continue
		}
		rk, err := c.route(key)
		if err != nil {
			delete(entries, key)
			continue
		}
		addr := rk.server.Address()
		b, ok := batches[addr]
		if !ok {
			b = &serverBatch{server: rk.server}
			batches[addr] = b
		}
		b.keys = append(b.keys, parts...)
		index[key], owner[key] = parts, addr
	}
	if len(index) == 0 {
		return nil
	}

	found := xsync.NewMapOf[string, []byte]()
	failures := xsync.NewMapOf[string, error]()
	var g errgroup.Group
	for addr, b := range batches {
		g.Go(func() error {
			out, err := c.invokeRequest(ctx, b.server, common.NewGetCommand(false, b.keys...))
			for _, e := range out.Entries {
				found.Store(e.Key, e.Value)
			}
			if err != nil {
				failures.Store(addr, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := make(map[string]error)
	failures.Range(func(addr string, err error) bool {
		failed[addr] = err
		return true
	})
	for key, parts := range index {
		if _, ok := failed[owner[key]]; ok {
			delete(entries, key)
			continue
		}
		value, ok := assemble(found, parts)
		if !ok {
			delete(entries, key)
			continue
		}
		entries[key].Value = value
		entries[key].Flags &^= PartialValueFlag
	}
	return failed
}

// assemble concatenates the segments in order, false when one is missing
func assemble(found *xsync.MapOf[string, []byte], parts [][]byte) ([]byte, bool) {
	var size int
	chunks := make([][]byte, len(parts))
	for i, key := range parts {
		chunk, ok := found.Load(string(key))
		if !ok {
			return nil, false
		}
		chunks[i] = chunk
		size += len(chunk)
	}
	value := make([]byte, 0, size)
	for _, chunk := range chunks {
		value = append(value, chunk...)
	}
	return value, true
}
