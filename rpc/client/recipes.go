package client

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/pkg/errors"
)

const (
	// LockPrefix is prepended to the key of an advisory lock
	LockPrefix = "lock:"
	// DefaultLockExpiry releases a lock whose holder died, in seconds
	DefaultLockExpiry = 5

	lockRetryInterval = 10 * time.Millisecond
)

// --------------------------------------------------------------------------
// Read Modify Write
// --------------------------------------------------------------------------

// Update replaces the value of key with fn(old). An existing entry is
// replaced with cas and keeps its flags, an absent key is added with fn(nil).
// A nil result means another writer got there first.
func (c *Client) Update(ctx context.Context, key string, expiry uint32, fn func(old []byte) []byte) ([]byte, error) {
	entry, err := c.GetWithCas(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return c.Add(ctx, key, fn(nil), expiry, 0)
	}
	return c.Cas(ctx, key, fn(entry.Value), entry.CasToken, expiry, entry.Flags)
}

// GetOrAdd returns the stored value of key, adding value first when the key
// is absent. When a concurrent writer wins the add, its value is returned.
func (c *Client) GetOrAdd(ctx context.Context, key string, value []byte, expiry uint32) ([]byte, error) {
	if entry, err := c.Get(ctx, key); err != nil || entry != nil {
		return entryValue(entry), err
	}
	stored, err := c.Add(ctx, key, value, expiry, 0)
	if err != nil || stored != nil {
		return stored, err
	}
	entry, err := c.Get(ctx, key)
	return entryValue(entry), err
}

// GetOrSet returns the stored value of key. On a miss the value from fn is
// set unconditionally and returned.
func (c *Client) GetOrSet(ctx context.Context, key string, expiry uint32, fn func() ([]byte, error)) ([]byte, error) {
	if entry, err := c.Get(ctx, key); err != nil || entry != nil {
		return entryValue(entry), err
	}
	value, err := fn()
	if err != nil {
		return nil, errors.Wrapf(err, "computing value of %q", key)
	}
	return c.Set(ctx, key, value, expiry, 0)
}

// AddOrGet adds value and returns it. When the key is taken the stored value
// is returned instead, nil if it vanished in between.
func (c *Client) AddOrGet(ctx context.Context, key string, value []byte, expiry uint32) ([]byte, error) {
	stored, err := c.Add(ctx, key, value, expiry, 0)
	if err != nil || stored != nil {
		return stored, err
	}
	entry, err := c.Get(ctx, key)
	return entryValue(entry), err
}

// GetSomeOptions tunes GetSome
type GetSomeOptions struct {
	// Expiry of the values written back
	Expiry uint32
	// Overwrite writes back with set instead of add
	Overwrite bool
	// DisableWrite skips the write back
	DisableWrite bool
	// Validate drops cached entries it returns false for, they are fetched again
	Validate func(key string, entry *common.Entry) bool
}

// GetSome reads keys in one multi get and asks fetch for the ones that are
// missing. The fetched values are written back and merged into the result.
// Failed write backs are logged, servers that fail the read count as misses
// and come back as a MultiError along with the result.
func (c *Client) GetSome(ctx context.Context, keys []string, opts GetSomeOptions, fetch func(ctx context.Context, missing []string) (map[string][]byte, error)) (map[string][]byte, error) {
	entries, readErr := c.GetMulti(ctx, keys)
	var multi *common.MultiError
	if readErr != nil && !errors.As(readErr, &multi) {
		return nil, readErr
	}

	records := make(map[string][]byte, len(keys))
	var missing []string
	for _, key := range keys {
		if _, done := records[key]; done {
			continue
		}
		entry := entries[key]
		if entry != nil && (opts.Validate == nil || opts.Validate(key, entry)) {
			records[key] = entry.Value
			continue
		}
		if !slices.Contains(missing, key) {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return records, readErr
	}

	fetched, err := fetch(ctx, missing)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %d missing keys", len(missing))
	}
	for _, key := range missing {
		value, ok := fetched[key]
		if !ok {
			continue
		}
		records[key] = value
		if opts.DisableWrite {
			continue
		}
		if err := c.writeBack(ctx, key, value, opts); err != nil {
			Logger.Warningf("Writing back %q failed: %v", key, err)
		}
	}
	return records, readErr
}

func (c *Client) writeBack(ctx context.Context, key string, value []byte, opts GetSomeOptions) error {
	if opts.Overwrite {
		_, err := c.Set(ctx, key, value, opts.Expiry, 0)
		return err
	}
	_, err := c.Add(ctx, key, value, opts.Expiry, 0)
	return err
}

// Count reads a counter maintained by Incr and Decr. ok is false when the
// key is absent.
func (c *Client) Count(ctx context.Context, key string) (n uint64, ok bool, err error) {
	entry, err := c.Get(ctx, key)
	if err != nil || entry == nil {
		return 0, false, err
	}
	n, err = strconv.ParseUint(strings.TrimSpace(string(entry.Value)), 10, 64)
	if err != nil {
		return 0, false, common.NewClientError("value of %q is not a counter", key)
	}
	return n, true, nil
}

func entryValue(e *common.Entry) []byte {
	if e == nil {
		return nil
	}
	return e.Value
}

// --------------------------------------------------------------------------
// Advisory Locks
// --------------------------------------------------------------------------

// lockOwner identifies this process as the holder of a lock
var lockOwner = func() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}()

// Lock takes the advisory lock of key for expiry seconds (DefaultLockExpiry
// when 0). It returns false when the lock is held by someone else.
func (c *Client) Lock(ctx context.Context, key string, expiry uint32) (bool, error) {
	if expiry == 0 {
		expiry = DefaultLockExpiry
	}
	stored, err := c.Add(ctx, LockPrefix+key, []byte(lockOwner), expiry, 0)
	return stored != nil, err
}

// Unlock releases the lock of key, false when it was not held
func (c *Client) Unlock(ctx context.Context, key string) (bool, error) {
	return c.Delete(ctx, LockPrefix+key)
}

// Locked reports whether the lock of key is held
func (c *Client) Locked(ctx context.Context, key string) (bool, error) {
	entry, err := c.Get(ctx, LockPrefix+key)
	return entry != nil, err
}

// WithLock waits for the lock of key, runs fn and releases the lock. Waiting
// ends with the context.
func (c *Client) WithLock(ctx context.Context, key string, expiry uint32, fn func(ctx context.Context) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "waiting for lock %q", key)
		}
		locked, err := c.Lock(ctx, key, expiry)
		if err != nil {
			return err
		}
		if locked {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for lock %q", key)
		case <-time.After(lockRetryInterval):
		}
	}

	fnErr := fn(ctx)
	// unlock even when fn canceled ctx
	if _, err := c.Unlock(context.WithoutCancel(ctx), key); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}
