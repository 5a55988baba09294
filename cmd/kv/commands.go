package kv

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/ValentinKolb/mcache/cmd/util"
	"github.com/ValentinKolb/mcache/rpc/client"
	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd, 1)
			defer cancel()

			entry, err := cacheClient.Get(ctx, args[0])
			if err != nil {
				return err
			}
			printEntry(args[0], entry)
			return nil
		},
	}
	getsCmd = &cobra.Command{
		Use:   "gets [key]",
		Short: "Reads the value and the cas token for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd, 1)
			defer cancel()

			entry, err := cacheClient.GetWithCas(ctx, args[0])
			if err != nil {
				return err
			}
			printEntry(args[0], entry)
			return nil
		},
	}
	mgetCmd = &cobra.Command{
		Use:   "mget [key...]",
		Short: "Reads many keys, one request per server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd, 1)
			defer cancel()

			entries, err := cacheClient.GetMulti(ctx, args)
			for _, key := range args {
				printEntry(key, entries[key])
			}
			return err
		},
	}
	setCmd = storeCommand("set", "Stores the value for a key", "stored", func(c *client.Client) storeFunc {
		return c.Set
	})
	addCmd = storeCommand("add", "Stores the value if the key is absent", "added", func(c *client.Client) storeFunc {
		return c.Add
	})
	replaceCmd = storeCommand("replace", "Stores the value if the key exists", "replaced", func(c *client.Client) storeFunc {
		return c.Replace
	})
	casCmd = &cobra.Command{
		Use:   "cas [key] [value] [token]",
		Short: "Stores the value if the cas token still matches",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("token must be a number: %w", err)
			}
			expiry, flags := storeFlags(cmd)

			ctx, cancel := util.CommandContext(cmd, 1)
			defer cancel()

			stored, err := cacheClient.Cas(ctx, args[0], []byte(args[1]), token, expiry, flags)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, stored=%t\n", args[0], stored != nil)
			return nil
		},
	}
	appendCmd  = concatCommand("append", "Appends data to an existing value", true)
	prependCmd = concatCommand("prepend", "Prepends data to an existing value", false)
	incrCmd    = arithCommand("incr", "Increments a counter", true)
	decrCmd    = arithCommand("decr", "Decrements a counter, stopping at zero", false)
	countCmd   = &cobra.Command{
		Use:   "count [key]",
		Short: "Reads a counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd, 1)
			defer cancel()

			n, ok, err := cacheClient.Count(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t, count=%d\n", args[0], ok, n)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd, 1)
			defer cancel()

			found, err := cacheClient.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, deleted=%t\n", args[0], found)
			return nil
		},
	}
	flushCmd = &cobra.Command{
		Use:   "flush",
		Short: "Invalidates every item on every server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			delay, _ := cmd.Flags().GetUint32("delay")
			interval, _ := cmd.Flags().GetUint32("interval")

			ctx, cancel := util.CommandContext(cmd, len(cacheClient.Servers()))
			defer cancel()

			if err := cacheClient.FlushStaggered(ctx, delay, interval); err != nil {
				return err
			}
			fmt.Printf("flushed %d servers\n", len(cacheClient.Servers()))
			return nil
		},
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Prints the version of every server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd, len(cacheClient.Servers()))
			defer cancel()

			versions, err := cacheClient.Version(ctx)
			addrs := make([]string, 0, len(versions))
			for addr := range versions {
				addrs = append(addrs, addr)
			}
			sort.Strings(addrs)
			for _, addr := range addrs {
				fmt.Printf("server=%s, version=%s\n", addr, versions[addr])
			}
			return err
		},
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Prints the general statistics of every server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd, len(cacheClient.Servers()))
			defer cancel()

			stats, err := cacheClient.Stats(ctx)
			addrs := make([]string, 0, len(stats))
			for addr := range stats {
				addrs = append(addrs, addr)
			}
			sort.Strings(addrs)
			for _, addr := range addrs {
				names := make([]string, 0, len(stats[addr]))
				for name := range stats[addr] {
					names = append(names, name)
				}
				sort.Strings(names)
				fmt.Printf("server=%s\n", addr)
				for _, name := range names {
					fmt.Printf("  %s=%s\n", name, stats[addr][name])
				}
			}
			return err
		},
	}
)

// --------------------------------------------------------------------------
// Command builders
// --------------------------------------------------------------------------

type storeFunc func(ctx context.Context, key string, value []byte, expiry, flags uint32) ([]byte, error)

// storeCommand builds set, add and replace. The client is resolved when the
// command runs since it is created in the pre run hook.
func storeCommand(name, short, verb string, op func(c *client.Client) storeFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name + " [key] [value]",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			expiry, flags := storeFlags(cmd)

			ctx, cancel := util.CommandContext(cmd, 1)
			defer cancel()

			stored, err := op(cacheClient)(ctx, args[0], []byte(args[1]), expiry, flags)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, %s=%t\n", args[0], verb, stored != nil)
			return nil
		},
	}
}

func concatCommand(name, short string, suffix bool) *cobra.Command {
	return &cobra.Command{
		Use:   name + " [key] [data]",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.CommandContext(cmd, 1)
			defer cancel()

			op := cacheClient.Prepend
			if suffix {
				op = cacheClient.Append
			}
			found, err := op(ctx, args[0], []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", args[0], found)
			return nil
		},
	}
}

func arithCommand(name, short string, incr bool) *cobra.Command {
	return &cobra.Command{
		Use:   name + " [key] [delta]",
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta := uint64(1)
			if len(args) == 2 {
				d, err := strconv.ParseUint(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("delta must be a number: %w", err)
				}
				delta = d
			}

			ctx, cancel := util.CommandContext(cmd, 1)
			defer cancel()

			op := cacheClient.Decr
			if incr {
				op = cacheClient.Incr
			}
			value, found, err := op(ctx, args[0], delta)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t, value=%d\n", args[0], found, value)
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// Output helpers
// --------------------------------------------------------------------------

func storeFlags(cmd *cobra.Command) (expiry, flags uint32) {
	expiry, _ = cmd.Flags().GetUint32("expiry")
	flags, _ = cmd.Flags().GetUint32("flags")
	return expiry, flags
}

func printEntry(key string, entry *common.Entry) {
	switch {
	case entry == nil:
		fmt.Printf("key=%s, found=false\n", key)
	case entry.HasCas:
		fmt.Printf("key=%s, found=true, flags=%d, cas=%d, value=%s\n", key, entry.Flags, entry.CasToken, entry.Value)
	default:
		fmt.Printf("key=%s, found=true, flags=%d, value=%s\n", key, entry.Flags, entry.Value)
	}
}
