package kv

import (
	"github.com/ValentinKolb/mcache/cmd/util"
	"github.com/ValentinKolb/mcache/rpc/client"
	"github.com/spf13/cobra"
)

var (
	cacheClient *client.Client

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform cache operations against memcached servers",
		PersistentPreRunE:  setupKVClient,
		PersistentPostRunE: closeKVClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	util.SetupClientFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(getsCmd)
	KeyValueCommands.AddCommand(mgetCmd)
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(addCmd)
	KeyValueCommands.AddCommand(replaceCmd)
	KeyValueCommands.AddCommand(casCmd)
	KeyValueCommands.AddCommand(appendCmd)
	KeyValueCommands.AddCommand(prependCmd)
	KeyValueCommands.AddCommand(incrCmd)
	KeyValueCommands.AddCommand(decrCmd)
	KeyValueCommands.AddCommand(countCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(flushCmd)
	KeyValueCommands.AddCommand(versionCmd)
	KeyValueCommands.AddCommand(statsCmd)
	KeyValueCommands.AddCommand(perfTestCmd)

	for _, cmd := range []*cobra.Command{setCmd, addCmd, replaceCmd, casCmd} {
		cmd.Flags().Uint32("expiry", 0, util.WrapString("Expiry in seconds, values above 30 days are unix timestamps. 0 never expires"))
		cmd.Flags().Uint32("flags", 0, util.WrapString("Opaque flags stored with the value"))
	}
	flushCmd.Flags().Uint32("delay", 0, util.WrapString("Seconds until the first server invalidates its items"))
	flushCmd.Flags().Uint32("interval", 0, util.WrapString("Additional delay per server, staggers the flush over the pool"))
}

// setupKVClient initializes the cache client
func setupKVClient(cmd *cobra.Command, _ []string) (err error) {
	cacheClient, err = util.NewClient(cmd)
	return err
}

func closeKVClient(*cobra.Command, []string) error {
	if cacheClient == nil {
		return nil
	}
	return cacheClient.Close()
}
