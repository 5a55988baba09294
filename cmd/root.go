package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/mcache/cmd/kv"
	"github.com/ValentinKolb/mcache/cmd/lock"
	"github.com/ValentinKolb/mcache/cmd/ring"
	"github.com/ValentinKolb/mcache/cmd/serve"
	"github.com/ValentinKolb/mcache/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.4.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "mcache",
		Short: "memcached client toolkit",
		Long: fmt.Sprintf(`mcache (v%s)

A memcached client written in Go. It speaks the text and the
binary protocol, spreads keys over many servers with modulo,
consistent or ketama hashing and ships a small in-process
server for local development.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mcache",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mcache v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(ring.RingCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
