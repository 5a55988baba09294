package serve

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/mcache/cmd/util"
	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/ValentinKolb/mcache/rpc/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start an in-process memcached compatible server",
		Long: `Start a memcached compatible server that speaks the text and the binary protocol. It keeps all items in memory, never evicts and is meant for local development and tests. The configuration can be set via command line flags or environment variables. The format of the environment variables is MCACHE_<flag> (e.g. MCACHE_MAX_ITEM_SIZE=2097152)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:11211", cmdUtil.WrapString("The address on which the server will listen (e.g. localhost:11211, /tmp/mcache.sock, ...)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 0, cmdUtil.WrapString("Idle timeout in seconds after which a connection is closed (0 disables it)"))

	key = "max-item-size"
	ServeCmd.PersistentFlags().Int(key, server.DefaultMaxItemSize, cmdUtil.WrapString("Largest value in bytes the server accepts"))

	key = "server-version"
	ServeCmd.PersistentFlags().String(key, server.DefaultVersion, cmdUtil.WrapString("Version string reported by the version command"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MaxItemSize = viper.GetInt("max-item-size")
	serveCmdConfig.Version = viper.GetString("server-version")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.MaxItemSize <= 0 {
		return fmt.Errorf("max-item-size must be positive, got %d", serveCmdConfig.MaxItemSize)
	}
	if serveCmdConfig.TimeoutSecond < 0 {
		return fmt.Errorf("timeout must not be negative, got %d", serveCmdConfig.TimeoutSecond)
	}

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run serves until the process receives SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	srv := server.NewServer(*serveCmdConfig)
	defer srv.Close()

	fmt.Println(serveCmdConfig.String())

	t.RegisterHandler(srv.ServeConn)
	if err := t.Listen(*serveCmdConfig); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	server.Logger.Infof("Received %s, shutting down", <-sig)

	return t.Close()
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("mcache")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
