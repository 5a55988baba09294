package util

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/mcache/rpc/client"
	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/ValentinKolb/mcache/rpc/transport"
	"github.com/ValentinKolb/mcache/rpc/transport/tcp"
	"github.com/ValentinKolb/mcache/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the server list, routing and socket flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "servers"
	cmd.PersistentFlags().String(key, "localhost:11211", WrapString("Comma separated list of cache servers as host[:port[:weight]]. Unix sockets are given as absolute paths"))

	key = "prefix"
	cmd.PersistentFlags().String(key, "", WrapString("Prefix prepended to every key"))

	key = "hash-with-prefix"
	cmd.PersistentFlags().Bool(key, true, WrapString("Hash the prefixed key instead of the plain key when choosing a server"))

	key = "hash"
	cmd.PersistentFlags().String(key, "", WrapString("Key hash function (default, md5, crc, fnv1_64, fnv1a_64, fnv1_32, fnv1a_32, jenkins, hsieh, murmur). Empty selects the default of the distribution"))

	key = "distribution"
	cmd.PersistentFlags().String(key, "", WrapString("Server distribution (modulo, consistent, ketama, ketama-weighted, ketama-spy). Empty falls back to the ketama flags, then modulo"))

	key = "ketama"
	cmd.PersistentFlags().Bool(key, false, WrapString("Shorthand for the ketama distribution"))

	key = "ketama-weighted"
	cmd.PersistentFlags().Bool(key, false, WrapString("Shorthand for the weighted ketama distribution"))

	key = "binary"
	cmd.PersistentFlags().Bool(key, false, WrapString("Speak the binary protocol instead of the text protocol"))

	key = "segmented"
	cmd.PersistentFlags().Bool(key, false, WrapString("Split values above 1 MB over several items"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 5, WrapString("The timeout in seconds of a single request"))

	key = "connections"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per server"))

	key = "write-buffer"
	cmd.PersistentFlags().Int(key, 16, WrapString("The size of the write buffer of a connection (in KB)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 16, WrapString("The size of the read buffer of a connection (in KB)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (tcp transport only)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 30, WrapString("The keepalive interval in seconds (tcp transport only)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("The linger time in seconds, -1 keeps the OS default (tcp transport only)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("mcache")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	var servers []string
	for _, s := range strings.Split(viper.GetString("servers"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}

	return &common.ClientConfig{
		Servers:              servers,
		Prefix:               viper.GetString("prefix"),
		HashWithPrefix:       viper.GetBool("hash-with-prefix"),
		Hash:                 viper.GetString("hash"),
		Distribution:         viper.GetString("distribution"),
		Ketama:               viper.GetBool("ketama"),
		KetamaWeighted:       viper.GetBool("ketama-weighted"),
		Binary:               viper.GetBool("binary"),
		Segmented:            viper.GetBool("segmented"),
		TimeoutSecond:        viper.GetInt("timeout"),
		ConnectionsPerServer: viper.GetInt("connections"),
		Transport: common.TransportConfig{
			TCPNoDelay:      viper.GetBool("tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("tcp-linger"),
			WriteBufferSize: viper.GetInt("write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
		},
	}
}

// GetTransport creates the client transport named by the transport flag
func GetTransport() (transport.IClientTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates the server transport named by the transport flag
func GetServerTransport() (transport.IServerTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// CommandContext returns a context bounded by the configured timeout. Commands
// that touch every server get one timeout per server.
func CommandContext(cmd *cobra.Command, servers int) (context.Context, context.CancelFunc) {
	timeout := time.Duration(max(1, viper.GetInt("timeout"))*max(1, servers)) * time.Second
	return context.WithTimeout(cmd.Context(), timeout)
}

// NewClient binds the flags of cmd and creates a client from them
func NewClient(cmd *cobra.Command) (*client.Client, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}
	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return nil, err
	}

	t, err := GetTransport()
	if err != nil {
		return nil, err
	}
	return client.NewCacheClient(*GetClientConfig(), t)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
