package ring

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/mcache/cmd/util"
	"github.com/ValentinKolb/mcache/lib/ring"
	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	pool *ring.ServerPool

	// RingCmd inspects how a server list routes keys. It never contacts a server.
	RingCmd = &cobra.Command{
		Use:               "ring",
		Short:             "Inspect key routing of a server list offline",
		PersistentPreRunE: setupPool,
	}

	routeCmd = &cobra.Command{
		Use:   "route [key...]",
		Short: "Print the server owning each key",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRoute,
	}

	balanceCmd = &cobra.Command{
		Use:   "balance",
		Short: "Measure how evenly a key sample spreads over the servers",
		Args:  cobra.NoArgs,
		RunE:  runBalance,
	}
)

func init() {
	cobra.OnInitialize(util.InitClientConfig)

	util.SetupClientFlags(RingCmd)

	RingCmd.AddCommand(routeCmd)
	RingCmd.AddCommand(balanceCmd)

	balanceCmd.Flags().Int("samples", 100000, util.WrapString("Number of synthetic keys routed"))
	balanceCmd.Flags().String("without", "", util.WrapString("Also report the fraction of keys that move when this server is removed"))
	balanceCmd.Flags().Bool("json", false, util.WrapString("Print the statistics as JSON"))
}

func setupPool(cmd *cobra.Command, _ []string) (err error) {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	pool, err = ring.NewServerPoolFromConfig(*util.GetClientConfig())
	return err
}

func runRoute(_ *cobra.Command, args []string) error {
	prefix := viper.GetString("prefix")
	hashPrefix := viper.GetBool("hash-with-prefix")

	fmt.Printf("distribution=%s, hash=%s, points=%d\n", pool.Distribution(), pool.Hash(), len(pool.Points()))
	for _, key := range args {
		hashed := key
		if hashPrefix {
			hashed = prefix + key
		}
		fmt.Printf("key=%s, server=%s\n", key, pool.Route([]byte(hashed)).Address())
	}
	return nil
}

func runBalance(cmd *cobra.Command, _ []string) error {
	samples, _ := cmd.Flags().GetInt("samples")
	without, _ := cmd.Flags().GetString("without")
	asJSON, _ := cmd.Flags().GetBool("json")

	keys := make([][]byte, max(0, samples))
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key:%d", i))
	}

	balance := ring.MeasureBalance(pool, keys)

	remapped := -1.0
	if without != "" {
		f, err := remappedWithout(without, keys)
		if err != nil {
			return err
		}
		remapped = f
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			ring.Balance
			Remapped float64 `json:"remapped,omitempty"`
		}{balance, max(remapped, 0)})
	}

	fmt.Printf("distribution=%s, hash=%s, samples=%d\n", pool.Distribution(), pool.Hash(), samples)
	for _, s := range balance.Shares {
		fmt.Printf("  %-28s keys=%-8d share=%.4f expected=%.4f\n", s.Server.Address(), s.Keys, s.Share, s.Expected)
	}
	fmt.Printf("std_deviation=%.4f, min=%.4f, max=%.4f, min_max_ratio=%.4f, quality=%.4f\n",
		balance.StdDeviation, balance.Min, balance.Max, balance.MinMaxRatio, balance.Quality)
	if remapped >= 0 {
		fmt.Printf("remapped without %s: %.4f\n", without, remapped)
	}
	return nil
}

// remappedWithout rebuilds the pool without one server and compares routing
func remappedWithout(addr string, keys [][]byte) (float64, error) {
	removed, err := common.ParseServerEndpoint(addr)
	if err != nil {
		return 0, err
	}

	rest := make([]common.ServerEndpoint, 0, len(pool.Servers()))
	for _, s := range pool.Servers() {
		if !strings.EqualFold(s.Address(), removed.Address()) {
			rest = append(rest, s)
		}
	}
	if len(rest) == len(pool.Servers()) {
		return 0, fmt.Errorf("server %s is not in the pool", addr)
	}

	after, err := ring.NewServerPool(rest, pool.Hash(), pool.Distribution())
	if err != nil {
		return 0, err
	}
	return ring.RemappedFraction(pool, after, keys), nil
}
