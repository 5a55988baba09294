package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/mcache/cmd/util"
	"github.com/ValentinKolb/mcache/rpc/client"
	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/ValentinKolb/mcache/rpc/server"
	"github.com/ValentinKolb/mcache/rpc/transport"
	"github.com/ValentinKolb/mcache/rpc/transport/local"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:      "perf",
		Short:    "Performance testing tool for memcached servers",
		RunE:     run,
		PreRunE:  processPerfConfig,
		PostRunE: stopEmbedded,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)

	// latencies holds one timer per benchmark
	latencies = gometrics.NewRegistry()

	embedded []embeddedServer
)

// benchmark describes one perf test. prepare runs before the timer starts,
// op runs once per iteration with the iteration counter.
type benchmark struct {
	name    string
	prepare func(ctx context.Context, keys []string)
	op      func(ctx context.Context, key string, i int) error
}

// embeddedServer is an in-process server the benchmark runs against
type embeddedServer struct {
	server    *server.Server
	transport transport.IServerTransport
}

// perfResult is a finished benchmark
type perfResult struct {
	name   string
	result testing.BenchmarkResult
	timer  gometrics.Timer
}

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "embedded"
	perfTestCmd.Flags().Int(key, 0, util.WrapString("Run against this many in-process servers connected by pipes instead of the configured servers"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(1, viper.GetInt("keys"))
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if n := viper.GetInt("embedded"); n > 0 {
		return startEmbedded(n)
	}
	return nil
}

// startEmbedded replaces the client with one talking to n in-process servers
func startEmbedded(n int) error {
	config := util.GetClientConfig()
	config.Servers = make([]string, 0, n)
	for i := 0; i < n; i++ {
		serverConfig := common.ServerConfig{Endpoint: fmt.Sprintf("perf-%d:%d", i, common.DefaultPort)}
		srv := server.NewServer(serverConfig)
		t := local.NewLocalServerTransport()
		t.RegisterHandler(srv.ServeConn)
		if err := t.Listen(serverConfig); err != nil {
			srv.Close()
			return err
		}
		embedded = append(embedded, embeddedServer{server: srv, transport: t})
		config.Servers = append(config.Servers, serverConfig.Endpoint)
	}

	if err := cacheClient.Close(); err != nil {
		return err
	}
	c, err := client.NewCacheClient(*config, local.NewLocalClientTransport())
	if err != nil {
		return err
	}
	cacheClient = c
	return nil
}

// stopEmbedded closes the in-process servers, the client is closed by the kv hook
func stopEmbedded(*cobra.Command, []string) error {
	for _, e := range embedded {
		_ = e.transport.Close()
		e.server.Close()
	}
	embedded = nil
	return nil
}

func benchmarks() []benchmark {
	small := []byte("test")
	large := make([]byte, perfLargeValueSizeKB*1024)
	fill := func(ctx context.Context, keys []string) {
		for _, k := range keys {
			if _, err := cacheClient.Set(ctx, k, small, 0, 0); err != nil {
				log.Printf("error setting key %s: %v\n", k, err)
			}
		}
	}

	return []benchmark{
		{
			name: "set",
			op: func(ctx context.Context, key string, _ int) error {
				_, err := cacheClient.Set(ctx, key, small, 0, 0)
				return err
			},
		},
		{
			name: "set-large",
			op: func(ctx context.Context, key string, _ int) error {
				_, err := cacheClient.Set(ctx, key, large, 0, 0)
				return err
			},
		},
		{
			name:    "get",
			prepare: fill,
			op: func(ctx context.Context, key string, _ int) error {
				_, err := cacheClient.Get(ctx, key)
				return err
			},
		},
		{
			name: "get-miss",
			op: func(ctx context.Context, key string, _ int) error {
				_, err := cacheClient.Get(ctx, key)
				return err
			},
		},
		{
			name:    "mget",
			prepare: fill,
			op: func(ctx context.Context, key string, i int) error {
				keys := make([]string, 0, 10)
				for j := 0; j < 10; j++ {
					keys = append(keys, fmt.Sprintf("%s-mget-%d", perfKeyPrefix, (i+j)%perfKeySpread))
				}
				_, err := cacheClient.GetMulti(ctx, keys)
				return err
			},
		},
		{
			name: "incr",
			op: func(ctx context.Context, key string, _ int) error {
				if _, ok, err := cacheClient.Incr(ctx, key, 1); err != nil || ok {
					return err
				}
				_, err := cacheClient.Add(ctx, key, []byte("0"), 0, 0)
				return err
			},
		},
		{
			name:    "delete",
			prepare: fill,
			op: func(ctx context.Context, key string, _ int) error {
				_, err := cacheClient.Delete(ctx, key)
				return err
			},
		},
		{
			name:    "mixed",
			prepare: fill,
			op: func(ctx context.Context, key string, i int) error {
				var err error
				switch i % 4 {
				case 0:
					_, err = cacheClient.Set(ctx, key, small, 0, 0)
				case 1:
					_, err = cacheClient.Get(ctx, key)
				case 2:
					_, err = cacheClient.Delete(ctx, key)
				case 3:
					_, err = cacheClient.Add(ctx, key, small, 0, 0)
				}
				return err
			},
		},
	}
}

func run(cmd *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for memcached servers")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("staring tests...")

	timeout := time.Duration(max(1, viper.GetInt("timeout"))) * time.Second
	results := make([]perfResult, 0)

	for _, bm := range benchmarks() {
		timer := gometrics.GetOrRegisterTimer(bm.name, latencies)
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(bm.name) {
				return
			}

			keys := getKeys(bm.name)
			ctx := cmd.Context()

			if bm.prepare != nil {
				bm.prepare(ctx, keys)
			}

			b.Cleanup(func() {
				for _, k := range keys {
					if _, err := cacheClient.Delete(ctx, k); err != nil {
						log.Printf("(%s) - error deleting key: %v\n", bm.name, err)
					}
				}
			})

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					opCtx, cancel := context.WithTimeout(ctx, timeout)
					start := time.Now()
					err := bm.op(opCtx, keys[counter%len(keys)], counter)
					timer.UpdateSince(start)
					cancel()
					if err != nil {
						log.Printf("(%s) - error: %v\n", bm.name, err)
					}
					counter++
				}
			})
		})

		results = append(results, perfResult{name: bm.name, result: result, timer: timer})
		printResult(bm.name, result, timer)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// getKeys creates the key set of one benchmark
func getKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}
	return keys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult, timer gometrics.Timer) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	p := timer.Snapshot().Percentiles([]float64{0.5, 0.99})

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50=%s p99=%s\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec, time.Duration(p[0]), time.Duration(p[1]))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50Ns", "P99Ns", "Skipped",
		"Servers", "Distribution", "Hash", "Binary", "TimeoutSec", "ConnectionsPerServer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, r := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if r.result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(r.result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}
		p := r.timer.Snapshot().Percentiles([]float64{0.5, 0.99})

		row := []string{
			r.name,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			fmt.Sprintf("%.0f", p[0]),
			fmt.Sprintf("%.0f", p[1]),
			skipped,
			strings.Join(config.Servers, ";"),
			config.ResolvedDistribution(),
			config.Hash,
			strconv.FormatBool(config.Binary),
			strconv.Itoa(config.Timeout()),
			strconv.Itoa(config.PoolSize()),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", r.name, err)
		}
	}

	return nil
}
