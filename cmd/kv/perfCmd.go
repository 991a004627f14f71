package kv

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/ixmap/cmd/util"
	"github.com/ValentinKolb/ixmap/lib/store"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the map",
		Long:    "Runs benchmarks against the configured map. All keys written by the benchmarks are removed afterwards.",
		RunE:    withMap(run),
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfRandomPuts       = 10000
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "random-puts"
	perfTestCmd.Flags().Int(key, 10000, util.WrapString("How many sequential puts with random keys the put-random test should make"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfRandomPuts = viper.GetInt("random-puts")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// perfResult is the result of a single benchmark
type perfResult struct {
	bench   testing.BenchmarkResult
	latency metrics.Timer
}

func run(m store.IMap[string, any], conf *util.Config, _ []string) error {

	fmt.Println("Performance testing tool for the map")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(conf.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	registry := metrics.NewRegistry()
	defer registry.UnregisterAll()

	results := make(map[string]perfResult)
	var names []string
	record := func(name string, r perfResult) {
		results[name] = r
		names = append(names, name)
		printResult(name, r)
	}

	largeValue := strings.Repeat("x", perfLargeValueSizeKB*1024)

	record("put", benchmark(m, registry, "put", nil, func(key string, i int) error {
		_, _, err := m.Put(key, "test")
		return err
	}))

	record("put-large", benchmark(m, registry, "put-large", nil, func(key string, i int) error {
		_, _, err := m.Put(key, largeValue)
		return err
	}))

	record("get", benchmark(m, registry, "get", fillKeys, func(key string, i int) error {
		_, _, err := m.Get(key)
		return err
	}))

	record("has", benchmark(m, registry, "has", fillKeys, func(key string, i int) error {
		_, err := m.ContainsKey(key)
		return err
	}))

	record("delete", benchmark(m, registry, "delete", fillKeys, func(key string, i int) error {
		_, _, err := m.Remove(key)
		return err
	}))

	record("mixed", benchmark(m, registry, "mixed", fillKeys, func(key string, i int) error {
		var err error
		switch i % 4 {
		case 0: // put
			_, _, err = m.Put(key, "test")
		case 1: // get
			_, _, err = m.Get(key)
		case 2: // delete
			_, _, err = m.Remove(key)
		case 3: // has
			_, err = m.ContainsKey(key)
		}
		return err
	}))

	if !shouldSkip("put-random") {
		r, err := putRandom(m, registry)
		if err != nil {
			return err
		}
		record("put-random", r)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, names, results, conf); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// benchmark runs op in parallel on the keys of the test. prepare (optional)
// runs before the timer starts, the keys are removed afterwards.
func benchmark(m store.IMap[string, any], registry metrics.Registry, test string,
	prepare func(m store.IMap[string, any], test string, keys []string),
	op func(key string, i int) error) perfResult {

	timer := metrics.GetOrRegisterTimer(test, registry)
	if shouldSkip(test) {
		return perfResult{latency: timer}
	}

	keys := getKeys(test)
	result := testing.Benchmark(func(b *testing.B) {
		if prepare != nil {
			prepare(m, test, keys)
		}

		// cleanup
		b.Cleanup(func() {
			for _, k := range keys {
				if _, _, err := m.Remove(k); err != nil {
					plog.Warningf("(%s) - error deleting key: %v", test, err)
				}
			}
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := rand.Intn(perfKeySpread)
			for pb.Next() {
				start := time.Now()
				if err := op(keys[counter%perfKeySpread], counter); err != nil {
					plog.Errorf("(%s) - error performing operation: %v", test, err)
				}
				timer.UpdateSince(start)
				counter++
			}
		})
	})

	return perfResult{bench: result, latency: timer}
}

// putRandom makes perfRandomPuts sequential puts with distinct random keys
// and checks that all of them are visible after a refresh.
func putRandom(m store.IMap[string, any], registry metrics.Registry) (perfResult, error) {
	timer := metrics.GetOrRegisterTimer("put-random", registry)

	before, err := m.Size()
	if err != nil {
		return perfResult{}, err
	}

	keys := make(map[string]struct{}, perfRandomPuts)
	start := time.Now()
	for len(keys) < perfRandomPuts {
		key := fmt.Sprintf("%s-put-random-%016x", perfKeyPrefix, rand.Uint64())
		if _, ok := keys[key]; ok {
			continue
		}
		keys[key] = struct{}{}

		opStart := time.Now()
		if _, _, err := m.Put(key, key); err != nil {
			return perfResult{}, err
		}
		timer.UpdateSince(opStart)
	}
	elapsed := time.Since(start)

	if err := m.Refresh(); err != nil {
		return perfResult{}, err
	}
	after, err := m.Size()
	if err != nil {
		return perfResult{}, err
	}
	if after-before != perfRandomPuts {
		plog.Errorf("(put-random) - expected %d new entries, found %d", perfRandomPuts, after-before)
	}

	// cleanup
	for key := range keys {
		if _, _, err := m.Remove(key); err != nil {
			plog.Warningf("(put-random) - error deleting key: %v", err)
		}
	}

	return perfResult{
		bench:   testing.BenchmarkResult{N: perfRandomPuts, T: elapsed},
		latency: timer,
	}, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// creates an array of test keys
func getKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}
	return keys
}

// fillKeys puts a value for every key
func fillKeys(m store.IMap[string, any], test string, keys []string) {
	for _, k := range keys {
		if _, _, err := m.Put(k, "test"); err != nil {
			plog.Warningf("(%s) - error setting key: %v", test, err)
		}
	}
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result perfResult) {
	if result.bench.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	snapshot := result.latency.Snapshot()
	ps := snapshot.Percentiles([]float64{0.5, 0.99})

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50=%s p99=%s max=%s\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec,
		time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(snapshot.Max()))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, names []string, results map[string]perfResult, conf *util.Config) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50", "P99", "Skipped",
		"Dir", "Consistency", "Codec",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for _, test := range names {
		result := results[test]

		var nsPerOp, opsPerSec float64
		var p50, p99 time.Duration
		skipped := "true"

		if result.bench.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.bench.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
			ps := result.latency.Snapshot().Percentiles([]float64{0.5, 0.99})
			p50, p99 = time.Duration(ps[0]), time.Duration(ps[1])
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			p50.String(),
			p99.String(),
			skipped,
			conf.Dir,
			conf.Consistency.String(),
			conf.Codec,
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
