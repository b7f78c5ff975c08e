package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/KevoDB/blockq/pkg/common/log"
)

var (
	// Command line flags
	sizes        = flag.String("sizes", "8,16,32,48", "Comma-separated S sizes in blocks; R is half of S")
	dataDir      = flag.String("data-dir", "", "Directory for file-backed disks (empty for in-memory)")
	seed         = flag.Int64("seed", 1, "Seed for generated relations")
	lookups      = flag.Int("lookups", 10, "Index selections per size")
	cacheEntries = flag.Int64("index-cache", 0, "Index cache entries (0 disables the cache)")
	logLevel     = flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	cpuProfile   = flag.String("cpu-profile", "", "Write CPU profile to file")
	resultsFile  = flag.String("results", "", "CSV file to write results to (in addition to stdout)")
)

func main() {
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := log.NewStandardLogger(log.WithLevel(level), log.WithOutput(os.Stderr))

	sBlocks, err := parseSizes(*sizes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("I/O Cost Report (%s)\n", time.Now().Format(time.RFC3339))
	fmt.Printf("Sizes: %v, Lookups: %d, Index cache: %d\n", sBlocks, *lookups, *cacheEntries)

	ctx := context.Background()
	var results []BenchmarkResult
	for _, n := range sBlocks {
		suite, err := runSuite(ctx, suiteOptions{
			SBlocks:      n,
			DataDir:      *dataDir,
			Seed:         *seed,
			Lookups:      *lookups,
			CacheEntries: *cacheEntries,
			Logger:       logger,
		})
		results = append(results, suite...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Suite with %d S blocks failed: %v\n", n, err)
		}
	}

	PrintResultTable(os.Stdout, results)

	if *resultsFile != "" {
		if err := SaveResultCSV(results, *resultsFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write results: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Results saved to %s\n", *resultsFile)
	}
}

// parseSizes parses the comma-separated list of S sizes
func parseSizes(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid size %q", part)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no sizes given")
	}
	return out, nil
}
