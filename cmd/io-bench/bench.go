package main

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/KevoDB/blockq/pkg/common/log"
	"github.com/KevoDB/blockq/pkg/config"
	"github.com/KevoDB/blockq/pkg/engine"
	"github.com/KevoDB/blockq/pkg/relation"
	"github.com/KevoDB/blockq/pkg/tuple"
)

// Block layout of one suite run
const (
	rBase           = 1
	sortedRBase     = 1000
	sortedSBase     = 1100
	indexBase       = 1200
	selectBase      = 1300
	indexSelectBase = 1400
	differenceBase  = 1500
	joinBase        = 3000
)

// Key domains of the generated relations
const (
	rLo, rHi = 100, 140
	sLo, sHi = 120, 160
	maxB     = 999
)

// suiteOptions configures one benchmark suite run
type suiteOptions struct {
	SBlocks      int
	DataDir      string
	Seed         int64
	Lookups      int
	CacheEntries int64
	Logger       log.Logger
}

// runSuite loads R and S at the given size and measures every operation
func runSuite(ctx context.Context, opts suiteOptions) ([]BenchmarkResult, error) {
	rBlocks := opts.SBlocks / 2
	if rBlocks < 1 {
		rBlocks = 1
	}

	cfg := config.NewDefaultConfig("")
	if opts.DataDir != "" {
		cfg.DataDir = filepath.Join(opts.DataDir, fmt.Sprintf("s%d", opts.SBlocks))
	}
	cfg.IndexCacheEntries = opts.CacheEntries

	logger := opts.Logger
	if logger == nil {
		logger = log.NewDiscardLogger()
	}
	eng, err := engine.Open(cfg, engine.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer eng.Close()

	var results []BenchmarkResult
	record := func(op string, res engine.Result) {
		results = append(results, BenchmarkResult{
			Operation: op,
			RBlocks:   rBlocks,
			SBlocks:   opts.SBlocks,
			Count:     res.Count,
			Reads:     res.IO.Reads,
			Writes:    res.IO.Writes,
			Duration:  float64(res.Duration.Microseconds()) / 1000.0,
			Timestamp: time.Now(),
		})
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	rRes, err := eng.Load(ctx, rBase, relation.Generate(rng, rBlocks*tuple.TuplesPerBlock, rLo, rHi, maxB))
	if err != nil {
		return results, err
	}
	sRes, err := eng.Load(ctx, rBase+rBlocks, relation.Generate(rng, opts.SBlocks*tuple.TuplesPerBlock, sLo, sHi, maxB))
	if err != nil {
		return results, err
	}

	key := sLo + rng.Intn(sHi-sLo+1)
	res, err := eng.Select(ctx, sRes.Output, key, selectBase)
	if err != nil {
		return results, err
	}
	record("select", res)

	sortedR, err := eng.Sort(ctx, rRes.Output, sortedRBase)
	if err != nil {
		return results, err
	}
	record("sort_r", sortedR)

	sortedS, err := eng.Sort(ctx, sRes.Output, sortedSBase)
	if err != nil {
		return results, err
	}
	record("sort_s", sortedS)

	idx, res, err := eng.BuildIndex(ctx, sortedS.Output, indexBase)
	if err != nil {
		return results, err
	}
	record("build_index", res)

	// Index lookups are summed so the cache effect shows in one row
	var total engine.Result
	for i := 0; i < opts.Lookups; i++ {
		res, err := eng.IndexSelect(ctx, idx, sLo+rng.Intn(sHi-sLo+1), indexSelectBase)
		if err != nil {
			return results, err
		}
		total.Count += res.Count
		total.IO = total.IO.Add(res.IO)
		total.Duration += res.Duration
	}
	if opts.Lookups > 0 {
		record("index_select", total)
	}

	res, err = eng.Join(ctx, sortedR.Output, sortedS.Output, joinBase)
	if err != nil {
		return results, err
	}
	record("join", res)

	res, err = eng.Difference(ctx, sortedR.Output, sortedS.Output, differenceBase)
	if err != nil {
		return results, err
	}
	record("difference", res)

	return results, nil
}
