// Package engine ties the block store, buffer pool and query algorithms into a
// single facade. Every operation runs against a fresh buffer pool, so the I/O
// it reports is exactly the block transfers that operation performed.
package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/KevoDB/blockq/pkg/buffer"
	"github.com/KevoDB/blockq/pkg/common/log"
	"github.com/KevoDB/blockq/pkg/config"
	"github.com/KevoDB/blockq/pkg/disk"
	"github.com/KevoDB/blockq/pkg/relation"
	"github.com/KevoDB/blockq/pkg/selection"
	"github.com/KevoDB/blockq/pkg/stats"
	"github.com/KevoDB/blockq/pkg/telemetry"
)

// Result describes one completed engine operation
type Result struct {
	// Op names the operation
	Op stats.OperationType
	// Count is the operation's primary count: tuples written, runs produced,
	// index entries, join pairs or snapshot blocks
	Count int
	// IO is the block transfers charged to the operation
	IO buffer.IOStats
	// Output is the range of blocks the operation wrote
	Output relation.Relation
	// Duration is the wall time of the operation
	Duration time.Duration
}

// Engine runs query operations over one block store. It is safe for concurrent
// use; operations are serialized.
type Engine struct {
	cfg     *config.Config
	disk    disk.Disk
	ownDisk bool

	logger  log.Logger
	stats   stats.Collector
	tel     telemetry.Telemetry
	metrics EngineMetrics

	// Decoded index entries keyed by index base block; nil when disabled
	cache   *ristretto.Cache[int, cachedIndex]
	indexed map[int]selection.Index

	codec disk.Codec

	mu     sync.Mutex
	closed atomic.Bool
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTelemetry sets the telemetry used for spans and engine metrics
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(e *Engine) {
		e.tel = tel
	}
}

// WithStats sets the statistics collector
func WithStats(collector stats.Collector) Option {
	return func(e *Engine) {
		e.stats = collector
	}
}

// WithDisk runs the engine over d instead of the disk selected by the
// configuration. The caller keeps ownership of d.
func WithDisk(d disk.Disk) Option {
	return func(e *Engine) {
		e.disk = d
	}
}

// Open validates cfg and opens an engine over the disk it selects: an
// in-memory disk when DataDir is empty, a file disk otherwise.
func Open(cfg *config.Config, options ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	codec, err := disk.ParseCodec(cfg.SnapshotCodec)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		codec:   codec,
		indexed: make(map[int]selection.Index),
	}
	for _, option := range options {
		option(e)
	}

	if e.logger == nil {
		level, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		e.logger = log.NewStandardLogger(log.WithLevel(level))
	}
	e.logger = e.logger.WithField("component", telemetry.ComponentEngine)

	if e.stats == nil {
		e.stats = stats.NewAtomicCollector()
	}
	if e.tel == nil {
		e.tel = telemetry.NewNoop()
	}
	e.metrics = NewEngineMetrics(e.tel)

	if e.disk == nil {
		if cfg.DataDir == "" {
			e.disk = disk.NewMemDisk()
		} else {
			fd, err := disk.OpenFileDisk(cfg.DataDir, disk.WithChecksums(cfg.Checksums))
			if err != nil {
				return nil, fmt.Errorf("failed to open disk: %w", err)
			}
			e.disk = fd
		}
		e.ownDisk = true
	}

	if cfg.IndexCacheEntries > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[int, cachedIndex]{
			NumCounters:        cfg.IndexCacheEntries * 10,
			MaxCost:            cfg.IndexCacheEntries,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			e.closeDisk()
			return nil, fmt.Errorf("failed to create index cache: %w", err)
		}
		e.cache = cache
	}

	e.logger.Info("engine opened: pool capacity %d, run blocks %d, max fan-in %d, index cache %d",
		cfg.PoolCapacity, cfg.RunBlocks, cfg.MaxFanIn, cfg.IndexCacheEntries)
	return e, nil
}

// Disk returns the block store the engine runs over
func (e *Engine) Disk() disk.Disk {
	return e.disk
}

// Config returns the engine configuration
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Stats returns the collected engine statistics
func (e *Engine) Stats() map[string]interface{} {
	return e.stats.GetStats()
}

// Close releases the index cache and, when the engine opened it, the disk
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cache != nil {
		e.cache.Close()
	}
	if err := e.metrics.Close(); err != nil {
		e.logger.Warn("failed to close engine metrics: %v", err)
	}
	return e.closeDisk()
}

func (e *Engine) closeDisk() error {
	if !e.ownDisk {
		return nil
	}
	return e.disk.Close()
}

// newPool allocates the pool for one operation. Writes observed through it
// evict cached indexes that cover the written block.
func (e *Engine) newPool() (*buffer.Pool, error) {
	return buffer.New(e.disk, e.cfg.PoolCapacity,
		buffer.WithLogger(e.logger),
		buffer.WithIOObserver(func(write bool, id int) {
			if write {
				e.invalidate(id)
			}
		}),
	)
}

// run executes fn against a fresh pool under the engine lock and records the
// outcome in logs, stats and telemetry.
func (e *Engine) run(ctx context.Context, op stats.OperationType, attrs []attribute.KeyValue,
	fn func(ctx context.Context, pool *buffer.Pool) (Result, error)) (Result, error) {
	if e.closed.Load() {
		return Result{Op: op}, fmt.Errorf("%s: %w", op, ErrEngineClosed)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tel.StartSpan(ctx, "blockq.engine."+string(op), attrs...)
	defer span.End()

	start := time.Now()
	pool, err := e.newPool()
	if err != nil {
		return e.finish(ctx, span, op, start, Result{Op: op}, err)
	}
	res, err := fn(ctx, pool)
	pool.Close()
	res.IO = res.IO.Add(pool.IO())
	return e.finish(ctx, span, op, start, res, err)
}

func (e *Engine) finish(ctx context.Context, span trace.Span, op stats.OperationType, start time.Time,
	res Result, err error) (Result, error) {
	res.Op = op
	res.Duration = time.Since(start)

	e.stats.TrackOperationWithLatency(op, uint64(res.Duration.Nanoseconds()))
	e.stats.TrackIO(op, res.IO.Reads, res.IO.Writes)
	e.metrics.RecordOperation(ctx, string(op), res.Duration, err)
	e.metrics.RecordIO(ctx, string(op), res.IO)

	span.SetAttributes(
		attribute.Int("io.reads", int(res.IO.Reads)),
		attribute.Int("io.writes", int(res.IO.Writes)),
		attribute.Int("result.count", res.Count),
	)

	if err != nil {
		e.stats.TrackError(errorType(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("%s failed after %s: %v", op, res.IO, err)
		return res, fmt.Errorf("%s: %w", op, err)
	}

	e.stats.TrackTuples(op, uint64(res.Count))
	e.metrics.RecordTuples(ctx, string(op), res.Count)
	e.logger.Info("%s: count %d, output %v, %s, %s", op, res.Count, res.Output, res.IO, res.Duration)
	return res, nil
}

// Snapshot writes every stored block to w using the configured codec
func (e *Engine) Snapshot(ctx context.Context, w io.Writer) (Result, error) {
	return e.run(ctx, stats.OpSnapshot, nil, func(ctx context.Context, pool *buffer.Pool) (Result, error) {
		n, err := disk.WriteSnapshot(e.disk, w, e.codec)
		if err == nil {
			e.stats.TrackSnapshot(false, uint64(n))
		}
		return Result{Count: n, IO: buffer.IOStats{Reads: uint64(n)}}, err
	})
}

// Restore loads every block from a snapshot in r, overwriting blocks with the
// same ids. Cached indexes are dropped.
func (e *Engine) Restore(ctx context.Context, r io.Reader) (Result, error) {
	return e.run(ctx, stats.OpRestore, nil, func(ctx context.Context, pool *buffer.Pool) (Result, error) {
		e.dropCache()
		n, err := disk.ReadSnapshot(e.disk, r)
		if err == nil {
			e.stats.TrackSnapshot(true, uint64(n))
		}
		return Result{Count: n, IO: buffer.IOStats{Writes: uint64(n)}}, err
	})
}
