// ABOUTME: Engine-level telemetry for query operations, block transfers and index cache behaviour
// ABOUTME: Provides per-operation duration, I/O, tuple and error metrics plus a no-op implementation

package engine

import (
	"context"
	"time"

	"github.com/KevoDB/blockq/pkg/buffer"
	"github.com/KevoDB/blockq/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Metric names emitted by the engine
const (
	metricOperationDuration = "blockq.engine.operation.duration"
	metricOperationCount    = "blockq.engine.operation.count"
	metricIOBlocks          = "blockq.engine.io.blocks"
	metricTuples            = "blockq.engine.tuples"
	metricErrors            = "blockq.engine.errors"
	metricIndexCache        = "blockq.engine.index_cache.lookups"
)

// EngineMetrics defines the interface for engine-level telemetry
type EngineMetrics interface {
	telemetry.ComponentMetrics

	// RecordOperation records duration and outcome of one engine operation
	RecordOperation(ctx context.Context, op string, duration time.Duration, err error)

	// RecordIO records the block transfers one operation was charged
	RecordIO(ctx context.Context, op string, io buffer.IOStats)

	// RecordTuples records the tuples an operation produced
	RecordTuples(ctx context.Context, op string, n int)

	// RecordIndexCache records a decoded index cache lookup
	RecordIndexCache(ctx context.Context, hit bool)
}

// engineMetrics implements EngineMetrics using the telemetry interface
type engineMetrics struct {
	tel telemetry.Telemetry
}

// NewEngineMetrics creates a new EngineMetrics instance
func NewEngineMetrics(tel telemetry.Telemetry) EngineMetrics {
	if tel == nil {
		return NewNoopEngineMetrics()
	}
	return &engineMetrics{
		tel: tel,
	}
}

// NewNoopEngineMetrics creates a no-op EngineMetrics for testing or when telemetry is disabled
func NewNoopEngineMetrics() EngineMetrics {
	return &noopEngineMetrics{}
}

func (m *engineMetrics) RecordOperation(ctx context.Context, op string, duration time.Duration, err error) {
	status := telemetry.StatusSuccess
	if err != nil {
		status = telemetry.StatusError
	}

	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrOperationType, op),
		attribute.String(telemetry.AttrStatus, status),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentEngine),
	}
	telemetry.RecordDuration(ctx, m.tel, metricOperationDuration, duration, attrs...)
	m.tel.RecordCounter(ctx, metricOperationCount, 1, attrs...)

	if err != nil {
		m.tel.RecordCounter(ctx, metricErrors, 1,
			attribute.String(telemetry.AttrOperationType, op),
			attribute.String(telemetry.AttrErrorType, errorType(err)),
		)
	}
}

func (m *engineMetrics) RecordIO(ctx context.Context, op string, io buffer.IOStats) {
	telemetry.RecordBlocks(ctx, m.tel, metricIOBlocks, io.Reads,
		attribute.String(telemetry.AttrOperationType, op),
		attribute.String(telemetry.AttrDirection, telemetry.DirectionRead),
	)
	telemetry.RecordBlocks(ctx, m.tel, metricIOBlocks, io.Writes,
		attribute.String(telemetry.AttrOperationType, op),
		attribute.String(telemetry.AttrDirection, telemetry.DirectionWrite),
	)
}

func (m *engineMetrics) RecordTuples(ctx context.Context, op string, n int) {
	m.tel.RecordCounter(ctx, metricTuples, int64(n),
		attribute.String(telemetry.AttrOperationType, op),
	)
}

func (m *engineMetrics) RecordIndexCache(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.tel.RecordCounter(ctx, metricIndexCache, 1,
		attribute.String("cache.result", result),
	)
}

// Close releases resources held by the metrics implementation
func (m *engineMetrics) Close() error {
	return nil
}

// noopEngineMetrics provides a no-op implementation
type noopEngineMetrics struct{}

func (m *noopEngineMetrics) RecordOperation(ctx context.Context, op string, duration time.Duration, err error) {
}
func (m *noopEngineMetrics) RecordIO(ctx context.Context, op string, io buffer.IOStats) {}
func (m *noopEngineMetrics) RecordTuples(ctx context.Context, op string, n int)         {}
func (m *noopEngineMetrics) RecordIndexCache(ctx context.Context, hit bool)             {}
func (m *noopEngineMetrics) Close() error                                               { return nil }
