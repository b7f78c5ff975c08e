// ABOUTME: Core telemetry abstraction interface over OpenTelemetry for blockq engine instrumentation
// ABOUTME: Provides metric recording, tracing, and lifecycle management with a no-op implementation

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides the core abstraction over OpenTelemetry for blockq components.
// Components use this interface to record metrics and spans without depending directly on OpenTelemetry.
type Telemetry interface {
	// RecordHistogram records a histogram value with optional attributes.
	RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue)

	// RecordCounter records a counter increment with optional attributes.
	RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue)

	// StartSpan creates a new tracing span with the given name and attributes.
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)

	// Shutdown gracefully shuts down all telemetry providers and exports remaining data.
	Shutdown(ctx context.Context) error
}

// ComponentMetrics is a marker interface for component-specific metrics interfaces.
type ComponentMetrics interface {
	// Close releases any resources held by the metrics implementation.
	Close() error
}

// NoopTelemetry provides a no-operation implementation of Telemetry for testing or disabled scenarios.
type NoopTelemetry struct{}

// NewNoop creates a new no-operation telemetry instance.
func NewNoop() Telemetry {
	return &NoopTelemetry{}
}

// RecordHistogram is a no-op.
func (n *NoopTelemetry) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
}

// RecordCounter is a no-op.
func (n *NoopTelemetry) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
}

// StartSpan returns the original context and a no-op span.
func (n *NoopTelemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

// Shutdown is a no-op.
func (n *NoopTelemetry) Shutdown(ctx context.Context) error {
	return nil
}

// RecordDuration records d in seconds in the named histogram.
func RecordDuration(ctx context.Context, tel Telemetry, name string, d time.Duration, attrs ...attribute.KeyValue) {
	tel.RecordHistogram(ctx, name, d.Seconds(), attrs...)
}

// RecordBlocks is a helper function to record block transfers in a counter.
func RecordBlocks(ctx context.Context, tel Telemetry, name string, blocks uint64, attrs ...attribute.KeyValue) {
	tel.RecordCounter(ctx, name, int64(blocks), attrs...)
}

// Common attribute keys for consistent naming across components
const (
	// Operation type attributes
	AttrOperationType = "operation.type"

	// Component attributes
	AttrComponent = "component"

	// Status attributes
	AttrStatus    = "status"
	AttrErrorType = "error.type"

	// Transfer attributes
	AttrDirection = "io.direction"

	// Relation attributes
	AttrRelationStart = "relation.start"
	AttrRelationEnd   = "relation.end"
	AttrOutputBase    = "output.base"
	AttrKey           = "key"
)

// Common attribute values
const (
	// Transfer directions
	DirectionRead  = "read"
	DirectionWrite = "write"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Component names
	ComponentEngine = "engine"
	ComponentBuffer = "buffer"
	ComponentDisk   = "disk"
)
