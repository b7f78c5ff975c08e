package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/blockq/pkg/buffer"
	"github.com/KevoDB/blockq/pkg/extsort"
	"github.com/KevoDB/blockq/pkg/join"
	"github.com/KevoDB/blockq/pkg/relation"
	"github.com/KevoDB/blockq/pkg/selection"
	"github.com/KevoDB/blockq/pkg/stats"
	"github.com/KevoDB/blockq/pkg/telemetry"
	"github.com/KevoDB/blockq/pkg/tuple"
)

// Range is the candidate block range an index lookup resolved
type Range struct {
	Lo, Hi int
	// Found is false when no block can hold the key
	Found bool
}

func relationAttrs(rel relation.Relation) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(telemetry.AttrRelationStart, rel.Start),
		attribute.Int(telemetry.AttrRelationEnd, rel.End),
	}
}

// Load packs tuples into consecutive blocks from base
func (e *Engine) Load(ctx context.Context, base int, tuples []tuple.Tuple) (Result, error) {
	attrs := []attribute.KeyValue{attribute.Int(telemetry.AttrOutputBase, base)}
	return e.run(ctx, stats.OpLoad, attrs, func(ctx context.Context, pool *buffer.Pool) (Result, error) {
		out, err := relation.Load(pool, base, tuples)
		if err != nil {
			return Result{Output: out}, err
		}
		return Result{Count: len(tuples), Output: out}, nil
	})
}

// Dump returns every live tuple of rel in block then slot order
func (e *Engine) Dump(ctx context.Context, rel relation.Relation) ([]tuple.Tuple, Result, error) {
	var tuples []tuple.Tuple
	res, err := e.run(ctx, stats.OpDump, relationAttrs(rel), func(ctx context.Context, pool *buffer.Pool) (Result, error) {
		var err error
		tuples, err = relation.ReadAll(pool, rel)
		return Result{Count: len(tuples)}, err
	})
	return tuples, res, err
}

// Select writes the tuples of rel with A == key to blocks from dst
func (e *Engine) Select(ctx context.Context, rel relation.Relation, key, dst int) (Result, error) {
	attrs := append(relationAttrs(rel),
		attribute.Int(telemetry.AttrKey, key),
		attribute.Int(telemetry.AttrOutputBase, dst),
	)
	return e.run(ctx, stats.OpSelect, attrs, func(ctx context.Context, pool *buffer.Pool) (Result, error) {
		sel, err := selection.SelectEquals(pool, rel, key, dst)
		return Result{Count: sel.Count, Output: sel.Output}, err
	})
}

// SortRuns sorts rel in place as runs of the configured size and returns them
func (e *Engine) SortRuns(ctx context.Context, rel relation.Relation) ([]relation.Relation, Result, error) {
	var runs []relation.Relation
	res, err := e.run(ctx, stats.OpSortRuns, relationAttrs(rel), func(ctx context.Context, pool *buffer.Pool) (Result, error) {
		var err error
		runs, err = extsort.SortRuns(pool, rel, e.cfg.RunBlocks)
		return Result{Count: len(runs), Output: rel}, err
	})
	return runs, res, err
}

// Merge merges sorted runs in one pass into blocks from dst
func (e *Engine) Merge(ctx context.Context, runs []relation.Relation, dst int) (Result, error) {
	attrs := []attribute.KeyValue{
		attribute.Int("merge.runs", len(runs)),
		attribute.Int(telemetry.AttrOutputBase, dst),
	}
	return e.run(ctx, stats.OpMerge, attrs, func(ctx context.Context, pool *buffer.Pool) (Result, error) {
		out, n, err := extsort.MergeRuns(pool, runs, dst, e.cfg.MaxFanIn)
		return Result{Count: n, Output: out}, err
	})
}

// Sort runs both sort phases over rel, leaving the sorted copy from dst
func (e *Engine) Sort(ctx context.Context, rel relation.Relation, dst int) (Result, error) {
	attrs := append(relationAttrs(rel), attribute.Int(telemetry.AttrOutputBase, dst))
	return e.run(ctx, stats.OpSort, attrs, func(ctx context.Context, pool *buffer.Pool) (Result, error) {
		out, n, err := extsort.Sort(pool, rel, dst, e.cfg.RunBlocks, e.cfg.MaxFanIn)
		return Result{Count: n, Output: out}, err
	})
}

// BuildIndex writes a sparse index over sorted to blocks from indexBase
func (e *Engine) BuildIndex(ctx context.Context, sorted relation.Relation, indexBase int) (selection.Index, Result, error) {
	var idx selection.Index
	attrs := append(relationAttrs(sorted), attribute.Int(telemetry.AttrOutputBase, indexBase))
	res, err := e.run(ctx, stats.OpBuildIndex, attrs, func(ctx context.Context, pool *buffer.Pool) (Result, error) {
		var err error
		idx, err = selection.BuildIndex(pool, sorted, indexBase)
		return Result{Count: idx.Entries, Output: idx.Blocks}, err
	})
	return idx, res, err
}

// FindRange resolves the data blocks that may hold tuples with A == target
func (e *Engine) FindRange(ctx context.Context, idx selection.Index, target int) (Range, Result, error) {
	var r Range
	attrs := append(relationAttrs(idx.Blocks), attribute.Int(telemetry.AttrKey, target))
	res, err := e.run(ctx, stats.OpFindRange, attrs, func(ctx context.Context, pool *buffer.Pool) (Result, error) {
		var err error
		r.Lo, r.Hi, r.Found, err = e.findRange(ctx, pool, idx, target)
		count := 0
		if r.Found {
			count = r.Hi - r.Lo + 1
		}
		return Result{Count: count}, err
	})
	return r, res, err
}

// IndexSelect selects tuples with A == target from the candidate blocks the
// index resolves, writing them to blocks from dst
func (e *Engine) IndexSelect(ctx context.Context, idx selection.Index, target, dst int) (Result, error) {
	attrs := append(relationAttrs(idx.Data),
		attribute.Int(telemetry.AttrKey, target),
		attribute.Int(telemetry.AttrOutputBase, dst),
	)
	return e.run(ctx, stats.OpIndexSelect, attrs, func(ctx context.Context, pool *buffer.Pool) (Result, error) {
		lo, hi, ok, err := e.findRange(ctx, pool, idx, target)
		if err != nil {
			return Result{Output: relation.Empty(dst)}, err
		}
		sel, err := selection.SelectRange(pool, idx, lo, hi, ok, target, dst)
		return Result{Count: sel.Count, Output: sel.Output}, err
	})
}

// Join writes the matching (r, s) pairs of two sorted relations to blocks from dst
func (e *Engine) Join(ctx context.Context, r, s relation.Relation, dst int) (Result, error) {
	attrs := []attribute.KeyValue{
		attribute.String("join.left", r.String()),
		attribute.String("join.right", s.String()),
		attribute.Int(telemetry.AttrOutputBase, dst),
	}
	return e.run(ctx, stats.OpJoin, attrs, func(ctx context.Context, pool *buffer.Pool) (Result, error) {
		jr, err := join.Join(pool, r, s, dst)
		return Result{Count: jr.Count, Output: jr.Output}, err
	})
}

// Difference writes the tuples of s that do not appear in r to blocks from dst
func (e *Engine) Difference(ctx context.Context, r, s relation.Relation, dst int) (Result, error) {
	attrs := []attribute.KeyValue{
		attribute.String("join.left", r.String()),
		attribute.String("join.right", s.String()),
		attribute.Int(telemetry.AttrOutputBase, dst),
	}
	return e.run(ctx, stats.OpDifference, attrs, func(ctx context.Context, pool *buffer.Pool) (Result, error) {
		jr, err := join.Difference(pool, r, s, dst)
		return Result{Count: jr.Count, Output: jr.Output}, err
	})
}
