// Package extsort implements two-phase multiway merge sort over relations
// stored in fixed-size blocks.
//
// Phase one (SortRuns) loads groups of blocks, sorts each group in memory and
// writes it back in place, leaving a sequence of sorted runs. Phase two
// (MergeRuns) merges up to MaxFanIn runs in a single pass into a new range,
// choosing the next tuple through a one-block head cache that holds the
// current candidate of every run.
package extsort

import (
	"errors"
	"fmt"
	"sort"

	"github.com/KevoDB/blockq/pkg/buffer"
	"github.com/KevoDB/blockq/pkg/relation"
	"github.com/KevoDB/blockq/pkg/tuple"
)

const (
	// DefaultRunBlocks is the number of blocks sorted together in phase one
	DefaultRunBlocks = 6
	// MaxFanIn is the widest merge one head-cache block can drive
	MaxFanIn = tuple.SlotsPerBlock
)

var (
	// ErrFanInExceeded is returned when a single pass cannot merge every run
	ErrFanInExceeded = errors.New("merge fan-in exceeded")
	// ErrInvalidRunSize is returned for non-positive run sizes
	ErrInvalidRunSize = errors.New("invalid run size")
)

// RunCount returns ceil(blocks/runBlocks), the number of runs phase one
// produces for rel
func RunCount(rel relation.Relation, runBlocks int) int {
	if runBlocks <= 0 {
		return 0
	}
	return (rel.Blocks() + runBlocks - 1) / runBlocks
}

// SortRuns sorts rel in place as consecutive runs of at most runBlocks blocks.
// Within a run tuples are ordered by A with ties kept in their original order,
// packed from slot 0 of the run's first block. The input order is destroyed.
func SortRuns(pool *buffer.Pool, rel relation.Relation, runBlocks int) ([]relation.Relation, error) {
	if runBlocks <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRunSize, runBlocks)
	}
	if err := rel.Validate(); err != nil {
		return nil, err
	}
	if runBlocks > pool.Capacity() {
		return nil, fmt.Errorf("%w: run of %d blocks exceeds pool capacity %d",
			ErrInvalidRunSize, runBlocks, pool.Capacity())
	}

	groups := rel.Split(runBlocks)
	runs := make([]relation.Relation, 0, len(groups))
	for _, group := range groups {
		if err := sortGroup(pool, group); err != nil {
			return runs, err
		}
		runs = append(runs, group.AsSorted())
	}
	return runs, nil
}

func sortGroup(pool *buffer.Pool, group relation.Relation) error {
	blocks := make([]*buffer.Block, 0, group.Blocks())
	defer func() {
		for _, b := range blocks {
			pool.Release(b)
		}
	}()

	tuples := make([]tuple.Tuple, 0, group.Capacity())
	for id := group.Start; id <= group.End; id++ {
		b, err := pool.Read(id)
		if err != nil {
			return fmt.Errorf("failed to load run block: %w", err)
		}
		blocks = append(blocks, b)
		tuples = append(tuples, tuple.Live(b.Data())...)
	}

	sort.SliceStable(tuples, func(i, j int) bool {
		return tuples[i].A < tuples[j].A
	})

	// Write back to the same ids, advancing exactly as the reads did
	next := 0
	for i, b := range blocks {
		b.Clear()
		for slot := 0; slot < tuple.TuplesPerBlock && next < len(tuples); slot++ {
			b.SetTuple(slot, tuples[next])
			next++
		}
		if err := pool.Write(b, group.Start+i); err != nil {
			return fmt.Errorf("failed to write back run block: %w", err)
		}
	}
	return nil
}
