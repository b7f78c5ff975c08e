// Package selection implements equality selection over block ranges, either by
// a full linear scan or narrowed through a sparse block-level index built over
// a sorted relation.
package selection

import (
	"errors"
	"fmt"

	"github.com/KevoDB/blockq/pkg/buffer"
	"github.com/KevoDB/blockq/pkg/relation"
)

var (
	// ErrNotSorted is returned when an index is requested over an unsorted relation
	ErrNotSorted = errors.New("relation is not sorted")
	// ErrBlockIDRange is returned when a block id cannot be stored in an index entry
	ErrBlockIDRange = errors.New("block id not representable in index entry")
)

// Result describes the output of a selection
type Result struct {
	// Count is the number of matching tuples written
	Count int
	// Output is the range of blocks written, including a trailing empty block
	// when the final flush had nothing to write
	Output relation.Relation
}

// SelectEquals streams every live tuple of rel and writes those with A == key
// to consecutive blocks from dst. The output block is flushed once more after
// the scan even when it is empty.
func SelectEquals(pool *buffer.Pool, rel relation.Relation, key, dst int) (Result, error) {
	if err := rel.Validate(); err != nil {
		return Result{Output: relation.Empty(dst)}, err
	}
	// Worst case every block matches fully plus the forced trailing flush
	if out := relation.New(dst, dst+rel.Blocks()); out.Overlaps(rel) {
		return Result{Output: relation.Empty(dst)}, fmt.Errorf("%w: output %v overlaps input %v",
			relation.ErrInvalidRange, out, rel)
	}

	w, err := relation.NewWriter(pool, dst)
	if err != nil {
		return Result{Output: relation.Empty(dst)}, err
	}
	defer w.Close()

	c, err := relation.NewCursor(pool, rel)
	if err != nil {
		return Result{Output: w.Output()}, err
	}
	defer c.Close()

	for c.Valid() {
		if t := c.Tuple(); t.A == key {
			if err := w.Add(t); err != nil {
				return Result{Count: w.Count(), Output: w.Output()}, err
			}
		}
		if err := c.Next(); err != nil {
			return Result{Count: w.Count(), Output: w.Output()}, err
		}
	}

	if err := w.ForceFlush(); err != nil {
		return Result{Count: w.Count(), Output: w.Output()}, err
	}
	return Result{Count: w.Count(), Output: w.Output()}, nil
}
