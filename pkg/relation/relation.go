// Package relation describes relations as explicit block ranges and provides
// the two access paths every algorithm shares: a forward cursor over the
// live tuples of a range, and a writer that packs output tuples into blocks.
package relation

import (
	"errors"
	"fmt"

	"github.com/KevoDB/blockq/pkg/tuple"
)

// ErrInvalidRange is returned for malformed block ranges
var ErrInvalidRange = errors.New("invalid relation range")

// Relation is an inclusive range of block ids. A range with End < Start is
// empty. Sorted records that A is non-decreasing in block then slot order.
type Relation struct {
	Start  int
	End    int
	Sorted bool
}

// New returns the relation covering blocks [start, end]
func New(start, end int) Relation {
	return Relation{Start: start, End: end}
}

// Empty returns the empty relation anchored at start
func Empty(start int) Relation {
	return Relation{Start: start, End: start - 1}
}

// Blocks returns the number of blocks in the range
func (r Relation) Blocks() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// IsEmpty reports whether the range holds no blocks
func (r Relation) IsEmpty() bool {
	return r.Blocks() == 0
}

// Capacity returns the maximum number of tuples the range can hold
func (r Relation) Capacity() int {
	return r.Blocks() * tuple.TuplesPerBlock
}

// Contains reports whether block id lies in the range
func (r Relation) Contains(id int) bool {
	return id >= r.Start && id <= r.End
}

// Overlaps reports whether the two ranges share a block
func (r Relation) Overlaps(o Relation) bool {
	if r.IsEmpty() || o.IsEmpty() {
		return false
	}
	return r.Start <= o.End && o.Start <= r.End
}

// AsSorted returns a copy marked sorted
func (r Relation) AsSorted() Relation {
	r.Sorted = true
	return r
}

// Validate checks that the range is addressable
func (r Relation) Validate() error {
	if r.Start < 0 {
		return fmt.Errorf("%w: negative start %d", ErrInvalidRange, r.Start)
	}
	if r.End < r.Start-1 {
		return fmt.Errorf("%w: end %d before start %d", ErrInvalidRange, r.End, r.Start)
	}
	return nil
}

// Split partitions the range into consecutive groups of at most size blocks
func (r Relation) Split(size int) []Relation {
	if size <= 0 || r.IsEmpty() {
		return nil
	}
	groups := make([]Relation, 0, (r.Blocks()+size-1)/size)
	for start := r.Start; start <= r.End; start += size {
		end := start + size - 1
		if end > r.End {
			end = r.End
		}
		groups = append(groups, Relation{Start: start, End: end, Sorted: r.Sorted})
	}
	return groups
}

func (r Relation) String() string {
	if r.IsEmpty() {
		return fmt.Sprintf("[%d, empty]", r.Start)
	}
	if r.Sorted {
		return fmt.Sprintf("[%d, %d] sorted", r.Start, r.End)
	}
	return fmt.Sprintf("[%d, %d]", r.Start, r.End)
}

// Position addresses one slot of one block
type Position struct {
	Block int
	Slot  int
}

// Before reports whether p precedes o in scan order
func (p Position) Before(o Position) bool {
	if p.Block != o.Block {
		return p.Block < o.Block
	}
	return p.Slot < o.Slot
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Block, p.Slot)
}
