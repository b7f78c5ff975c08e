package relation

import (
	"fmt"

	"github.com/KevoDB/blockq/pkg/buffer"
	"github.com/KevoDB/blockq/pkg/tuple"
)

// Writer packs output tuples TuplesPerBlock to a block and writes each full
// block to the next consecutive disk address starting at a base id. It owns
// one pool frame from creation until Close. A flush that would land inside a
// guarded relation fails with ErrInvalidRange instead of writing.
type Writer struct {
	pool  *buffer.Pool
	blk   *buffer.Block
	guard []Relation

	base   int
	next   int
	slot   int
	tuples int
}

// NewWriter creates a writer whose first block lands at base. Output never
// overwrites any of the guard relations.
func NewWriter(pool *buffer.Pool, base int, guard ...Relation) (*Writer, error) {
	if base < 0 {
		return nil, fmt.Errorf("%w: negative output base %d", ErrInvalidRange, base)
	}
	blk, err := pool.NewBlock()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate output block: %w", err)
	}
	return &Writer{pool: pool, blk: blk, guard: guard, base: base, next: base}, nil
}

// Add appends t, flushing the block once it holds TuplesPerBlock tuples
func (w *Writer) Add(t tuple.Tuple) error {
	w.blk.SetTuple(w.slot, t)
	w.slot++
	w.tuples++
	if w.slot == tuple.TuplesPerBlock {
		return w.flush()
	}
	return nil
}

// Flush writes the pending block if it holds any tuple
func (w *Writer) Flush() error {
	if w.slot == 0 {
		return nil
	}
	return w.flush()
}

// ForceFlush writes the pending block even when it is empty
func (w *Writer) ForceFlush() error {
	return w.flush()
}

func (w *Writer) flush() error {
	for _, rel := range w.guard {
		if rel.Contains(w.next) {
			return fmt.Errorf("%w: output block %d falls inside %v", ErrInvalidRange, w.next, rel)
		}
	}
	if err := w.pool.Write(w.blk, w.next); err != nil {
		return err
	}
	w.next++
	w.slot = 0
	w.blk.Clear()
	return nil
}

// Pending returns the number of buffered tuples not yet written
func (w *Writer) Pending() int {
	return w.slot
}

// Count returns the number of tuples added so far
func (w *Writer) Count() int {
	return w.tuples
}

// NextBlock returns the disk address the next flush will write
func (w *Writer) NextBlock() int {
	return w.next
}

// Output returns the range of blocks written so far
func (w *Writer) Output() Relation {
	return Relation{Start: w.base, End: w.next - 1}
}

// Close releases the output frame without flushing
func (w *Writer) Close() {
	if w.blk != nil {
		w.pool.Release(w.blk)
		w.blk = nil
	}
}
