package selection

import (
	"fmt"

	"github.com/KevoDB/blockq/pkg/buffer"
	"github.com/KevoDB/blockq/pkg/relation"
	"github.com/KevoDB/blockq/pkg/tuple"
)

// Entry is one sparse index entry: the first key of a data block and its id.
// On disk an entry is stored as the tuple (FirstKey, Block).
type Entry struct {
	FirstKey int
	Block    int
}

func (e Entry) String() string {
	return fmt.Sprintf("%d->%d", e.FirstKey, e.Block)
}

// Index describes a sparse index stored on disk
type Index struct {
	// Blocks is the range of index blocks
	Blocks relation.Relation
	// Data is the sorted relation the index covers
	Data relation.Relation
	// Entries is the number of index entries written
	Entries int
}

// BuildIndex reads every block of the sorted relation and records the first
// live tuple of each non-empty block as an index entry. Entries are packed
// into consecutive blocks from indexBase; the final block is always written.
func BuildIndex(pool *buffer.Pool, sorted relation.Relation, indexBase int) (Index, error) {
	idx := Index{Blocks: relation.Empty(indexBase), Data: sorted}
	if !sorted.Sorted {
		return idx, fmt.Errorf("%w: cannot index %v", ErrNotSorted, sorted)
	}
	if err := sorted.Validate(); err != nil {
		return idx, err
	}
	if sorted.End >= tuple.MaxFieldValue {
		return idx, fmt.Errorf("%w: block %d", ErrBlockIDRange, sorted.End)
	}
	if out := relation.New(indexBase, indexBase+sorted.Blocks()/tuple.TuplesPerBlock); out.Overlaps(sorted) {
		return idx, fmt.Errorf("%w: index %v overlaps data %v", relation.ErrInvalidRange, out, sorted)
	}

	w, err := relation.NewWriter(pool, indexBase)
	if err != nil {
		return idx, err
	}
	defer w.Close()

	for id := sorted.Start; id <= sorted.End; id++ {
		b, err := pool.Read(id)
		if err != nil {
			idx.Blocks, idx.Entries = w.Output(), w.Count()
			return idx, err
		}
		first, ok := firstLive(b)
		pool.Release(b)
		if !ok {
			continue
		}

		entry := tuple.Tuple{A: first.A, B: id}
		if !tuple.Valid(entry) {
			idx.Blocks, idx.Entries = w.Output(), w.Count()
			return idx, fmt.Errorf("%w: entry %v collides with the empty slot", ErrBlockIDRange, entry)
		}
		if err := w.Add(entry); err != nil {
			idx.Blocks, idx.Entries = w.Output(), w.Count()
			return idx, err
		}
	}

	err = w.ForceFlush()
	idx.Blocks, idx.Entries = w.Output(), w.Count()
	return idx, err
}

func firstLive(b *buffer.Block) (tuple.Tuple, bool) {
	for slot := 0; slot < tuple.TuplesPerBlock; slot++ {
		if !b.Empty(slot) {
			return b.Tuple(slot), true
		}
	}
	return tuple.Tuple{}, false
}

// rangeFinder accumulates candidate bounds while index entries are fed in order
type rangeFinder struct {
	target int
	lo, hi int
	found  bool
	// below records that some entry had a first key < target
	below bool
}

// observe feeds the next entry and reports whether the scan can stop
func (f *rangeFinder) observe(e Entry) bool {
	if e.FirstKey > f.target {
		return true
	}
	if e.FirstKey < f.target {
		f.lo = e.Block
		f.below = true
	} else if !f.below && !f.found {
		f.lo = e.Block
	}
	f.hi = e.Block
	f.found = true
	return false
}

// RangeOf returns the block range of entries that may hold target. Any block
// holding a tuple with A == target lies in [lo, hi]; ok is false when no
// block can hold it.
func RangeOf(entries []Entry, target int) (lo, hi int, ok bool) {
	f := rangeFinder{target: target}
	for _, e := range entries {
		if f.observe(e) {
			break
		}
	}
	return f.lo, f.hi, f.found
}

// FindRange scans the index in order and returns the candidate block range
// for target, as RangeOf. Reading stops at the index block holding the first
// entry whose first key exceeds target.
func FindRange(pool *buffer.Pool, idx Index, target int) (lo, hi int, ok bool, err error) {
	f := rangeFinder{target: target}
	err = scanEntries(pool, idx, func(e Entry) bool {
		return f.observe(e)
	})
	if err != nil {
		return 0, 0, false, err
	}
	return f.lo, f.hi, f.found, nil
}

// ReadEntries returns every entry of the index
func ReadEntries(pool *buffer.Pool, idx Index) ([]Entry, error) {
	entries := make([]Entry, 0, idx.Entries)
	err := scanEntries(pool, idx, func(e Entry) bool {
		entries = append(entries, e)
		return false
	})
	return entries, err
}

func scanEntries(pool *buffer.Pool, idx Index, fn func(Entry) bool) error {
	c, err := relation.NewCursor(pool, idx.Blocks)
	if err != nil {
		return fmt.Errorf("failed to open index %v: %w", idx.Blocks, err)
	}
	defer c.Close()

	for c.Valid() {
		t := c.Tuple()
		if fn(Entry{FirstKey: t.A, Block: t.B}) {
			return nil
		}
		if err := c.Next(); err != nil {
			return fmt.Errorf("failed to scan index %v: %w", idx.Blocks, err)
		}
	}
	return nil
}

// IndexSelect narrows the scan for A == target through the index and then
// selects linearly over the candidate range. When no block can hold target
// only the trailing empty output block is written.
func IndexSelect(pool *buffer.Pool, idx Index, target, dst int) (Result, error) {
	lo, hi, ok, err := FindRange(pool, idx, target)
	if err != nil {
		return Result{Output: relation.Empty(dst)}, err
	}
	return SelectRange(pool, idx, lo, hi, ok, target, dst)
}

// SelectRange runs the selection step of IndexSelect over a candidate range
// already resolved by FindRange or RangeOf
func SelectRange(pool *buffer.Pool, idx Index, lo, hi int, ok bool, target, dst int) (Result, error) {
	candidates := relation.Empty(dst)
	if ok {
		candidates = relation.New(lo, hi)
		if !idx.Data.IsEmpty() && (!idx.Data.Contains(lo) || !idx.Data.Contains(hi)) {
			return Result{Output: relation.Empty(dst)}, fmt.Errorf("%w: candidates %v outside %v",
				relation.ErrInvalidRange, candidates, idx.Data)
		}
	}
	return SelectEquals(pool, candidates, target, dst)
}
