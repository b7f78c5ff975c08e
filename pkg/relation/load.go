package relation

import (
	"errors"
	"fmt"

	"github.com/KevoDB/blockq/pkg/buffer"
	"github.com/KevoDB/blockq/pkg/tuple"
)

// ErrInvalidTuple is returned when loading a tuple the block layout cannot store
var ErrInvalidTuple = errors.New("invalid tuple")

// Load packs tuples into consecutive blocks starting at base and returns the
// written range. The final block is flushed only if it holds tuples.
func Load(pool *buffer.Pool, base int, tuples []tuple.Tuple) (Relation, error) {
	for i, t := range tuples {
		if !tuple.Valid(t) {
			return Empty(base), fmt.Errorf("%w: %v at index %d", ErrInvalidTuple, t, i)
		}
	}

	w, err := NewWriter(pool, base)
	if err != nil {
		return Empty(base), err
	}
	defer w.Close()

	for _, t := range tuples {
		if err := w.Add(t); err != nil {
			return w.Output(), err
		}
	}
	if err := w.Flush(); err != nil {
		return w.Output(), err
	}
	return w.Output(), nil
}

// ReadAll returns every live tuple of rel in scan order
func ReadAll(pool *buffer.Pool, rel Relation) ([]tuple.Tuple, error) {
	c, err := NewCursor(pool, rel)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	out := make([]tuple.Tuple, 0, rel.Capacity())
	for c.Valid() {
		out = append(out, c.Tuple())
		if err := c.Next(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// IsSorted scans rel and reports whether A is non-decreasing
func IsSorted(pool *buffer.Pool, rel Relation) (bool, error) {
	c, err := NewCursor(pool, rel)
	if err != nil {
		return false, err
	}
	defer c.Close()

	prev := -1
	for c.Valid() {
		if c.Tuple().A < prev {
			return false, nil
		}
		prev = c.Tuple().A
		if err := c.Next(); err != nil {
			return false, err
		}
	}
	return true, nil
}
