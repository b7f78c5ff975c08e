// Package join implements sort-merge equi-join and set difference over two
// relations sorted by A. Both operations share one co-scan: S is read once
// front to back while an R cursor advances through the matching key run and
// is rewound to the start of that run whenever the next S tuple repeats the
// previous key.
package join

import (
	"errors"
	"fmt"

	"github.com/KevoDB/blockq/pkg/buffer"
	"github.com/KevoDB/blockq/pkg/relation"
	"github.com/KevoDB/blockq/pkg/tuple"
)

// ErrNotSorted is returned when an input relation is not marked sorted
var ErrNotSorted = errors.New("relation is not sorted")

// Result describes the output of a join or difference
type Result struct {
	// Count is the number of pairs for Join and of surviving S tuples for Difference
	Count int
	// Tuples is the number of tuples written
	Tuples int
	// Output is the range of blocks written
	Output relation.Relation
}

// coScan holds the R side of a co-scan
type coScan struct {
	r *relation.Cursor
	// mark is the first R position with A >= lastKey
	mark    relation.Position
	lastKey int
	started bool
}

// matches positions the R cursor on the run matching key and calls visit for
// each R tuple in it. The R cursor is left on the first tuple with A > key.
func (cs *coScan) matches(key int, visit func(r tuple.Tuple) error) error {
	if cs.started && key == cs.lastKey {
		if err := cs.r.Seek(cs.mark); err != nil {
			return fmt.Errorf("failed to rewind R to %v: %w", cs.mark, err)
		}
	} else {
		for cs.r.Valid() && cs.r.Tuple().A < key {
			if err := cs.r.Next(); err != nil {
				return fmt.Errorf("failed to advance R: %w", err)
			}
		}
		cs.mark = cs.r.Position()
		cs.lastKey = key
		cs.started = true
	}

	for cs.r.Valid() && cs.r.Tuple().A == key {
		if err := visit(cs.r.Tuple()); err != nil {
			return err
		}
		if err := cs.r.Next(); err != nil {
			return fmt.Errorf("failed to advance R: %w", err)
		}
	}
	return nil
}

func checkInputs(r, s relation.Relation, out relation.Relation) error {
	for _, rel := range []relation.Relation{r, s} {
		if !rel.Sorted {
			return fmt.Errorf("%w: %v", ErrNotSorted, rel)
		}
		if err := rel.Validate(); err != nil {
			return err
		}
		if out.Overlaps(rel) {
			return fmt.Errorf("%w: output %v overlaps input %v", relation.ErrInvalidRange, out, rel)
		}
	}
	return nil
}

// run drives the co-scan over S, calling step once per S tuple. The final
// partial output block is flushed only if it holds tuples.
func run(pool *buffer.Pool, r, s relation.Relation, dst int, step func(cs *coScan, st tuple.Tuple, w *relation.Writer) (int, error)) (Result, error) {
	w, err := relation.NewWriter(pool, dst, r, s)
	if err != nil {
		return Result{Output: relation.Empty(dst)}, err
	}
	defer w.Close()

	rc, err := relation.NewCursor(pool, r)
	if err != nil {
		return Result{Output: w.Output()}, err
	}
	defer rc.Close()

	sc, err := relation.NewCursor(pool, s)
	if err != nil {
		return Result{Output: w.Output()}, err
	}
	defer sc.Close()

	cs := &coScan{r: rc}
	res := Result{Output: relation.Empty(dst)}
	for sc.Valid() {
		n, err := step(cs, sc.Tuple(), w)
		res.Count += n
		if err != nil {
			res.Tuples, res.Output = w.Count(), w.Output()
			return res, err
		}
		if err := sc.Next(); err != nil {
			res.Tuples, res.Output = w.Count(), w.Output()
			return res, fmt.Errorf("failed to advance S: %w", err)
		}
	}

	err = w.Flush()
	res.Tuples, res.Output = w.Count(), w.Output()
	return res, err
}

// Join writes every pair (r, s) with r.A == s.A as two consecutive tuples, r
// then s, into consecutive blocks from dst. Result.Count is the number of pairs.
// Only dst is checked before the scan; a flush that would land inside R or S
// aborts the join with relation.ErrInvalidRange.
func Join(pool *buffer.Pool, r, s relation.Relation, dst int) (Result, error) {
	if err := checkInputs(r, s, relation.New(dst, dst)); err != nil {
		return Result{Output: relation.Empty(dst)}, err
	}

	return run(pool, r, s, dst, func(cs *coScan, st tuple.Tuple, w *relation.Writer) (int, error) {
		pairs := 0
		err := cs.matches(st.A, func(rt tuple.Tuple) error {
			if err := w.Add(rt); err != nil {
				return err
			}
			if err := w.Add(st); err != nil {
				return err
			}
			pairs++
			return nil
		})
		return pairs, err
	})
}

// Difference writes every tuple of s that has no identical tuple in r into
// consecutive blocks from dst, in S order. Result.Count is the number of
// tuples written.
func Difference(pool *buffer.Pool, r, s relation.Relation, dst int) (Result, error) {
	if err := checkInputs(r, s, relation.New(dst, dst+s.Blocks()-1)); err != nil {
		return Result{Output: relation.Empty(dst)}, err
	}

	return run(pool, r, s, dst, func(cs *coScan, st tuple.Tuple, w *relation.Writer) (int, error) {
		found := false
		err := cs.matches(st.A, func(rt tuple.Tuple) error {
			if rt == st {
				found = true
			}
			return nil
		})
		if err != nil || found {
			return 0, err
		}
		if err := w.Add(st); err != nil {
			return 0, err
		}
		return 1, nil
	})
}
