package extsort

import (
	"fmt"

	"github.com/KevoDB/blockq/pkg/buffer"
	"github.com/KevoDB/blockq/pkg/relation"
	"github.com/KevoDB/blockq/pkg/tuple"
)

// merger holds the state of one merge pass
type merger struct {
	pool    *buffer.Pool
	cursors []*relation.Cursor
	// head caches the current candidate of run i in slot i, or the sentinel
	head *buffer.Block
	out  *relation.Writer
}

// checkFanIn validates a merge width before any I/O is issued
func checkFanIn(runs, maxFanIn int) error {
	if maxFanIn <= 0 || maxFanIn > MaxFanIn {
		return fmt.Errorf("%w: fan-in limit %d outside [1, %d]", ErrFanInExceeded, maxFanIn, MaxFanIn)
	}
	if runs > maxFanIn {
		return fmt.Errorf("%w: %d runs, single pass merges at most %d", ErrFanInExceeded, runs, maxFanIn)
	}
	return nil
}

// MergeRuns merges sorted runs in one pass into consecutive blocks starting
// at dst. Among equal keys the run listed first wins. It returns the output
// range (marked sorted) and the number of tuples written.
func MergeRuns(pool *buffer.Pool, runs []relation.Relation, dst int, maxFanIn int) (relation.Relation, int, error) {
	if err := checkFanIn(len(runs), maxFanIn); err != nil {
		return relation.Empty(dst), 0, err
	}

	inputBlocks := 0
	for _, run := range runs {
		if err := run.Validate(); err != nil {
			return relation.Empty(dst), 0, err
		}
		inputBlocks += run.Blocks()
	}
	outRange := relation.New(dst, dst+inputBlocks-1)
	for _, run := range runs {
		if outRange.Overlaps(run) {
			return relation.Empty(dst), 0, fmt.Errorf("%w: output %v overlaps run %v",
				relation.ErrInvalidRange, outRange, run)
		}
	}
	if need := len(runs) + 2; pool.Available() < need {
		return relation.Empty(dst), 0, fmt.Errorf("%w: merging %d runs needs %d frames, %d available",
			buffer.ErrPoolExhausted, len(runs), need, pool.Available())
	}

	m := &merger{pool: pool}
	defer m.close()

	if err := m.open(runs, dst); err != nil {
		return relation.Empty(dst), 0, err
	}
	if err := m.run(); err != nil {
		return m.out.Output(), m.out.Count(), err
	}
	if err := m.out.Flush(); err != nil {
		return m.out.Output(), m.out.Count(), err
	}
	return m.out.Output().AsSorted(), m.out.Count(), nil
}

func (m *merger) open(runs []relation.Relation, dst int) error {
	head, err := m.pool.NewBlock()
	if err != nil {
		return fmt.Errorf("failed to allocate head cache: %w", err)
	}
	m.head = head
	for slot := 0; slot < tuple.SlotsPerBlock; slot++ {
		head.SetTuple(slot, tuple.Sentinel)
	}

	out, err := relation.NewWriter(m.pool, dst)
	if err != nil {
		return err
	}
	m.out = out

	m.cursors = make([]*relation.Cursor, len(runs))
	for i, run := range runs {
		c, err := relation.NewCursor(m.pool, run)
		if err != nil {
			return fmt.Errorf("failed to open run %d: %w", i, err)
		}
		m.cursors[i] = c
		m.refill(i)
	}
	return nil
}

// refill installs the current tuple of run i in its head slot, or the
// sentinel once the run is exhausted
func (m *merger) refill(i int) {
	c := m.cursors[i]
	if c.Valid() {
		m.head.SetTuple(i, c.Tuple())
		return
	}
	m.head.SetTuple(i, tuple.Sentinel)
	c.Close()
}

// pick returns the head slot with the least key, or -1 when every run is exhausted
func (m *merger) pick() int {
	best := -1
	var bestKey int
	for i, c := range m.cursors {
		if !c.Valid() {
			continue
		}
		if t := m.head.Tuple(i); best < 0 || t.A < bestKey {
			best, bestKey = i, t.A
		}
	}
	return best
}

func (m *merger) run() error {
	for {
		i := m.pick()
		if i < 0 {
			return nil
		}
		if err := m.out.Add(m.head.Tuple(i)); err != nil {
			return fmt.Errorf("failed to emit merged tuple: %w", err)
		}
		if err := m.cursors[i].Next(); err != nil {
			return fmt.Errorf("failed to advance run %d: %w", i, err)
		}
		m.refill(i)
	}
}

func (m *merger) close() {
	for _, c := range m.cursors {
		if c != nil {
			c.Close()
		}
	}
	if m.out != nil {
		m.out.Close()
	}
	if m.head != nil {
		m.pool.Release(m.head)
	}
}

// Sort runs both phases: rel is sorted in place into runs, which are then
// merged into consecutive blocks starting at dst. The fan-in precondition is
// checked before any I/O.
func Sort(pool *buffer.Pool, rel relation.Relation, dst int, runBlocks, maxFanIn int) (relation.Relation, int, error) {
	if runBlocks <= 0 {
		return relation.Empty(dst), 0, fmt.Errorf("%w: %d", ErrInvalidRunSize, runBlocks)
	}
	if err := checkFanIn(RunCount(rel, runBlocks), maxFanIn); err != nil {
		return relation.Empty(dst), 0, err
	}

	runs, err := SortRuns(pool, rel, runBlocks)
	if err != nil {
		return relation.Empty(dst), 0, err
	}
	return MergeRuns(pool, runs, dst, maxFanIn)
}
