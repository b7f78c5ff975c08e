package extsort

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/KevoDB/blockq/pkg/buffer"
	"github.com/KevoDB/blockq/pkg/common/log"
	"github.com/KevoDB/blockq/pkg/disk"
	"github.com/KevoDB/blockq/pkg/relation"
	"github.com/KevoDB/blockq/pkg/tuple"
)

func newTestPool(t *testing.T, capacity int) *buffer.Pool {
	t.Helper()
	pool, err := buffer.New(disk.NewMemDisk(), capacity, buffer.WithLogger(log.NewDiscardLogger()))
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	return pool
}

func randomTuples(rng *rand.Rand, n, lo, hi int) []tuple.Tuple {
	out := make([]tuple.Tuple, n)
	for i := range out {
		out[i] = tuple.Tuple{A: lo + rng.Intn(hi-lo+1), B: 1 + rng.Intn(999)}
	}
	return out
}

func sortedCopy(ts []tuple.Tuple) []tuple.Tuple {
	out := append([]tuple.Tuple(nil), ts...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

func TestSortRunsSortsEachRunInPlace(t *testing.T) {
	pool := newTestPool(t, 10)
	rng := rand.New(rand.NewSource(1))

	input := randomTuples(rng, 224, 130, 170)
	rel, err := relation.Load(pool, 17, input)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rel != relation.New(17, 48) {
		t.Fatalf("expected [17, 48], got %v", rel)
	}

	before := pool.IO()
	runs, err := SortRuns(pool, rel, DefaultRunBlocks)
	if err != nil {
		t.Fatalf("SortRuns failed: %v", err)
	}
	if len(runs) != 6 || RunCount(rel, DefaultRunBlocks) != 6 {
		t.Fatalf("expected 6 runs, got %d", len(runs))
	}
	if runs[5] != relation.New(47, 48).AsSorted() {
		t.Errorf("unexpected last run %v", runs[5])
	}

	// Each block read once and written once
	io := pool.IO()
	if io.Reads-before.Reads != 32 || io.Writes-before.Writes != 32 {
		t.Errorf("expected 32 reads and 32 writes, got %d and %d",
			io.Reads-before.Reads, io.Writes-before.Writes)
	}

	var all []tuple.Tuple
	for _, run := range runs {
		ok, err := relation.IsSorted(pool, run)
		if err != nil || !ok {
			t.Errorf("run %v not sorted (%v)", run, err)
		}
		got, err := relation.ReadAll(pool, run)
		if err != nil {
			t.Fatalf("ReadAll failed: %v", err)
		}
		all = append(all, got...)
	}
	if len(all) != len(input) {
		t.Fatalf("expected %d tuples, got %d", len(input), len(all))
	}
	want, got := sortedCopy(input), sortedCopy(all)
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("runs are not a permutation of the input at %d: %v vs %v", i, want[i], got[i])
		}
	}
	if pool.InUse() != 0 {
		t.Errorf("SortRuns leaked %d frames", pool.InUse())
	}
}

func TestSortRunsIsStable(t *testing.T) {
	pool := newTestPool(t, 10)
	input := []tuple.Tuple{{A: 5, B: 1}, {A: 3, B: 1}, {A: 5, B: 2}, {A: 3, B: 2}, {A: 5, B: 3}}
	rel, err := relation.Load(pool, 0, input)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := SortRuns(pool, rel, DefaultRunBlocks); err != nil {
		t.Fatalf("SortRuns failed: %v", err)
	}
	got, _ := relation.ReadAll(pool, rel)
	want := []tuple.Tuple{{A: 3, B: 1}, {A: 3, B: 2}, {A: 5, B: 1}, {A: 5, B: 2}, {A: 5, B: 3}}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSortRunsPacksPartialBlocks(t *testing.T) {
	d := disk.NewMemDisk()
	pool, err := buffer.New(d, 10, buffer.WithLogger(log.NewDiscardLogger()))
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}

	// Two blocks with three live tuples each and gaps between them
	for id, slots := range map[int][]int{0: {0, 3, 6}, 1: {1, 2, 5}} {
		data := make([]byte, tuple.BlockSize)
		for i, slot := range slots {
			tuple.Set(data, slot, tuple.Tuple{A: 10 - id*3 - i, B: 1})
		}
		if err := d.WriteBlock(id, data); err != nil {
			t.Fatalf("WriteBlock failed: %v", err)
		}
	}

	if _, err := SortRuns(pool, relation.New(0, 1), DefaultRunBlocks); err != nil {
		t.Fatalf("SortRuns failed: %v", err)
	}
	b, err := pool.Read(0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	defer pool.Release(b)
	if n := len(tuple.Live(b.Data())); n != 6 {
		t.Errorf("expected all 6 tuples packed into block 0, got %d", n)
	}
	if b.Tuple(0).A != 5 || b.Tuple(5).A != 10 {
		t.Errorf("unexpected packing %v", tuple.Live(b.Data()))
	}
}

func TestSortRunsRejectsRunLargerThanPool(t *testing.T) {
	pool := newTestPool(t, 4)
	_, err := SortRuns(pool, relation.New(0, 9), 6)
	if !errors.Is(err, ErrInvalidRunSize) {
		t.Errorf("expected ErrInvalidRunSize, got %v", err)
	}
	if _, err := SortRuns(pool, relation.New(0, 9), 0); !errors.Is(err, ErrInvalidRunSize) {
		t.Errorf("expected ErrInvalidRunSize for zero, got %v", err)
	}
}

func TestMergeRunsFirstRunWinsTies(t *testing.T) {
	pool := newTestPool(t, 10)

	r0, _ := relation.Load(pool, 0, []tuple.Tuple{{A: 1, B: 100}, {A: 4, B: 100}})
	r1, _ := relation.Load(pool, 1, []tuple.Tuple{{A: 1, B: 200}, {A: 2, B: 200}, {A: 4, B: 200}})
	r2, _ := relation.Load(pool, 2, []tuple.Tuple{{A: 3, B: 300}})

	out, n, err := MergeRuns(pool, []relation.Relation{r0.AsSorted(), r1.AsSorted(), r2.AsSorted()}, 50, MaxFanIn)
	if err != nil {
		t.Fatalf("MergeRuns failed: %v", err)
	}
	if n != 6 || out != relation.New(50, 50).AsSorted() {
		t.Fatalf("expected 6 tuples in [50, 50], got %d in %v", n, out)
	}
	got, _ := relation.ReadAll(pool, out)
	want := []tuple.Tuple{
		{A: 1, B: 100}, {A: 1, B: 200}, {A: 2, B: 200},
		{A: 3, B: 300}, {A: 4, B: 100}, {A: 4, B: 200},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if pool.InUse() != 0 {
		t.Errorf("MergeRuns leaked %d frames", pool.InUse())
	}
}

func TestMergeRunsCostsOneReadPerInputBlock(t *testing.T) {
	pool := newTestPool(t, 10)
	rng := rand.New(rand.NewSource(7))

	rel, err := relation.Load(pool, 1, randomTuples(rng, 112, 120, 160))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	runs, err := SortRuns(pool, rel, DefaultRunBlocks)
	if err != nil {
		t.Fatalf("SortRuns failed: %v", err)
	}

	before := pool.IO()
	out, n, err := MergeRuns(pool, runs, 301, MaxFanIn)
	if err != nil {
		t.Fatalf("MergeRuns failed: %v", err)
	}
	io := pool.IO()
	if io.Reads-before.Reads != 16 || io.Writes-before.Writes != 16 {
		t.Errorf("expected 16 reads and 16 writes, got %d and %d",
			io.Reads-before.Reads, io.Writes-before.Writes)
	}
	if n != 112 || out != relation.New(301, 316).AsSorted() {
		t.Errorf("expected 112 tuples in [301, 316], got %d in %v", n, out)
	}
	if ok, _ := relation.IsSorted(pool, out); !ok {
		t.Errorf("merged output is not sorted")
	}
}

func TestMergeRunsFlushesPartialBlock(t *testing.T) {
	pool := newTestPool(t, 10)
	r0, _ := relation.Load(pool, 0, []tuple.Tuple{{A: 2, B: 1}, {A: 9, B: 1}})
	r1, _ := relation.Load(pool, 1, []tuple.Tuple{{A: 5, B: 1}})

	out, n, err := MergeRuns(pool, []relation.Relation{r0, r1}, 10, MaxFanIn)
	if err != nil {
		t.Fatalf("MergeRuns failed: %v", err)
	}
	got, _ := relation.ReadAll(pool, out)
	if n != 3 || len(got) != 3 || got[2].A != 9 {
		t.Errorf("expected final partial block on disk, got %v", got)
	}
}

func TestMergeRunsOfNothingWritesNothing(t *testing.T) {
	pool := newTestPool(t, 10)
	out, n, err := MergeRuns(pool, nil, 10, MaxFanIn)
	if err != nil {
		t.Fatalf("MergeRuns failed: %v", err)
	}
	if n != 0 || !out.IsEmpty() || pool.NumIO() != 0 {
		t.Errorf("expected empty output without I/O, got %v, %d I/Os", out, pool.NumIO())
	}
}

func TestFanInExceededBeforeAnyIO(t *testing.T) {
	pool := newTestPool(t, 10)

	// 54 blocks in runs of 6 gives 9 runs
	_, _, err := Sort(pool, relation.New(0, 53), 100, DefaultRunBlocks, MaxFanIn)
	if !errors.Is(err, ErrFanInExceeded) {
		t.Fatalf("expected ErrFanInExceeded, got %v", err)
	}
	if pool.NumIO() != 0 {
		t.Errorf("fan-in check must precede I/O, got %d I/Os", pool.NumIO())
	}

	runs := make([]relation.Relation, 3)
	if _, _, err := MergeRuns(pool, runs, 100, 2); !errors.Is(err, ErrFanInExceeded) {
		t.Errorf("expected ErrFanInExceeded for narrow limit, got %v", err)
	}
	if _, _, err := MergeRuns(pool, nil, 100, MaxFanIn+1); !errors.Is(err, ErrFanInExceeded) {
		t.Errorf("expected ErrFanInExceeded for oversized limit, got %v", err)
	}
}

func TestMergeRunsRejectsOverlappingOutput(t *testing.T) {
	pool := newTestPool(t, 10)
	r0, _ := relation.Load(pool, 0, []tuple.Tuple{{A: 1, B: 1}})
	r1, _ := relation.Load(pool, 1, []tuple.Tuple{{A: 2, B: 1}})

	_, _, err := MergeRuns(pool, []relation.Relation{r0, r1}, 1, MaxFanIn)
	if !errors.Is(err, relation.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}

func TestSortEndToEnd(t *testing.T) {
	pool := newTestPool(t, 10)
	rng := rand.New(rand.NewSource(42))

	input := randomTuples(rng, 224, 130, 170)
	rel, err := relation.Load(pool, 17, input)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	out, n, err := Sort(pool, rel, 317, DefaultRunBlocks, MaxFanIn)
	if err != nil {
		t.Fatalf("Sort failed: %v", err)
	}
	if n != 224 || out != relation.New(317, 348).AsSorted() {
		t.Fatalf("expected 224 tuples in [317, 348], got %d in %v", n, out)
	}

	got, _ := relation.ReadAll(pool, out)
	want := sortedCopy(input)
	gotSorted := sortedCopy(got)
	for i := range want {
		if want[i] != gotSorted[i] {
			t.Fatalf("output is not a permutation of the input at %d", i)
		}
		if i > 0 && got[i].A < got[i-1].A {
			t.Fatalf("output not sorted at %d", i)
		}
	}
}

func TestSortAtMaximumFanIn(t *testing.T) {
	// 48 full blocks in runs of 6 make exactly MaxFanIn runs: 8 cursors,
	// the head cache and the output block fill a 10-frame pool
	pool := newTestPool(t, MaxFanIn+2)
	rng := rand.New(rand.NewSource(7))

	input := randomTuples(rng, 48*tuple.TuplesPerBlock, 1, 999)
	rel, err := relation.Load(pool, 1, input)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if RunCount(rel, DefaultRunBlocks) != MaxFanIn {
		t.Fatalf("expected %d runs, got %d", MaxFanIn, RunCount(rel, DefaultRunBlocks))
	}

	before := pool.IO()
	out, n, err := Sort(pool, rel, 100, DefaultRunBlocks, MaxFanIn)
	if err != nil {
		t.Fatalf("Sort failed: %v", err)
	}
	if n != len(input) || out != relation.New(100, 147).AsSorted() {
		t.Fatalf("expected %d tuples in [100, 147], got %d in %v", len(input), n, out)
	}
	io := pool.IO()
	if io.Reads-before.Reads != 96 || io.Writes-before.Writes != 96 {
		t.Errorf("expected 96 reads and 96 writes, got %d and %d",
			io.Reads-before.Reads, io.Writes-before.Writes)
	}
	if pool.InUse() != 0 {
		t.Errorf("expected every frame released, %d still in use", pool.InUse())
	}

	got, err := relation.ReadAll(pool, out)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != len(input) {
		t.Fatalf("expected %d tuples back, got %d", len(input), len(got))
	}
	want := sortedCopy(input)
	gotSorted := sortedCopy(got)
	for i := range want {
		if want[i] != gotSorted[i] {
			t.Fatalf("output is not a permutation of the input at %d", i)
		}
		if i > 0 && got[i].A < got[i-1].A {
			t.Fatalf("output not sorted at %d", i)
		}
	}
}

func TestMaximumFanInNeedsFullPool(t *testing.T) {
	pool := newTestPool(t, MaxFanIn+1)
	rng := rand.New(rand.NewSource(8))

	rel, err := relation.Load(pool, 1, randomTuples(rng, 48*tuple.TuplesPerBlock, 1, 999))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	runs, err := SortRuns(pool, rel, DefaultRunBlocks)
	if err != nil {
		t.Fatalf("SortRuns failed: %v", err)
	}

	before := pool.IO()
	if _, _, err := MergeRuns(pool, runs, 100, MaxFanIn); !errors.Is(err, buffer.ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}
	if pool.IO() != before {
		t.Errorf("expected no I/O from a rejected merge, got %s", pool.IO())
	}
}
