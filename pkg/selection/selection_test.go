package selection

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

func newTestPool(t *testing.T) *buffer.Pool {
	t.Helper()
	pool, err := buffer.New(disk.NewMemDisk(), 10, buffer.WithLogger(log.NewDiscardLogger()))
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	return pool
}

// loadSorted writes n random tuples with keys in [lo, hi] in sorted order
func loadSorted(t *testing.T, pool *buffer.Pool, base, n, lo, hi int, seed int64) (relation.Relation, []tuple.Tuple) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	ts := make([]tuple.Tuple, n)
	for i := range ts {
		ts[i] = tuple.Tuple{A: lo + rng.Intn(hi-lo+1), B: 1 + rng.Intn(999)}
	}
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].A < ts[j].A })
	rel, err := relation.Load(pool, base, ts)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return rel.AsSorted(), ts
}

func count(ts []tuple.Tuple, key int) int {
	n := 0
	for _, t := range ts {
		if t.A == key {
			n++
		}
	}
	return n
}

func TestSelectEquals(t *testing.T) {
	pool := newTestPool(t)
	rel, err := relation.Load(pool, 0, []tuple.Tuple{{A: 5, B: 1}, {A: 7, B: 2}, {A: 5, B: 3}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	before := pool.IO()
	res, err := SelectEquals(pool, rel, 5, 100)
	if err != nil {
		t.Fatalf("SelectEquals failed: %v", err)
	}
	if res.Count != 2 {
		t.Errorf("expected 2 matches, got %d", res.Count)
	}
	io := pool.IO()
	if io.Reads-before.Reads != 1 || io.Writes-before.Writes != 1 {
		t.Errorf("expected 1 read and 1 write, got %d and %d",
			io.Reads-before.Reads, io.Writes-before.Writes)
	}

	got, _ := relation.ReadAll(pool, res.Output)
	want := []tuple.Tuple{{A: 5, B: 1}, {A: 5, B: 3}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v", want, got)
	}
	if pool.InUse() != 0 {
		t.Errorf("SelectEquals leaked %d frames", pool.InUse())
	}
}

func TestSelectEqualsForcesFinalFlush(t *testing.T) {
	tests := []struct {
		name       string
		matches    int
		wantWrites uint64
	}{
		{"no matches", 0, 1},
		{"partial block", 3, 1},
		{"exactly one block", 7, 2},
		{"two blocks and a bit", 15, 3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pool := newTestPool(t)
			ts := make([]tuple.Tuple, 0, 20)
			for i := 0; i < tc.matches; i++ {
				ts = append(ts, tuple.Tuple{A: 42, B: i + 1})
			}
			for len(ts) < 20 {
				ts = append(ts, tuple.Tuple{A: 7, B: len(ts)})
			}
			rel, err := relation.Load(pool, 0, ts)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			before := pool.IO()
			res, err := SelectEquals(pool, rel, 42, 100)
			if err != nil {
				t.Fatalf("SelectEquals failed: %v", err)
			}
			if res.Count != tc.matches {
				t.Errorf("expected %d matches, got %d", tc.matches, res.Count)
			}
			if w := pool.IO().Writes - before.Writes; w != tc.wantWrites {
				t.Errorf("expected %d writes, got %d", tc.wantWrites, w)
			}
			if res.Output.Blocks() != int(tc.wantWrites) {
				t.Errorf("expected %d output blocks, got %v", tc.wantWrites, res.Output)
			}
		})
	}
}

func TestSelectEqualsRejectsOverlappingOutput(t *testing.T) {
	pool := newTestPool(t)
	_, err := SelectEquals(pool, relation.New(10, 20), 5, 15)
	if !errors.Is(err, relation.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
	if pool.NumIO() != 0 {
		t.Errorf("expected no I/O, got %d", pool.NumIO())
	}
}

func TestBuildIndex(t *testing.T) {
	pool := newTestPool(t)
	rel, ts := loadSorted(t, pool, 317, 224, 130, 170, 3)

	before := pool.IO()
	idx, err := BuildIndex(pool, rel, 350)
	if err != nil {
		t.Fatalf("BuildIndex failed: %v", err)
	}
	io := pool.IO()
	if io.Reads-before.Reads != 32 || io.Writes-before.Writes != 5 {
		t.Errorf("expected 32 reads and 5 writes, got %d and %d",
			io.Reads-before.Reads, io.Writes-before.Writes)
	}
	if idx.Entries != 32 || idx.Blocks != relation.New(350, 354) {
		t.Fatalf("unexpected index %+v", idx)
	}

	entries, err := ReadEntries(pool, idx)
	if err != nil {
		t.Fatalf("ReadEntries failed: %v", err)
	}
	for i, e := range entries {
		if e.Block != 317+i || e.FirstKey != ts[i*tuple.TuplesPerBlock].A {
			t.Errorf("entry %d: expected %d->%d, got %v", i, ts[i*tuple.TuplesPerBlock].A, 317+i, e)
		}
	}
}

func TestBuildIndexFlushesEmptyFinalBlock(t *testing.T) {
	pool := newTestPool(t)
	rel, _ := loadSorted(t, pool, 0, 49, 1, 50, 9)

	idx, err := BuildIndex(pool, rel, 100)
	if err != nil {
		t.Fatalf("BuildIndex failed: %v", err)
	}
	if idx.Entries != 7 || idx.Blocks != relation.New(100, 101) {
		t.Errorf("expected a full block and an empty final block, got %+v", idx)
	}
}

func TestBuildIndexErrors(t *testing.T) {
	pool := newTestPool(t)

	if _, err := BuildIndex(pool, relation.New(0, 3), 100); !errors.Is(err, ErrNotSorted) {
		t.Errorf("expected ErrNotSorted, got %v", err)
	}
	if _, err := BuildIndex(pool, relation.New(9998, 10001).AsSorted(), 0); !errors.Is(err, ErrBlockIDRange) {
		t.Errorf("expected ErrBlockIDRange, got %v", err)
	}
	if _, err := BuildIndex(pool, relation.New(0, 20).AsSorted(), 20); !errors.Is(err, relation.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
	if pool.NumIO() != 0 {
		t.Errorf("argument errors must not cost I/O, got %d", pool.NumIO())
	}
}

func TestRangeOf(t *testing.T) {
	entries := []Entry{{10, 1}, {20, 2}, {20, 3}, {30, 4}, {40, 5}}

	tests := []struct {
		name   string
		target int
		lo, hi int
		ok     bool
	}{
		{"below first key", 5, 0, 0, false},
		{"equal to first key", 10, 1, 1, true},
		{"inside first block", 15, 1, 1, true},
		{"exact match spanning blocks", 20, 1, 3, true},
		{"between keys", 25, 3, 3, true},
		{"exact match", 30, 3, 4, true},
		{"past the last key", 99, 5, 5, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lo, hi, ok := RangeOf(entries, tc.target)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if ok && (lo != tc.lo || hi != tc.hi) {
				t.Errorf("expected [%d, %d], got [%d, %d]", tc.lo, tc.hi, lo, hi)
			}
		})
	}
}

func TestFindRangeStopsEarly(t *testing.T) {
	pool := newTestPool(t)
	rel, _ := loadSorted(t, pool, 317, 224, 130, 170, 5)
	idx, err := BuildIndex(pool, rel, 350)
	if err != nil {
		t.Fatalf("BuildIndex failed: %v", err)
	}
	entries, _ := ReadEntries(pool, idx)

	target := entries[0].FirstKey
	before := pool.IO()
	lo, hi, ok, err := FindRange(pool, idx, target)
	if err != nil || !ok {
		t.Fatalf("FindRange failed: %v, ok=%v", err, ok)
	}
	if lo != entries[0].Block {
		t.Errorf("expected lo %d, got %d", entries[0].Block, lo)
	}
	if hi < lo {
		t.Errorf("empty range [%d, %d]", lo, hi)
	}
	if reads := pool.IO().Reads - before.Reads; reads > 2 {
		t.Errorf("lookup of the smallest key should read at most 2 index blocks, read %d", reads)
	}
}

func TestIndexSelectMatchesLinearSelect(t *testing.T) {
	pool := newTestPool(t)
	rel, ts := loadSorted(t, pool, 317, 224, 130, 170, 11)
	idx, err := BuildIndex(pool, rel, 350)
	if err != nil {
		t.Fatalf("BuildIndex failed: %v", err)
	}

	for target := 125; target <= 175; target++ {
		res, err := IndexSelect(pool, idx, target, 560)
		if err != nil {
			t.Fatalf("IndexSelect(%d) failed: %v", target, err)
		}
		if want := count(ts, target); res.Count != want {
			t.Errorf("IndexSelect(%d): expected %d matches, got %d", target, want, res.Count)
		}
		got, _ := relation.ReadAll(pool, res.Output)
		for _, g := range got {
			if g.A != target {
				t.Errorf("IndexSelect(%d) returned %v", target, g)
			}
		}
	}
	if pool.InUse() != 0 {
		t.Errorf("IndexSelect leaked %d frames", pool.InUse())
	}
}

func TestIndexSelectReadsFewerBlocks(t *testing.T) {
	pool := newTestPool(t)
	rel, _ := loadSorted(t, pool, 317, 224, 130, 170, 13)
	idx, err := BuildIndex(pool, rel, 350)
	if err != nil {
		t.Fatalf("BuildIndex failed: %v", err)
	}

	before := pool.IO()
	if _, err := SelectEquals(pool, rel, 150, 500); err != nil {
		t.Fatalf("SelectEquals failed: %v", err)
	}
	linear := pool.IO().Reads - before.Reads

	before = pool.IO()
	if _, err := IndexSelect(pool, idx, 150, 560); err != nil {
		t.Fatalf("IndexSelect failed: %v", err)
	}
	indexed := pool.IO().Reads - before.Reads

	if indexed >= linear {
		t.Errorf("expected indexed selection to read fewer blocks: %d vs %d", indexed, linear)
	}
}

func TestIndexSelectNoCandidates(t *testing.T) {
	pool := newTestPool(t)
	rel, _ := loadSorted(t, pool, 0, 30, 100, 200, 17)
	idx, err := BuildIndex(pool, rel, 50)
	if err != nil {
		t.Fatalf("BuildIndex failed: %v", err)
	}

	res, err := IndexSelect(pool, idx, 1, 80)
	if err != nil {
		t.Fatalf("IndexSelect failed: %v", err)
	}
	if res.Count != 0 || res.Output != relation.New(80, 80) {
		t.Errorf("expected one empty output block, got %+v", res)
	}
}
