package join

import (
	"errors"
	"fmt"
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

func load(t *testing.T, pool *buffer.Pool, base int, ts []tuple.Tuple) relation.Relation {
	t.Helper()
	rel, err := relation.Load(pool, base, ts)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return rel.AsSorted()
}

func randomSorted(rng *rand.Rand, n, lo, hi, maxB int) []tuple.Tuple {
	ts := make([]tuple.Tuple, n)
	for i := range ts {
		ts[i] = tuple.Tuple{A: lo + rng.Intn(hi-lo+1), B: 1 + rng.Intn(maxB)}
	}
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].A < ts[j].A })
	return ts
}

func pairKeys(ts []tuple.Tuple) []string {
	keys := make([]string, 0, len(ts)/2)
	for i := 0; i+1 < len(ts); i += 2 {
		keys = append(keys, fmt.Sprintf("%v-%v", ts[i], ts[i+1]))
	}
	sort.Strings(keys)
	return keys
}

func nestedLoopJoin(r, s []tuple.Tuple) []string {
	var keys []string
	for _, st := range s {
		for _, rt := range r {
			if rt.A == st.A {
				keys = append(keys, fmt.Sprintf("%v-%v", rt, st))
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func bruteDifference(r, s []tuple.Tuple) []tuple.Tuple {
	in := make(map[tuple.Tuple]bool, len(r))
	for _, rt := range r {
		in[rt] = true
	}
	var out []tuple.Tuple
	for _, st := range s {
		if !in[st] {
			out = append(out, st)
		}
	}
	return out
}

func TestJoinExample(t *testing.T) {
	pool := newTestPool(t)
	r := load(t, pool, 0, []tuple.Tuple{{A: 1, B: 10}, {A: 2, B: 20}, {A: 2, B: 21}})
	s := load(t, pool, 1, []tuple.Tuple{{A: 2, B: 20}, {A: 2, B: 99}, {A: 3, B: 30}})

	res, err := Join(pool, r, s, 10)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if res.Count != 4 || res.Tuples != 8 || res.Output != relation.New(10, 11) {
		t.Fatalf("expected 4 pairs in [10, 11], got %+v", res)
	}

	got, _ := relation.ReadAll(pool, res.Output)
	want := []tuple.Tuple{
		{A: 2, B: 20}, {A: 2, B: 20},
		{A: 2, B: 21}, {A: 2, B: 20},
		{A: 2, B: 20}, {A: 2, B: 99},
		{A: 2, B: 21}, {A: 2, B: 99},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tuple %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if pool.InUse() != 0 {
		t.Errorf("Join leaked %d frames", pool.InUse())
	}
}

func TestDifferenceExample(t *testing.T) {
	pool := newTestPool(t)
	r := load(t, pool, 0, []tuple.Tuple{{A: 1, B: 10}, {A: 2, B: 20}, {A: 2, B: 21}})
	s := load(t, pool, 1, []tuple.Tuple{{A: 2, B: 20}, {A: 2, B: 99}, {A: 3, B: 30}})

	res, err := Difference(pool, r, s, 10)
	if err != nil {
		t.Fatalf("Difference failed: %v", err)
	}
	got, _ := relation.ReadAll(pool, res.Output)
	want := []tuple.Tuple{{A: 2, B: 99}, {A: 3, B: 30}}
	if res.Count != 2 || len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v (count %d)", want, got, res.Count)
	}
}

func TestJoinMatchesNestedLoop(t *testing.T) {
	tests := []struct {
		name     string
		rn, sn   int
		rlo, rhi int
		slo, shi int
		seed     int64
	}{
		{"demo shaped", 112, 224, 120, 160, 130, 170, 1},
		{"heavy duplicates", 60, 90, 10, 13, 11, 14, 2},
		{"tiny", 3, 5, 1, 3, 2, 4, 3},
		{"disjoint keys", 20, 20, 1, 50, 60, 90, 4},
		{"empty R", 0, 30, 120, 160, 130, 170, 5},
		{"empty S", 30, 0, 120, 160, 130, 170, 6},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pool := newTestPool(t)
			rng := rand.New(rand.NewSource(tc.seed))

			rts := randomSorted(rng, tc.rn, tc.rlo, tc.rhi, 999)
			sts := randomSorted(rng, tc.sn, tc.slo, tc.shi, 999)
			r := load(t, pool, 1, rts)
			s := load(t, pool, 100, sts)

			res, err := Join(pool, r, s, 400)
			if err != nil {
				t.Fatalf("Join failed: %v", err)
			}
			want := nestedLoopJoin(rts, sts)
			if res.Count != len(want) {
				t.Fatalf("expected %d pairs, got %d", len(want), res.Count)
			}
			got, _ := relation.ReadAll(pool, res.Output)
			keys := pairKeys(got)
			for i := range want {
				if keys[i] != want[i] {
					t.Fatalf("pair %d: expected %s, got %s", i, want[i], keys[i])
				}
			}
			if res.Count == 0 && !res.Output.IsEmpty() {
				t.Errorf("empty join must not write, got %v", res.Output)
			}
		})
	}
}

func TestDifferenceMatchesBruteForce(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			pool := newTestPool(t)
			rng := rand.New(rand.NewSource(seed))

			// A small B domain makes identical tuples common
			rts := randomSorted(rng, 112, 120, 160, 4)
			sts := randomSorted(rng, 224, 130, 170, 4)
			r := load(t, pool, 1, rts)
			s := load(t, pool, 17, sts)

			res, err := Difference(pool, r, s, 700)
			if err != nil {
				t.Fatalf("Difference failed: %v", err)
			}
			want := bruteDifference(rts, sts)
			got, _ := relation.ReadAll(pool, res.Output)
			if res.Count != len(want) || len(got) != len(want) {
				t.Fatalf("expected %d tuples, got count %d, read %d", len(want), res.Count, len(got))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("tuple %d: expected %v, got %v", i, want[i], got[i])
				}
			}
		})
	}
}

func TestJoinRewindsAcrossBlocks(t *testing.T) {
	pool := newTestPool(t)

	// The R run for key 5 spans blocks 0 and 1
	var rts []tuple.Tuple
	for i := 0; i < 5; i++ {
		rts = append(rts, tuple.Tuple{A: 1, B: i + 1})
	}
	for i := 0; i < 6; i++ {
		rts = append(rts, tuple.Tuple{A: 5, B: i + 1})
	}
	r := load(t, pool, 0, rts)
	s := load(t, pool, 10, []tuple.Tuple{{A: 5, B: 100}, {A: 5, B: 200}, {A: 5, B: 300}})

	before := pool.IO()
	res, err := Join(pool, r, s, 20)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if res.Count != 18 {
		t.Errorf("expected 18 pairs, got %d", res.Count)
	}
	// 2 R blocks and 1 S block, then both R blocks again for each repeated key
	if reads := pool.IO().Reads - before.Reads; reads != 7 {
		t.Errorf("expected 7 reads, got %d", reads)
	}
}

func TestUnsortedInputRejected(t *testing.T) {
	pool := newTestPool(t)
	r := relation.New(0, 3)
	s := relation.New(10, 12).AsSorted()

	if _, err := Join(pool, r, s, 100); !errors.Is(err, ErrNotSorted) {
		t.Errorf("expected ErrNotSorted from Join, got %v", err)
	}
	if _, err := Difference(pool, s, r, 100); !errors.Is(err, ErrNotSorted) {
		t.Errorf("expected ErrNotSorted from Difference, got %v", err)
	}
	if pool.NumIO() != 0 {
		t.Errorf("expected no I/O, got %d", pool.NumIO())
	}
}

func TestOutputOverlapRejected(t *testing.T) {
	pool := newTestPool(t)
	r := relation.New(0, 3).AsSorted()
	s := relation.New(10, 12).AsSorted()

	if _, err := Difference(pool, r, s, 2); !errors.Is(err, relation.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}

func TestJoinOutputBelowInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	tests := []struct {
		name         string
		rLo, rHi     int
		sLo, sHi     int
		expectTuples bool
	}{
		{"disjoint keys", 100, 140, 200, 240, false},
		{"overlapping keys", 100, 140, 130, 170, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := newTestPool(t)
			rts := randomSorted(rng, 16*tuple.TuplesPerBlock, tt.rLo, tt.rHi, 999)
			sts := randomSorted(rng, 32*tuple.TuplesPerBlock, tt.sLo, tt.sHi, 999)
			r := load(t, pool, 500, rts)
			s := load(t, pool, 600, sts)

			res, err := Join(pool, r, s, 10)
			if err != nil {
				t.Fatalf("Join failed: %v", err)
			}
			want := nestedLoopJoin(rts, sts)
			if res.Count != len(want) {
				t.Errorf("expected %d pairs, got %d", len(want), res.Count)
			}
			if (res.Tuples > 0) != tt.expectTuples {
				t.Errorf("unexpected output size %d", res.Tuples)
			}
			if res.Output.Start != 10 || (!res.Output.IsEmpty() && res.Output.End >= r.Start) {
				t.Errorf("unexpected output range %v", res.Output)
			}
		})
	}
}

func TestJoinOutputGrowingIntoInputRejected(t *testing.T) {
	pool := newTestPool(t)

	// 14 R tuples and 7 S tuples on one key give 98 pairs, 28 output blocks
	var rts, sts []tuple.Tuple
	for i := 0; i < 14; i++ {
		rts = append(rts, tuple.Tuple{A: 5, B: i + 1})
	}
	for i := 0; i < 7; i++ {
		sts = append(sts, tuple.Tuple{A: 5, B: 100 + i})
	}
	r := load(t, pool, 0, rts)
	s := load(t, pool, 10, sts)

	before := pool.IO()
	res, err := Join(pool, r, s, 2)
	if !errors.Is(err, relation.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	if res.Output != relation.New(2, 9) {
		t.Errorf("expected blocks [2, 9] written before the guard tripped, got %v", res.Output)
	}
	if writes := pool.IO().Writes - before.Writes; writes != 8 {
		t.Errorf("expected 8 writes, got %d", writes)
	}

	got, err := relation.ReadAll(pool, s)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != len(sts) || got[0] != sts[0] {
		t.Errorf("S was overwritten: %v", got)
	}
}

func TestJoinOutputStartInsideInputRejected(t *testing.T) {
	pool := newTestPool(t)
	r := load(t, pool, 0, []tuple.Tuple{{A: 1, B: 1}})
	s := load(t, pool, 10, []tuple.Tuple{{A: 2, B: 2}})

	if _, err := Join(pool, r, s, 10); !errors.Is(err, relation.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}
