package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"

	"github.com/KevoDB/blockq/pkg/engine"
	"github.com/KevoDB/blockq/pkg/relation"
	"github.com/KevoDB/blockq/pkg/tuple"
)

// Demo layout: R and S are loaded unsorted, every result gets its own range
const (
	demoRBase           = 1
	demoRBlocks         = 16
	demoSBase           = 17
	demoSBlocks         = 32
	demoKey             = 128
	demoSelectBase      = 100
	demoSortedRBase     = 301
	demoSortedSBase     = 317
	demoIndexBase       = 350
	demoIndexSelectBase = 360
	demoJoinBase        = 400
	demoDifferenceBase  = 700
)

// Demo key domains; they overlap on [120, 140] so the join has matches
const (
	demoRLo, demoRHi = 100, 140
	demoSLo, demoSHi = 120, 160
	demoMaxB         = 999
)

type demoStep struct {
	Title  string
	Result engine.Result
}

// demo runs the full sequence: linear selection on S, two-phase sort of R
// and S, index build and index selection on sorted S, then join and
// difference of the sorted copies.
func demo(ctx context.Context, eng *engine.Engine, seed int64) ([]demoStep, error) {
	var steps []demoStep
	record := func(title string, res engine.Result, err error) error {
		if err != nil {
			return fmt.Errorf("%s: %w", title, err)
		}
		steps = append(steps, demoStep{Title: title, Result: res})
		return nil
	}

	rng := rand.New(rand.NewSource(seed))
	rTuples := relation.Generate(rng, demoRBlocks*tuple.TuplesPerBlock, demoRLo, demoRHi, demoMaxB)
	sTuples := relation.Generate(rng, demoSBlocks*tuple.TuplesPerBlock, demoSLo, demoSHi, demoMaxB)

	res, err := eng.Load(ctx, demoRBase, rTuples)
	if err := record("load R", res, err); err != nil {
		return steps, err
	}
	r := res.Output

	res, err = eng.Load(ctx, demoSBase, sTuples)
	if err := record("load S", res, err); err != nil {
		return steps, err
	}
	s := res.Output

	res, err = eng.Select(ctx, s, demoKey, demoSelectBase)
	if err := record(fmt.Sprintf("linear select S.A = %d", demoKey), res, err); err != nil {
		return steps, err
	}

	res, err = eng.Sort(ctx, r, demoSortedRBase)
	if err := record("sort R", res, err); err != nil {
		return steps, err
	}
	sortedR := res.Output

	res, err = eng.Sort(ctx, s, demoSortedSBase)
	if err := record("sort S", res, err); err != nil {
		return steps, err
	}
	sortedS := res.Output

	idx, res, err := eng.BuildIndex(ctx, sortedS, demoIndexBase)
	if err := record("index sorted S", res, err); err != nil {
		return steps, err
	}

	res, err = eng.IndexSelect(ctx, idx, demoKey, demoIndexSelectBase)
	if err := record(fmt.Sprintf("index select S.A = %d", demoKey), res, err); err != nil {
		return steps, err
	}

	res, err = eng.Join(ctx, sortedR, sortedS, demoJoinBase)
	if err := record("join R.A = S.A", res, err); err != nil {
		return steps, err
	}

	res, err = eng.Difference(ctx, sortedR, sortedS, demoDifferenceBase)
	if err := record("difference S - R", res, err); err != nil {
		return steps, err
	}

	return steps, nil
}

// runDemo runs the demo sequence and prints every step with its I/O
func runDemo(ctx context.Context, eng *engine.Engine, w io.Writer, seed int64) error {
	steps, err := demo(ctx, eng, seed)
	for _, step := range steps {
		res := step.Result
		fmt.Fprintf(w, "%-26s %5d -> %-18v reads %4d  writes %4d  io %4d\n",
			step.Title, res.Count, res.Output, res.IO.Reads, res.IO.Writes, res.IO.Total())
	}
	if err != nil {
		return err
	}

	// Show the matching tuples of both selections
	for _, step := range steps {
		if step.Result.Output.Start != demoSelectBase && step.Result.Output.Start != demoIndexSelectBase {
			continue
		}
		tuples, _, err := eng.Dump(ctx, step.Result.Output)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s:", step.Title)
		for _, t := range tuples {
			fmt.Fprintf(w, " %s", t)
		}
		fmt.Fprintln(w)
	}
	return nil
}
