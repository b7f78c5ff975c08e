package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/KevoDB/blockq/pkg/engine"
	"github.com/KevoDB/blockq/pkg/relation"
	"github.com/KevoDB/blockq/pkg/selection"
	"github.com/KevoDB/blockq/pkg/tuple"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".gen"),
	readline.PcItem(".list"),
	readline.PcItem(".dump"),
	readline.PcItem(".stats"),
	readline.PcItem(".export"),
	readline.PcItem(".import"),
	readline.PcItem(".demo"),
	readline.PcItem(".exit"),
	readline.PcItem("SELECT"),
	readline.PcItem("SORT"),
	readline.PcItem("INDEX"),
	readline.PcItem("ISELECT"),
	readline.PcItem("JOIN"),
	readline.PcItem("DIFF"),
)

const helpText = `
blockq - external-memory tuple query engine

Relations are named block ranges. A relation argument is either a name or an
explicit range written START:END, which is treated as unsorted. Query
results may be named with AS name.

Commands:
  .help                       - Show this help message
  .gen NAME BASE BLOCKS LO HI - Generate BLOCKS full blocks with A in [LO, HI] at BASE
  .list                       - List named relations and indexes
  .dump REL                   - Print every tuple of a relation
  .stats                      - Show engine statistics
  .export FILE                - Write a snapshot of every block to FILE
  .import FILE                - Restore blocks from a snapshot FILE
  .demo [SEED]                - Run the demo sequence
  .exit                       - Exit the program

  SELECT REL KEY DST          - Linear selection of A == KEY into blocks from DST
  SORT REL DST                - Two-phase multiway merge sort into blocks from DST
  INDEX REL BASE              - Build a sparse index over sorted REL at BASE
  ISELECT IDX KEY DST         - Index-driven selection of A == KEY into blocks from DST
  JOIN R S DST                - Sort-merge join of sorted R and S on A
  DIFF R S DST                - Tuples of sorted S that are not in sorted R
`

// errUsage marks malformed shell input
var errUsage = errors.New("usage")

type shell struct {
	eng     *engine.Engine
	out     io.Writer
	seed    int64
	rels    map[string]relation.Relation
	indexes map[string]selection.Index
}

func newShell(eng *engine.Engine, out io.Writer, seed int64) *shell {
	return &shell{
		eng:     eng,
		out:     out,
		seed:    seed,
		rels:    make(map[string]relation.Relation),
		indexes: make(map[string]selection.Index),
	}
}

// runInteractive starts the interactive shell
func runInteractive(eng *engine.Engine, dataDir string, seed int64) {
	fmt.Println("blockq shell")
	fmt.Println("Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".blockq_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "blockq> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	if dataDir != "" {
		rl.SetPrompt(fmt.Sprintf("blockq:%s> ", dataDir))
	}

	sh := newShell(eng, rl.Stdout(), seed)
	ctx := context.Background()
	for {
		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				fmt.Println("Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		quit, err := sh.execute(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		if quit {
			fmt.Println("Goodbye!")
			return
		}
	}
}

// execute runs one shell line and reports whether the shell should exit
func (s *shell) execute(ctx context.Context, line string) (bool, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false, nil
	}

	// Trailing "AS name" names the result
	name := ""
	if n := len(parts); n >= 3 && strings.EqualFold(parts[n-2], "AS") {
		name = parts[n-1]
		parts = parts[:n-2]
	}

	cmd := parts[0]
	args := parts[1:]
	if strings.HasPrefix(cmd, ".") {
		switch strings.ToLower(cmd) {
		case ".help":
			fmt.Fprint(s.out, helpText)
		case ".exit":
			return true, nil
		case ".gen":
			return false, s.gen(ctx, args)
		case ".list":
			s.list()
		case ".dump":
			return false, s.dump(ctx, args)
		case ".stats":
			s.stats()
		case ".export":
			return false, s.export(ctx, args)
		case ".import":
			return false, s.restore(ctx, args)
		case ".demo":
			seed := s.seed
			if len(args) > 0 {
				v, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return false, fmt.Errorf("%w: .demo [SEED]", errUsage)
				}
				seed = v
			}
			return false, runDemo(ctx, s.eng, s.out, seed)
		default:
			return false, fmt.Errorf("unknown command: %s", cmd)
		}
		return false, nil
	}

	switch strings.ToUpper(cmd) {
	case "SELECT":
		return false, s.selectCmd(ctx, args, name)
	case "SORT":
		return false, s.sortCmd(ctx, args, name)
	case "INDEX":
		return false, s.indexCmd(ctx, args, name)
	case "ISELECT":
		return false, s.indexSelectCmd(ctx, args, name)
	case "JOIN", "DIFF":
		return false, s.coScanCmd(ctx, strings.ToUpper(cmd), args, name)
	default:
		return false, fmt.Errorf("unknown command: %s", cmd)
	}
}

// ints parses every argument as a non-negative integer
func ints(args []string) ([]int, error) {
	out := make([]int, len(args))
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("expected a non-negative integer, got %q", a)
		}
		out[i] = v
	}
	return out, nil
}

// resolve looks up a named relation or parses START:END
func (s *shell) resolve(arg string) (relation.Relation, error) {
	if rel, ok := s.rels[arg]; ok {
		return rel, nil
	}
	if start, end, ok := strings.Cut(arg, ":"); ok {
		bounds, err := ints([]string{start, end})
		if err != nil {
			return relation.Relation{}, err
		}
		return relation.New(bounds[0], bounds[1]), nil
	}
	return relation.Relation{}, fmt.Errorf("unknown relation %q", arg)
}

func (s *shell) bind(name string, rel relation.Relation) {
	if name != "" {
		s.rels[name] = rel
	}
}

func (s *shell) report(res engine.Result) {
	fmt.Fprintf(s.out, "%s: %d -> %v (%s, %s)\n", res.Op, res.Count, res.Output, res.IO, res.Duration.Round(time.Microsecond))
}

func (s *shell) gen(ctx context.Context, args []string) error {
	if len(args) != 5 {
		return fmt.Errorf("%w: .gen NAME BASE BLOCKS LO HI", errUsage)
	}
	nums, err := ints(args[1:])
	if err != nil {
		return err
	}
	base, blocks, lo, hi := nums[0], nums[1], nums[2], nums[3]
	if lo < 1 || hi < lo || hi >= tuple.MaxFieldValue {
		return fmt.Errorf("key range [%d, %d] must lie in [1, %d]", lo, hi, tuple.MaxFieldValue-1)
	}

	rng := rand.New(rand.NewSource(s.seed + int64(base)))
	ts := relation.Generate(rng, blocks*tuple.TuplesPerBlock, lo, hi, 999)
	res, err := s.eng.Load(ctx, base, ts)
	if err != nil {
		return err
	}
	s.rels[args[0]] = res.Output
	s.report(res)
	return nil
}

func (s *shell) list() {
	names := make([]string, 0, len(s.rels))
	for name := range s.rels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(s.out, "  %-12s %v\n", name, s.rels[name])
	}

	names = names[:0]
	for name := range s.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		idx := s.indexes[name]
		fmt.Fprintf(s.out, "  %-12s index %v over %v, %d entries\n", name, idx.Blocks, idx.Data, idx.Entries)
	}
}

func (s *shell) dump(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: .dump REL", errUsage)
	}
	rel, err := s.resolve(args[0])
	if err != nil {
		return err
	}
	tuples, res, err := s.eng.Dump(ctx, rel)
	if err != nil {
		return err
	}
	for i, t := range tuples {
		fmt.Fprintf(s.out, "%s ", t)
		if (i+1)%tuple.TuplesPerBlock == 0 {
			fmt.Fprintln(s.out)
		}
	}
	if len(tuples)%tuple.TuplesPerBlock != 0 {
		fmt.Fprintln(s.out)
	}
	s.report(res)
	return nil
}

func (s *shell) stats() {
	st := s.eng.Stats()
	keys := make([]string, 0, len(st))
	for k := range st {
		if strings.HasPrefix(k, "last_") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(s.out, "Engine Statistics:")
	for _, k := range keys {
		fmt.Fprintf(s.out, "  %s: %v\n", k, st[k])
	}
}

func (s *shell) export(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: .export FILE", errUsage)
	}
	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	res, err := s.eng.Snapshot(ctx, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close snapshot file: %w", cerr)
	}
	if err != nil {
		return err
	}
	s.report(res)
	return nil
}

func (s *shell) restore(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: .import FILE", errUsage)
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()

	res, err := s.eng.Restore(ctx, f)
	if err != nil {
		return err
	}
	s.report(res)
	return nil
}

func (s *shell) selectCmd(ctx context.Context, args []string, name string) error {
	if len(args) != 3 {
		return fmt.Errorf("%w: SELECT REL KEY DST", errUsage)
	}
	rel, err := s.resolve(args[0])
	if err != nil {
		return err
	}
	nums, err := ints(args[1:])
	if err != nil {
		return err
	}
	res, err := s.eng.Select(ctx, rel, nums[0], nums[1])
	if err != nil {
		return err
	}
	s.bind(name, res.Output)
	s.report(res)
	return nil
}

func (s *shell) sortCmd(ctx context.Context, args []string, name string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: SORT REL DST", errUsage)
	}
	rel, err := s.resolve(args[0])
	if err != nil {
		return err
	}
	nums, err := ints(args[1:])
	if err != nil {
		return err
	}
	res, err := s.eng.Sort(ctx, rel, nums[0])
	if err != nil {
		return err
	}
	s.bind(name, res.Output)
	s.report(res)
	return nil
}

func (s *shell) indexCmd(ctx context.Context, args []string, name string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: INDEX REL BASE", errUsage)
	}
	rel, err := s.resolve(args[0])
	if err != nil {
		return err
	}
	nums, err := ints(args[1:])
	if err != nil {
		return err
	}
	idx, res, err := s.eng.BuildIndex(ctx, rel, nums[0])
	if err != nil {
		return err
	}
	if name == "" {
		name = args[0] + ".idx"
	}
	s.indexes[name] = idx
	fmt.Fprintf(s.out, "index %s\n", name)
	s.report(res)
	return nil
}

func (s *shell) indexSelectCmd(ctx context.Context, args []string, name string) error {
	if len(args) != 3 {
		return fmt.Errorf("%w: ISELECT IDX KEY DST", errUsage)
	}
	idx, ok := s.indexes[args[0]]
	if !ok {
		return fmt.Errorf("unknown index %q", args[0])
	}
	nums, err := ints(args[1:])
	if err != nil {
		return err
	}
	res, err := s.eng.IndexSelect(ctx, idx, nums[0], nums[1])
	if err != nil {
		return err
	}
	s.bind(name, res.Output)
	s.report(res)
	return nil
}

func (s *shell) coScanCmd(ctx context.Context, cmd string, args []string, name string) error {
	if len(args) != 3 {
		return fmt.Errorf("%w: %s R S DST", errUsage, cmd)
	}
	r, err := s.resolve(args[0])
	if err != nil {
		return err
	}
	rs, err := s.resolve(args[1])
	if err != nil {
		return err
	}
	nums, err := ints(args[2:])
	if err != nil {
		return err
	}

	var res engine.Result
	if cmd == "JOIN" {
		res, err = s.eng.Join(ctx, r, rs, nums[0])
	} else {
		res, err = s.eng.Difference(ctx, r, rs, nums[0])
	}
	if err != nil {
		return err
	}
	s.bind(name, res.Output)
	s.report(res)
	return nil
}
