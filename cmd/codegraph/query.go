package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/riverglass/codegraph/internal/query"
	"github.com/riverglass/codegraph/internal/store"
)

func runQuery(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: codegraph query <symbol|refs|callers|deps|slice|clones> ...")
		return 1
	}
	sub := args[0]
	rest := args[1:]
	switch sub {
	case "symbol":
		return runQuerySymbol(rest)
	case "refs":
		return runQueryReferences(rest, false)
	case "callers":
		return runQueryReferences(rest, true)
	case "deps":
		return runQueryDeps(rest)
	case "slice":
		return runQuerySlice(rest)
	case "clones":
		return runQueryClones(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown query subcommand %q\n", sub)
		return 1
	}
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: marshal result: %v\n", err)
		return
	}
	fmt.Println(string(b))
}

func openEngine(repo, stateDir, db string) (*query.Engine, *store.Store, func(), error) {
	_, s, _, err := openPaths(repo, stateDir, db)
	if err != nil {
		return nil, nil, nil, err
	}
	return query.New(s), s, func() { s.Close() }, nil
}

func runQuerySymbol(args []string) int {
	fs := newFlagSet()
	repo := fs.str("repo", ".")
	stateDir := fs.str("state-dir", "")
	db := fs.str("db", "")
	jsonOut := fs.boolVal("json", false)

	rest, err := fs.parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "usage: codegraph query symbol NAME")
		return 1
	}
	name := rest[0]

	engine, _, closeFn, err := openEngine(*repo, *stateDir, *db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer closeFn()

	locs, err := engine.SymbolDefinitions(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]any{"symbol_name": name, "definitions": locs})
		return 0
	}
	if len(locs) == 0 {
		fmt.Printf("no definitions found for %s\n", name)
		return 0
	}
	for _, l := range locs {
		fmt.Printf("%s:%d:%d  %s  %s\n", l.FilePath, l.Line, l.Col, l.Kind, l.Qualname)
	}
	return 0
}

func runQueryReferences(args []string, callersOnly bool) int {
	fs := newFlagSet()
	repo := fs.str("repo", ".")
	stateDir := fs.str("state-dir", "")
	db := fs.str("db", "")
	jsonOut := fs.boolVal("json", false)
	callsOnly := fs.boolVal("calls-only", false)
	fileGlob := fs.str("file-glob", "")
	language := fs.str("language", "")
	maxAgeHours := fs.intVal("max-age-hours", 0)
	limit := fs.intVal("limit", 200)
	offset := fs.intVal("offset", 0)
	dedup := fs.boolVal("dedup", true)
	order := fs.str("order", "")
	topFiles := fs.boolVal("top-files", false)

	rest, err := fs.parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "usage: codegraph query refs NAME [flags]")
		return 1
	}
	name := rest[0]

	engine, _, closeFn, err := openEngine(*repo, *stateDir, *db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer closeFn()

	opts := query.DefaultReferencesOptions()
	if callersOnly || *callsOnly {
		opts.EdgeTypeFilter = "calls"
	}
	opts.FileGlob = *fileGlob
	opts.Language = *language
	opts.MaxAgeHours = *maxAgeHours
	opts.Limit = *limit
	opts.Offset = *offset
	opts.Dedup = *dedup
	if *order != "" {
		opts.Order = *order
	}

	result, err := engine.References(name, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if *topFiles {
		counts := map[string]int{}
		for _, r := range result.Rows {
			counts[r.FilePath]++
		}
		if *jsonOut {
			printJSON(map[string]any{"symbol_name": name, "total": result.Total, "top_files": counts})
		} else {
			for f, n := range counts {
				fmt.Printf("%6d  %s\n", n, f)
			}
		}
		return 0
	}

	if *jsonOut {
		printJSON(result)
		return 0
	}
	for _, r := range result.Rows {
		fmt.Printf("%s:%d:%d  %s  %s\n", r.FilePath, r.Line, r.Col, r.EdgeType, r.SymbolName)
	}
	if result.HasMore {
		fmt.Printf("... %d more (offset %d of %d)\n", result.Total-result.Returned-result.Offset, result.NextOffset, result.Total)
	}
	return 0
}

func runQueryDeps(args []string) int {
	fs := newFlagSet()
	repo := fs.str("repo", ".")
	stateDir := fs.str("state-dir", "")
	db := fs.str("db", "")
	jsonOut := fs.boolVal("json", false)
	maxDepth := fs.intVal("max-depth", 8)

	rest, err := fs.parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if len(rest) < 2 {
		fmt.Fprintln(os.Stderr, "usage: codegraph query deps FROM TO [flags]")
		return 1
	}
	from, to := rest[0], rest[1]

	engine, _, closeFn, err := openEngine(*repo, *stateDir, *db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer closeFn()

	result, err := engine.DependencyPath(from, to, *maxDepth)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(result)
		return 0
	}
	if !result.Found {
		fmt.Printf("no path found from %s to %s\n", from, to)
		return 0
	}
	for i, h := range result.Hops {
		fmt.Printf("%d: %s (%s) %s\n", i, h.EntityName, h.EntityType, h.EntityKey)
	}
	return 0
}

func runQuerySlice(args []string) int {
	fs := newFlagSet()
	repo := fs.str("repo", ".")
	stateDir := fs.str("state-dir", "")
	db := fs.str("db", "")
	jsonOut := fs.boolVal("json", false)
	line := fs.intVal("line", 0)
	depth := fs.intVal("depth", 2)
	maxNeighbors := fs.intVal("max-neighbors", 40)
	dedup := fs.boolVal("dedup", true)
	suppressLowSignal := fs.boolVal("suppress-low-signal-repeats", true)
	lowSignalNameCap := fs.intVal("low-signal-name-cap", 1)
	preferProject := fs.boolVal("prefer-project-symbols", true)

	rest, err := fs.parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "usage: codegraph query slice FILE [flags]")
		return 1
	}
	file := rest[0]

	engine, _, closeFn, err := openEngine(*repo, *stateDir, *db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer closeFn()

	opts := query.DefaultSliceOptions()
	if *line > 0 {
		l := int64(*line)
		opts.Line = &l
	}
	opts.Depth = *depth
	opts.MaxNeighbors = *maxNeighbors
	opts.Dedup = *dedup
	opts.SuppressLowSignalRepeats = *suppressLowSignal
	opts.LowSignalNameCap = *lowSignalNameCap
	opts.PreferProjectSymbols = *preferProject

	result, err := engine.Slice(file, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if result == nil {
		if *jsonOut {
			printJSON(map[string]any{"found": false, "file": file})
		} else {
			fmt.Printf("no anchor found for %s\n", file)
		}
		return 0
	}

	if *jsonOut {
		printJSON(map[string]any{"found": true, "anchor": result.Anchor, "neighbors": result.Neighbors})
		return 0
	}
	fmt.Printf("anchor: %s (%s)\n", result.Anchor.Name, result.Anchor.Type)
	for _, n := range result.Neighbors {
		fmt.Printf("  %s %s depth=%d  %s\n", n.Direction, n.EdgeType, n.Depth, n.Entity.Name)
	}
	return 0
}

func runQueryClones(args []string) int {
	fs := newFlagSet()
	repo := fs.str("repo", ".")
	stateDir := fs.str("state-dir", "")
	db := fs.str("db", "")
	jsonOut := fs.boolVal("json", false)
	minSimilarity := fs.floatVal("min-similarity", 0.02)
	limit := fs.intVal("limit", 50)
	offset := fs.intVal("offset", 0)
	hotspots := fs.boolVal("hotspots", false)

	rest, err := fs.parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "usage: codegraph query clones FILE [flags]")
		return 1
	}
	file := rest[0]

	engine, _, closeFn, err := openEngine(*repo, *stateDir, *db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer closeFn()

	opts := query.DefaultCloneOptions()
	opts.MinSimilarity = *minSimilarity
	opts.Limit = *limit
	opts.Offset = *offset

	if *hotspots {
		result, err := engine.CloneHotspots(file, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		if *jsonOut {
			printJSON(result)
			return 0
		}
		for _, b := range result.Buckets {
			fmt.Printf("%s  files=%d avg=%.3f max=%.3f\n", b.Directory, len(b.Files), b.AvgSimilarity, b.MaxSimilarity)
		}
		if result.Analysis.EmptyReason != "" {
			fmt.Println(result.Analysis.EmptyReason)
		}
		return 0
	}

	result, err := engine.CloneMatches(file, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if *jsonOut {
		printJSON(result)
		return 0
	}
	for _, r := range result.Rows {
		fmt.Printf("%.3f  %s  shared=%d\n", r.Similarity, r.OtherFile, r.SharedFingerprints)
	}
	if result.Analysis.EmptyReason != "" {
		fmt.Println(result.Analysis.EmptyReason)
	}
	return 0
}
