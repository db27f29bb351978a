package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/riverglass/codegraph/internal/indexer"
)

func runIndex(args []string) int {
	fs := newFlagSet()
	repo := fs.str("repo", ".")
	stateDir := fs.str("state-dir", "")
	db := fs.str("db", "")
	full := fs.boolVal("full", false)
	jsonOut := fs.boolVal("json", false)

	if _, err := fs.parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	paths, s, _, err := openPaths(*repo, *stateDir, *db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer s.Close()
	newLogger(*jsonOut)

	report, err := indexer.Run(context.Background(), s, paths.RepoRoot, indexer.Options{Full: *full})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if *jsonOut {
		printIndexJSON(report)
	} else {
		printIndexReport(report)
	}
	if len(report.Errors) > 0 {
		return 1
	}
	return 0
}

func printIndexJSON(report *indexer.Report) {
	b, _ := json.MarshalIndent(map[string]any{
		"repo_root":      report.RepoRoot,
		"indexed_files":  report.IndexedFiles,
		"skipped_files":  report.SkippedFiles,
		"removed_files":  report.RemovedFiles,
		"parse_failures": report.ParseFailures,
		"errors":         report.Errors,
	}, "", "  ")
	fmt.Println(string(b))
}

func printIndexReport(report *indexer.Report) {
	fmt.Printf("indexed %s\n", report.RepoRoot)
	fmt.Printf("  indexed: %d  skipped: %d  removed: %d  parse_failures: %d\n",
		report.IndexedFiles, report.SkippedFiles, report.RemovedFiles, report.ParseFailures)
	for _, e := range report.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}
