package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/riverglass/codegraph/internal/indexer"
	"github.com/riverglass/codegraph/internal/rpc"
)

func runMCP(args []string) int {
	fs := newFlagSet()
	repo := fs.str("repo", ".")
	stateDir := fs.str("state-dir", "")
	db := fs.str("db", "")
	autoIndex := fs.boolVal("auto-index", true)
	fullFirst := fs.boolVal("full-first", false)

	if _, err := fs.parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	paths, s, cfg, err := openPaths(*repo, *stateDir, *db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer s.Close()

	logger := newLogger(false)

	if *autoIndex {
		report, err := indexer.Run(context.Background(), s, paths.RepoRoot, indexer.Options{Full: *fullFirst})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		logger.Info("mcp.auto_index",
			"indexed", report.IndexedFiles, "skipped", report.SkippedFiles,
			"removed", report.RemovedFiles, "parse_failures", report.ParseFailures)
	}

	srv := rpc.NewServer(s, paths, cfg, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := srv.Run(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
