package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/riverglass/codegraph/internal/indexer"
	"github.com/riverglass/codegraph/internal/runpath"
	"github.com/riverglass/codegraph/internal/watcher"
)

func runServe(args []string) int {
	fs := newFlagSet()
	repo := fs.str("repo", ".")
	stateDir := fs.str("state-dir", "")
	db := fs.str("db", "")
	fullFirst := fs.boolVal("full-first", false)
	debounceMS := fs.intVal("debounce-ms", -1)
	jsonOut := fs.boolVal("json", false)

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

	logger := newLogger(*jsonOut)
	effectiveDebounce := *debounceMS
	if effectiveDebounce < 0 {
		effectiveDebounce = cfg.EffectiveDebounceMS(300)
	}

	indexFn := func(ctx context.Context, full bool) error {
		report, err := indexer.Run(ctx, s, paths.RepoRoot, indexer.Options{Full: full})
		if err != nil {
			return err
		}
		logger.Info("index.report",
			"indexed", report.IndexedFiles, "skipped", report.SkippedFiles,
			"removed", report.RemovedFiles, "parse_failures", report.ParseFailures)
		for _, e := range report.Errors {
			logger.Warn("index.error", "detail", e)
		}
		return nil
	}

	w, err := watcher.New(paths.RepoRoot, runpath.StateDirName, effectiveDebounce, indexFn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer w.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("serve.start", "repo_root", paths.RepoRoot, "db", paths.DBPath, "debounce_ms", effectiveDebounce)
	if err := w.Run(ctx, *fullFirst); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
