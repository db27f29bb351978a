package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunMCPExitsCleanlyOnStdinEOF(t *testing.T) {
	repo := t.TempDir()
	writeRepoFile(t, repo, "src/lib.rs", "pub fn greet() {}\n")

	stdin, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("open devnull: %v", err)
	}
	defer stdin.Close()
	oldStdin := os.Stdin
	os.Stdin = stdin
	defer func() { os.Stdin = oldStdin }()

	if code := runMCP([]string{"--repo", repo, "--auto-index=false"}); code != 0 {
		t.Fatalf("runMCP() = %d, want 0 on clean stdin EOF", code)
	}
}

func TestRunMCPAutoIndexesBeforeServing(t *testing.T) {
	repo := t.TempDir()
	writeRepoFile(t, repo, "src/lib.rs", "pub fn greet() {}\n")

	stdin, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("open devnull: %v", err)
	}
	defer stdin.Close()
	oldStdin := os.Stdin
	os.Stdin = stdin
	defer func() { os.Stdin = oldStdin }()

	if code := runMCP([]string{"--repo", repo}); code != 0 {
		t.Fatalf("runMCP() = %d, want 0", code)
	}

	if _, err := os.Stat(filepath.Join(repo, ".codegraph", "graph.db")); err != nil {
		t.Fatalf("expected graph.db to be created by auto-index, stat err = %v", err)
	}
}
