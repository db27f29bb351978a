package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/riverglass/codegraph/internal/store"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() err = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() err = %v", err)
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() err = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunIndexesOneFile(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "src", "lib.rs"), "pub fn greet() {}\n")
	s := newTestStore(t)

	report, err := Run(context.Background(), s, repo, Options{})
	if err != nil {
		t.Fatalf("Run() err = %v", err)
	}
	if report.IndexedFiles != 1 || report.SkippedFiles != 0 || report.RemovedFiles != 0 {
		t.Fatalf("Run() report = %+v, want one indexed file", report)
	}

	defs, err := s.SymbolDefinitions("greet")
	if err != nil {
		t.Fatalf("SymbolDefinitions() err = %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("SymbolDefinitions(greet) = %+v, want one definition", defs)
	}
}

func TestRunIncrementalSkipsUnchangedFile(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "src", "lib.rs"), "pub fn greet() {}\n")
	s := newTestStore(t)

	first, err := Run(context.Background(), s, repo, Options{})
	if err != nil {
		t.Fatalf("Run(first) err = %v", err)
	}
	second, err := Run(context.Background(), s, repo, Options{})
	if err != nil {
		t.Fatalf("Run(second) err = %v", err)
	}

	if first.IndexedFiles != 1 {
		t.Errorf("first.IndexedFiles = %d, want 1", first.IndexedFiles)
	}
	if second.IndexedFiles != 0 || second.SkippedFiles != 1 {
		t.Errorf("second report = %+v, want 0 indexed, 1 skipped", second)
	}
}

func TestRunFullRebuildReindexesWithoutSkips(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "src", "lib.rs"), "pub fn greet() {}\n")
	s := newTestStore(t)

	if _, err := Run(context.Background(), s, repo, Options{}); err != nil {
		t.Fatalf("Run(first) err = %v", err)
	}
	rebuild, err := Run(context.Background(), s, repo, Options{Full: true})
	if err != nil {
		t.Fatalf("Run(full) err = %v", err)
	}
	if rebuild.IndexedFiles != 1 || rebuild.SkippedFiles != 0 {
		t.Errorf("rebuild report = %+v, want 1 indexed, 0 skipped", rebuild)
	}
}

func TestRunRemovesStaleFiles(t *testing.T) {
	repo := t.TempDir()
	path := filepath.Join(repo, "src", "lib.rs")
	writeFile(t, path, "pub fn greet() {}\n")
	s := newTestStore(t)

	if _, err := Run(context.Background(), s, repo, Options{}); err != nil {
		t.Fatalf("Run(first) err = %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove() err = %v", err)
	}

	report, err := Run(context.Background(), s, repo, Options{})
	if err != nil {
		t.Fatalf("Run(second) err = %v", err)
	}
	if report.RemovedFiles != 1 {
		t.Errorf("report.RemovedFiles = %d, want 1", report.RemovedFiles)
	}
	if defs, err := s.SymbolDefinitions("greet"); err != nil || len(defs) != 0 {
		t.Errorf("SymbolDefinitions(greet) after removal = %+v, err %v, want empty", defs, err)
	}
}

func TestRunRecordsFastHashAlongsideContentHash(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "src", "lib.rs"), "pub fn greet() {}\n")
	s := newTestStore(t)

	if _, err := Run(context.Background(), s, repo, Options{}); err != nil {
		t.Fatalf("Run() err = %v", err)
	}

	contentHash, tracked, err := s.TrackedFileHash("src/lib.rs")
	if err != nil || !tracked || contentHash == "" {
		t.Fatalf("TrackedFileHash() = (%q, %v), err %v, want a non-empty tracked hash", contentHash, tracked, err)
	}
	fastHash, tracked, err := s.TrackedFileFastHash("src/lib.rs")
	if err != nil || !tracked || fastHash == "" {
		t.Fatalf("TrackedFileFastHash() = (%q, %v), err %v, want a non-empty tracked hash", fastHash, tracked, err)
	}
	if fastHash == contentHash {
		t.Errorf("fastHash and contentHash unexpectedly equal; want distinct digests from distinct algorithms")
	}
}

func TestDiscoverFilesRespectsIgnoreDirs(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "target", "foo.rs"), "pub fn ignored() {}\n")
	writeFile(t, filepath.Join(repo, "node_modules", "bar.py"), "print('ignored')\n")
	writeFile(t, filepath.Join(repo, ".git", "thing.rs"), "pub fn ignored() {}\n")

	files, err := discoverFiles(repo)
	if err != nil {
		t.Fatalf("discoverFiles() err = %v", err)
	}
	if len(files) != 0 {
		t.Errorf("discoverFiles() = %+v, want empty", files)
	}
}

func TestDiscoverFilesFindsConfigFiles(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "Cargo.toml"), "[package]\nname = \"demo\"\n")

	files, err := discoverFiles(repo)
	if err != nil {
		t.Fatalf("discoverFiles() err = %v", err)
	}
	if len(files) != 1 || files[0].kind != kindConfig || files[0].relPath != "Cargo.toml" {
		t.Fatalf("discoverFiles() = %+v, want one Cargo.toml config candidate", files)
	}
}

func TestRunResolvesRustImports(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, "src", "helper.rs"), "pub fn helper() {}\n")
	writeFile(t, filepath.Join(repo, "src", "lib.rs"), "use crate::helper::helper;\nfn run() { helper(); }\n")
	s := newTestStore(t)

	if _, err := Run(context.Background(), s, repo, Options{}); err != nil {
		t.Fatalf("Run() err = %v", err)
	}

	path, err := s.DependencyPath("src/lib.rs", "src/helper.rs", 3)
	if err != nil {
		t.Fatalf("DependencyPath() err = %v", err)
	}
	if !path.Found {
		t.Errorf("DependencyPath(lib.rs -> helper.rs) not found, want resolved via crate::helper::helper")
	}
}
