// Package indexer orchestrates repository discovery and the per-file
// pipeline that turns source bytes into stored graph entities. It
// implements the discovery + upsert loop of §4.F: walk the tree once,
// diff against what the store already tracks, and parse/resolve/
// fingerprint only what changed.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/riverglass/codegraph/internal/extract"
	"github.com/riverglass/codegraph/internal/fingerprint"
	"github.com/riverglass/codegraph/internal/lang"
	"github.com/riverglass/codegraph/internal/resolve"
	"github.com/riverglass/codegraph/internal/runpath"
	"github.com/riverglass/codegraph/internal/store"
)

// indexableConfigFiles are bare file names that count as source even
// though they have no registered grammar — they still get a file entity
// and, when classifySpecialFile recognizes them, a "config"/"entrypoint"
// contains edge.
var indexableConfigFiles = map[string]bool{
	"Cargo.toml": true, "pyproject.toml": true, "setup.cfg": true,
	"package.json": true, "tsconfig.json": true, "go.mod": true,
	"build.gradle": true, "build.gradle.kts": true, "pom.xml": true,
	"composer.json": true, "Gemfile": true, "renv.lock": true,
	"requirements.txt": true, "Pipfile": true,
}

// IgnoreDirs are directory names never descended into during discovery,
// and never watched for filesystem events (see internal/watcher).
var IgnoreDirs = map[string]bool{
	".git": true, "target": true, "node_modules": true, "dist": true,
	"build": true, "venv": true, ".venv": true, "__pycache__": true,
	".mypy_cache": true, ".pytest_cache": true, runpath.StateDirName: true,
}

// configLanguageHint maps a recognized config/manifest file name to the
// language its presence signals, used only as metadata — these files are
// never parsed for definitions/references/imports.
func configLanguageHint(fileName string) lang.Language {
	switch fileName {
	case "Cargo.toml":
		return lang.Rust
	case "pyproject.toml", "setup.cfg", "requirements.txt", "Pipfile":
		return lang.Python
	case "package.json":
		return lang.JavaScript
	case "tsconfig.json":
		return lang.TypeScript
	case "go.mod":
		return lang.Go
	case "build.gradle", "build.gradle.kts":
		return lang.Kotlin
	case "pom.xml":
		return lang.Java
	case "Gemfile":
		return lang.Ruby
	default:
		return lang.JSON
	}
}

// candidateKind distinguishes a file with a registered grammar from a
// recognized config/manifest file parsed as metadata only.
type candidateKind int

const (
	kindSource candidateKind = iota
	kindConfig
)

type candidateFile struct {
	absPath string
	relPath string
	kind    candidateKind
	lang    lang.Language
}

// Options configures one indexing run.
type Options struct {
	// Full forces every discovered file to be re-read and re-indexed,
	// ignoring the stored content hash.
	Full bool
}

// Report summarizes the outcome of one indexing run.
type Report struct {
	RepoRoot      string
	IndexedFiles  int
	SkippedFiles  int
	RemovedFiles  int
	ParseFailures int
	Errors        []string
}

// hashedFile is the result of the concurrent read+hash pass: either
// Content, Hash and FastHash, or Err if the file could not be read.
type hashedFile struct {
	candidateFile
	content  []byte
	hash     string
	fastHash string
	err      error
}

// Run discovers every indexable file under repoRoot, removes stale
// entries for files that vanished or were excluded by options.Full, and
// upserts every changed file into s. Reading and hashing every candidate
// file is CPU/IO-bound and independent across files, so it runs
// concurrently across a bounded worker pool; the store write that
// follows stays strictly sequential, since Store is single-writer.
func Run(ctx context.Context, s *store.Store, repoRoot string, options Options) (*Report, error) {
	runStart := time.Now()

	discoverStart := time.Now()
	files, err := discoverFiles(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}
	slog.Info("pass.timing", "pass", "discover", "files", len(files), "elapsed_ms", time.Since(discoverStart).Milliseconds())

	currentPaths := make(map[string]bool, len(files))
	for _, f := range files {
		currentPaths[f.relPath] = true
	}

	tracked, err := s.TrackedFiles()
	if err != nil {
		return nil, fmt.Errorf("tracked files: %w", err)
	}

	var removed []string
	if options.Full {
		for path := range tracked {
			removed = append(removed, path)
		}
	} else {
		for path := range tracked {
			if !currentPaths[path] {
				removed = append(removed, path)
			}
		}
	}
	sort.Strings(removed)

	outcome := &store.UpsertOutcome{}
	if len(removed) > 0 {
		if err := s.RemoveFiles(removed, outcome); err != nil {
			return nil, fmt.Errorf("remove stale files: %w", err)
		}
	}

	// Every discovered file is read and hashed on every run, full or
	// incremental — content_hash equality is the sole skip predicate
	// (§9's design note explicitly rules out timestamp-based shortcuts).
	hashStart := time.Now()
	hashed, err := readAndHash(ctx, files)
	if err != nil {
		return nil, err
	}
	slog.Info("pass.timing", "pass", "read_and_hash", "files", len(hashed), "elapsed_ms", time.Since(hashStart).Milliseconds())

	upsertStart := time.Now()
	var errs []string
	parseFailures := 0

	existsFn := func(relPath string) bool {
		if currentPaths[relPath] {
			return true
		}
		_, statErr := os.Stat(filepath.Join(repoRoot, filepath.FromSlash(relPath)))
		return statErr == nil
	}

	for _, file := range hashed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if file.err != nil {
			errs = append(errs, fmt.Sprintf("%s: failed to read file: %v", file.relPath, file.err))
			continue
		}

		if !options.Full {
			existing, isTracked, err := s.TrackedFileHash(file.relPath)
			if err != nil {
				return nil, fmt.Errorf("tracked file hash %s: %w", file.relPath, err)
			}
			if isTracked && existing == file.hash {
				outcome.Skipped++
				continue
			}
		}

		var extraction *extract.FileExtraction
		if file.kind == kindSource {
			extraction, err = extract.Extract(file.lang, file.content)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: parse failed: %v", file.relPath, err))
				parseFailures++
				continue
			}
		} else {
			extraction = &extract.FileExtraction{Language: file.lang}
		}

		resolvedImports := resolveImports(file.relPath, extraction, existsFn)
		fps := fingerprint.Build(string(file.content))
		fpRows := make([]store.FingerprintRow, len(fps))
		for i, fp := range fps {
			fpRows[i] = store.FingerprintRow{Hash: fp.Hash, SpanStart: fp.Start, SpanEnd: fp.End}
		}

		if err := s.IndexFile(file.relPath, string(extraction.Language), file.hash, file.fastHash, int64(len(file.content)), extraction, fpRows, resolvedImports, outcome); err != nil {
			errs = append(errs, fmt.Sprintf("%s: index write failed: %v", file.relPath, err))
		}
	}

	slog.Info("pass.timing", "pass", "upsert", "elapsed_ms", time.Since(upsertStart).Milliseconds())
	slog.Info("pass.timing", "pass", "run", "elapsed_ms", time.Since(runStart).Milliseconds())

	return &Report{
		RepoRoot:      filepath.ToSlash(repoRoot),
		IndexedFiles:  outcome.Updated,
		SkippedFiles:  outcome.Skipped,
		RemovedFiles:  outcome.Removed,
		ParseFailures: parseFailures,
		Errors:        errs,
	}, nil
}

// readAndHash reads every candidate file's bytes and computes both its
// authoritative SHA-256 content hash and a cheap xxh3 digest concurrently,
// bounded to NumCPU workers. The xxh3 digest never gates the skip
// decision — it is stored alongside content_hash purely as a fast digest
// for tooling outside the indexing loop (duplicate-content checks,
// diagnostics) that would otherwise have to pay for a SHA-256 comparison.
// Per-file read errors are captured on the result rather than aborting
// the whole run.
func readAndHash(ctx context.Context, files []candidateFile) ([]hashedFile, error) {
	out := make([]hashedFile, len(files))
	for i, f := range files {
		out[i] = hashedFile{candidateFile: f}
	}

	workers := runtime.NumCPU()
	if workers > len(files) {
		workers = len(files)
	}
	if workers == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range files {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			content, err := os.ReadFile(out[i].absPath)
			if err != nil {
				out[i].err = err
				return nil
			}
			out[i].content = content
			out[i].hash = sha256Hex(content)
			out[i].fastHash = fmt.Sprintf("%016x", xxh3.Hash(content))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// resolveImports maps an extraction's raw import strings to repository-
// relative file paths using the importing file's language strategy, and
// pairs each resolved module string with the path it resolved to.
func resolveImports(relPath string, extraction *extract.FileExtraction, exists resolve.Exists) []store.ResolvedImport {
	if len(extraction.Imports) == 0 {
		return nil
	}
	modules := make([]string, len(extraction.Imports))
	for i, imp := range extraction.Imports {
		modules[i] = imp.Module
	}

	resolved := resolve.Resolve(relPath, extraction.Language, modules, exists)
	if len(resolved) == 0 {
		return nil
	}
	byModule := make(map[string]string, len(resolved))
	for _, r := range resolved {
		byModule[r.Import] = r.Path
	}

	out := make([]store.ResolvedImport, 0, len(resolved))
	for _, imp := range extraction.Imports {
		if path, ok := byModule[imp.Module]; ok {
			out = append(out, store.ResolvedImport{Module: imp.Module, ResolvedFile: path})
		}
	}
	return out
}

// discoverFiles walks repoRoot, skipping ignored directories, and
// classifies every file first by membership in indexableConfigFiles or,
// failing that, by its registered grammar extension or file name. Results are
// sorted by relative path for deterministic run-to-run ordering.
func discoverFiles(repoRoot string) ([]candidateFile, error) {
	var files []candidateFile

	err := filepath.Walk(repoRoot, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return filepath.SkipDir
		}
		if info.IsDir() {
			if path != repoRoot && IgnoreDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(repoRoot, path)
		if err != nil {
			return fmt.Errorf("strip repo prefix for %s: %w", path, err)
		}
		relPath := filepath.ToSlash(rel)
		name := info.Name()

		if indexableConfigFiles[name] {
			files = append(files, candidateFile{
				absPath: path,
				relPath: relPath,
				kind:    kindConfig,
				lang:    configLanguageHint(name),
			})
			return nil
		}

		ext := filepath.Ext(name)
		if l, ok := lang.LanguageForExtension(ext); ok {
			files = append(files, candidateFile{absPath: path, relPath: relPath, kind: kindSource, lang: l})
			return nil
		}
		if spec := lang.ForFileName(name); spec != nil {
			files = append(files, candidateFile{absPath: path, relPath: relPath, kind: kindSource, lang: spec.Language})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].relPath < files[j].relPath })
	return files, nil
}

func sha256Hex(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
