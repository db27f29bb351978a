// Package runpath resolves the three paths every command needs: the
// repository root, its state directory, and the graph database file —
// each independently overridable. Grounded on original_source/paths.rs.
package runpath

import (
	"fmt"
	"os"
	"path/filepath"
)

// StateDirName is the default state directory created under the
// discovered repository root.
const StateDirName = ".codegraph"

// DefaultDBFile is the default graph database file name inside the state
// directory.
const DefaultDBFile = "graph.db"

// Paths holds the three resolved, absolute paths a command operates on.
type Paths struct {
	RepoRoot string
	StateDir string
	DBPath   string
}

// Resolve computes Paths from a repo hint (typically the current working
// directory) and optional overrides for the state directory and database
// path. An override always wins; absent one, the state directory defaults
// to <repo_root>/.codegraph and the database to <state_dir>/graph.db.
func Resolve(repoHint, stateDirOverride, dbOverride string) (*Paths, error) {
	repoRoot, err := DiscoverRepoRoot(repoHint)
	if err != nil {
		return nil, err
	}

	stateDir := filepath.Join(repoRoot, StateDirName)
	if stateDirOverride != "" {
		stateDir, err = absolutize(stateDirOverride)
		if err != nil {
			return nil, err
		}
	}

	dbPath := filepath.Join(stateDir, DefaultDBFile)
	if dbOverride != "" {
		dbPath, err = absolutize(dbOverride)
		if err != nil {
			return nil, err
		}
	}

	return &Paths{RepoRoot: repoRoot, StateDir: stateDir, DBPath: dbPath}, nil
}

// EnsureLayout creates the state directory and the database file's parent
// directory if they don't already exist.
func EnsureLayout(p *Paths) error {
	if err := os.MkdirAll(p.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir %s: %w", p.StateDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(p.DBPath), 0o755); err != nil {
		return fmt.Errorf("create db parent %s: %w", filepath.Dir(p.DBPath), err)
	}
	return nil
}

// DiscoverRepoRoot walks up from repoHint looking for a .git directory,
// returning the absolutized starting point if none is found.
func DiscoverRepoRoot(repoHint string) (string, error) {
	start, err := absolutize(repoHint)
	if err != nil {
		return "", err
	}

	cursor := start
	if info, statErr := os.Stat(start); statErr == nil && !info.IsDir() {
		cursor = filepath.Dir(start)
	}

	for {
		if _, err := os.Stat(filepath.Join(cursor, ".git")); err == nil {
			return cursor, nil
		}
		parent := filepath.Dir(cursor)
		if parent == cursor {
			return start, nil
		}
		cursor = parent
	}
}

func absolutize(path string) (string, error) {
	var candidate string
	if filepath.IsAbs(path) {
		candidate = path
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("read working directory: %w", err)
		}
		candidate = filepath.Join(cwd, path)
	}

	if _, err := os.Stat(candidate); err == nil {
		if real, err := filepath.EvalSymlinks(candidate); err == nil {
			return real, nil
		}
	}
	return filepath.Clean(candidate), nil
}
