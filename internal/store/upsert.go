package store

import (
	"database/sql"
	"fmt"

	"github.com/riverglass/codegraph/internal/extract"
)

// UpsertOutcome tallies the result of an indexing pass across many files.
type UpsertOutcome struct {
	Updated int
	Removed int
	Skipped int
}

// TrackedFileHash returns the content_hash recorded for path, or ("", false)
// if the file has never been indexed — the incremental-indexing skip check.
func (s *Store) TrackedFileHash(path string) (string, bool, error) {
	var hash string
	err := s.q.QueryRow("SELECT content_hash FROM files WHERE path = ?", path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// TrackedFileFastHash returns the xxh3 fast_hash recorded for path, or
// ("", false) if the file was never indexed or was indexed before fast_hash
// existed. This digest never gates an indexing decision; it exists for
// tooling that wants a cheap content fingerprint without paying for a
// SHA-256 comparison (e.g. duplicate-content diagnostics).
func (s *Store) TrackedFileFastHash(path string) (string, bool, error) {
	var hash sql.NullString
	err := s.q.QueryRow("SELECT fast_hash FROM files WHERE path = ?", path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !hash.Valid {
		return "", false, nil
	}
	return hash.String, true, nil
}

// TrackedFiles returns the set of every file path currently recorded, used
// to compute the stale set during a full rescan.
func (s *Store) TrackedFiles() (map[string]bool, error) {
	rows, err := s.q.Query("SELECT path FROM files")
	if err != nil {
		return nil, fmt.Errorf("tracked files: %w", err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		out[path] = true
	}
	return out, rows.Err()
}

// RemoveFiles deletes every trace of the given paths — fingerprints, edges,
// entities, and the files row — then cleans up any entity left without an
// edge.
func (s *Store) RemoveFiles(paths []string, outcome *UpsertOutcome) error {
	err := s.WithTransaction(func(tx *Store) error {
		for _, path := range paths {
			if _, err := tx.q.Exec("DELETE FROM fingerprints WHERE file_path = ?", path); err != nil {
				return fmt.Errorf("remove fingerprints %s: %w", path, err)
			}
			if _, err := tx.q.Exec("DELETE FROM edges WHERE file_path = ?", path); err != nil {
				return fmt.Errorf("remove edges %s: %w", path, err)
			}
			if _, err := tx.q.Exec("DELETE FROM entities WHERE file_path = ? OR key = ?", path, FileKey(path)); err != nil {
				return fmt.Errorf("remove entities %s: %w", path, err)
			}
			if _, err := tx.q.Exec("DELETE FROM files WHERE path = ?", path); err != nil {
				return fmt.Errorf("remove file row %s: %w", path, err)
			}
			outcome.Removed++
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.cleanupOrphanEntities()
}

// ResolvedImport is an import string paired with the repository-relative
// file it resolved to.
type ResolvedImport struct {
	Module       string
	ResolvedFile string
}

// IndexFile replaces one file's contribution to the graph inside a single
// transaction: its fingerprints, non-file entities, and edges are deleted,
// the files row and file entity are upserted, then every definition,
// reference, raw import, and resolved import is written as entities and
// edges. Mirrors the delete-then-insert ordering of the reference storage
// layer so a re-index never leaves a stale edge behind.
func (s *Store) IndexFile(
	filePath, language, contentHash, fastHash string,
	sizeBytes int64,
	extraction *extract.FileExtraction,
	fingerprints []FingerprintRow,
	resolvedImports []ResolvedImport,
	outcome *UpsertOutcome,
) error {
	if err := s.indexFileTx(filePath, language, contentHash, fastHash, sizeBytes, extraction, fingerprints, resolvedImports, outcome); err != nil {
		return err
	}
	return s.cleanupOrphanEntities()
}

func (s *Store) indexFileTx(
	filePath, language, contentHash, fastHash string,
	sizeBytes int64,
	extraction *extract.FileExtraction,
	fingerprints []FingerprintRow,
	resolvedImports []ResolvedImport,
	outcome *UpsertOutcome,
) error {
	return s.WithTransaction(func(tx *Store) error {
		if _, err := tx.q.Exec("DELETE FROM fingerprints WHERE file_path = ?", filePath); err != nil {
			return fmt.Errorf("index file %s: clear fingerprints: %w", filePath, err)
		}
		if _, err := tx.q.Exec("DELETE FROM edges WHERE file_path = ?", filePath); err != nil {
			return fmt.Errorf("index file %s: clear edges: %w", filePath, err)
		}
		if _, err := tx.q.Exec("DELETE FROM entities WHERE file_path = ? AND entity_type != 'file'", filePath); err != nil {
			return fmt.Errorf("index file %s: clear entities: %w", filePath, err)
		}

		fastHashVal := sql.NullString{}
		if fastHash != "" {
			fastHashVal = sql.NullString{String: fastHash, Valid: true}
		}
		_, err := tx.q.Exec(`
			INSERT INTO files(path, lang, content_hash, fast_hash, size_bytes, indexed_at)
			VALUES(?, ?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				lang=excluded.lang, content_hash=excluded.content_hash,
				fast_hash=excluded.fast_hash,
				size_bytes=excluded.size_bytes, indexed_at=excluded.indexed_at`,
			filePath, language, contentHash, fastHashVal, sizeBytes, Now())
		if err != nil {
			return fmt.Errorf("index file %s: upsert files row: %w", filePath, err)
		}

		langVal := sql.NullString{String: language, Valid: true}
		fileVal := sql.NullString{String: filePath, Valid: true}

		fileEntityID, err := tx.EnsureEntity("file", FileKey(filePath), filePath, langVal, fileVal,
			sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{},
			map[string]any{"kind": "source"})
		if err != nil {
			return err
		}

		symbolNameEntities := make(map[string]int64)
		ensureSymbolName := func(name string) (int64, error) {
			if id, ok := symbolNameEntities[name]; ok {
				return id, nil
			}
			id, err := tx.EnsureEntity("symbol_name", SymbolNameKey(language, name), name,
				langVal, sql.NullString{}, sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, nil)
			if err != nil {
				return 0, err
			}
			symbolNameEntities[name] = id
			return id, nil
		}

		for _, def := range extraction.Definitions {
			symbolKey := fmt.Sprintf("symbol:%s:%s:%s:%d:%d", filePath, def.Qualname, def.Kind, def.Line, def.Col)
			symbolEntityID, err := tx.EnsureEntity("symbol", symbolKey, def.Name, langVal, fileVal,
				intVal(def.Line), intVal(def.Col), intVal(def.EndLine), intVal(def.EndCol),
				map[string]any{"qualname": def.Qualname, "kind": def.Kind, "is_definition": true})
			if err != nil {
				return err
			}
			if err := tx.InsertEdge(fileEntityID, symbolEntityID, "defines", fileVal, intVal(def.Line), intVal(def.Col), nil); err != nil {
				return err
			}

			nameEntityID, err := ensureSymbolName(def.Name)
			if err != nil {
				return err
			}
			if err := tx.InsertEdge(symbolEntityID, nameEntityID, "names", fileVal, intVal(def.Line), intVal(def.Col), nil); err != nil {
				return err
			}
		}

		for _, ref := range extraction.References {
			nameEntityID, err := ensureSymbolName(ref.Name)
			if err != nil {
				return err
			}
			meta := map[string]any{"end_line": ref.EndLine, "end_col": ref.EndCol}
			if err := tx.InsertEdge(fileEntityID, nameEntityID, ref.Kind.EdgeType(), fileVal, intVal(ref.Line), intVal(ref.Col), meta); err != nil {
				return err
			}
		}

		for _, imp := range extraction.Imports {
			moduleEntityID, err := tx.EnsureEntity("module", ModuleKey(language, imp.Module), imp.Module,
				langVal, sql.NullString{}, sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, nil)
			if err != nil {
				return err
			}
			if err := tx.InsertEdge(fileEntityID, moduleEntityID, "imports", fileVal, intVal(imp.Line), intVal(imp.Col), nil); err != nil {
				return err
			}
		}

		for _, ri := range resolvedImports {
			moduleEntityID, err := tx.EnsureEntity("module", ModuleKey(language, ri.Module), ri.Module,
				langVal, sql.NullString{}, sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, nil)
			if err != nil {
				return err
			}
			resolvedFileID, err := tx.EnsureEntity("file", FileKey(ri.ResolvedFile), ri.ResolvedFile,
				langVal, sql.NullString{String: ri.ResolvedFile, Valid: true},
				sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{},
				map[string]any{"kind": "source"})
			if err != nil {
				return err
			}
			if err := tx.InsertEdge(moduleEntityID, resolvedFileID, "resolves_to", fileVal, sql.NullInt64{}, sql.NullInt64{}, nil); err != nil {
				return err
			}
			if err := tx.InsertEdge(fileEntityID, resolvedFileID, "depends_on", fileVal, sql.NullInt64{}, sql.NullInt64{},
				map[string]any{"via": ri.Module}); err != nil {
				return err
			}
		}

		if entityType, ok := classifySpecialFile(filePath); ok {
			specialID, err := tx.EnsureEntity(entityType, entityType+":"+filePath, filePath, langVal, fileVal,
				sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, nil)
			if err != nil {
				return err
			}
			if err := tx.InsertEdge(fileEntityID, specialID, "contains", fileVal, sql.NullInt64{}, sql.NullInt64{}, nil); err != nil {
				return err
			}
		}

		for _, fp := range fingerprints {
			if _, err := tx.q.Exec(
				"INSERT INTO fingerprints(file_path, fp_hash, span_start, span_end) VALUES(?, ?, ?, ?)",
				filePath, fp.Hash, fp.SpanStart, fp.SpanEnd,
			); err != nil {
				return fmt.Errorf("index file %s: insert fingerprint: %w", filePath, err)
			}
		}

		outcome.Updated++
		return nil
	})
}

// FingerprintRow is one winnowed fingerprint as stored: hash and token span.
type FingerprintRow struct {
	Hash      int64
	SpanStart int
	SpanEnd   int
}

func intVal(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: true}
}

// cleanupOrphanEntities removes symbol_name/module entities left with no
// edge after a delete-heavy transaction — the only entity types that
// outlive the file whose definitions or imports created them.
func (s *Store) cleanupOrphanEntities() error {
	_, err := s.db.Exec(`
		DELETE FROM entities
		WHERE entity_type IN ('symbol_name', 'module')
		  AND id NOT IN (SELECT src_entity_id FROM edges)
		  AND id NOT IN (SELECT dst_entity_id FROM edges)`)
	return err
}
